package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lazyd/internal/config"
	"lazyd/pkg/types"
)

const (
	stopGrace     = 2 * time.Second
	probeTimeout  = 1 * time.Second
	stderrTailLen = 4096
)

// ProcessConfig describes how to spawn one worker server.
type ProcessConfig struct {
	WorkerID      string
	ModelPath     string
	ContextLength int
	// Command is the server binary. Args may reference {model_path}, {host},
	// {port} and {context_length}; when empty a llama-server style argument
	// list is used. ExtraArgs are appended after Args.
	Command      string
	Args         []string
	ExtraArgs    []string
	Host         string
	PortStart    int
	PortEnd      int
	ReadyTimeout time.Duration
	Logger       *zerolog.Logger
}

// NewFactory returns a Factory that spawns workers according to rt.
func NewFactory(rt config.RuntimeConfig, logger *zerolog.Logger) Factory {
	return func(wc config.WorkerConfig) Handle {
		return NewProcess(ProcessConfig{
			WorkerID:      wc.ModelID,
			ModelPath:     wc.ModelPath,
			ContextLength: wc.ContextLength,
			Command:       rt.Command,
			Args:          rt.Args,
			ExtraArgs:     wc.Args,
			Host:          rt.Host,
			PortStart:     rt.PortStart,
			PortEnd:       rt.PortEnd,
			ReadyTimeout:  time.Duration(rt.ReadyTimeout) * time.Second,
			Logger:        logger,
		})
	}
}

// Process is a Handle backed by a child process serving the OpenAI-compatible
// completions API on a local port.
type Process struct {
	cfg ProcessConfig
	id  string
	log zerolog.Logger
	// Timeout=0: every call carries a context deadline instead.
	httpClient *http.Client

	mu      sync.Mutex
	started bool
	closed  bool
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
	stderr  *tailBuffer
	baseURL string
	port    int
	adm     *Admission
}

// NewProcess constructs an unstarted process handle.
func NewProcess(cfg ProcessConfig) *Process {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = config.DefaultWorkerHost
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = config.DefaultReadyTimeout * time.Second
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	id := uuid.NewString()
	return &Process{
		cfg:        cfg,
		id:         id,
		log:        l.With().Str("worker_id", cfg.WorkerID).Str("instance_id", id).Logger(),
		httpClient: &http.Client{Timeout: 0},
	}
}

func (p *Process) InstanceID() string { return p.id }

// BaseURL returns the server URL once started.
func (p *Process) BaseURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseURL
}

// Start spawns the server and waits until /v1/models answers. A failed start
// leaves the handle closed.
func (p *Process) Start(ctx context.Context, qc QueueConfig) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrHandleClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	if p.cmd != nil {
		p.mu.Unlock()
		return errors.New("worker start already in progress")
	}
	if strings.TrimSpace(p.cfg.Command) == "" {
		p.closed = true
		p.mu.Unlock()
		return errors.New("worker command is not configured")
	}

	var (
		port int
		err  error
	)
	if p.cfg.PortStart > 0 && p.cfg.PortEnd >= p.cfg.PortStart {
		port, err = pickPortInRange(p.cfg.Host, p.cfg.PortStart, p.cfg.PortEnd)
	} else {
		port, err = pickFreePort(p.cfg.Host)
	}
	if err != nil {
		p.closed = true
		p.mu.Unlock()
		return err
	}
	args := p.buildArgs(port)
	cmd := exec.Command(p.cfg.Command, args...)
	stderr := &tailBuffer{max: stderrTailLen}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		p.closed = true
		p.mu.Unlock()
		return fmt.Errorf("start worker %s: %w", p.cfg.WorkerID, err)
	}
	p.cmd = cmd
	p.stderr = stderr
	p.port = port
	p.baseURL = fmt.Sprintf("http://%s", net.JoinHostPort(p.cfg.Host, strconv.Itoa(port)))
	p.exited = make(chan struct{})
	go func(exited chan struct{}) {
		werr := cmd.Wait()
		p.mu.Lock()
		p.exitErr = werr
		p.mu.Unlock()
		close(exited)
	}(p.exited)
	baseURL, exited := p.baseURL, p.exited
	p.mu.Unlock()

	p.log.Info().Str("event", "spawn_start").Int("pid", cmd.Process.Pid).Int("port", port).Msg("worker spawned")
	t0 := time.Now()
	if err := p.waitReady(ctx, baseURL, exited); err != nil {
		p.log.Warn().Str("event", "spawn_failed").Err(err).Dur("dur", time.Since(t0)).Msg("worker did not become ready")
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.terminate(exited)
		return err
	}

	p.mu.Lock()
	if p.closed {
		// Cleanup raced with the readiness wait.
		p.mu.Unlock()
		return ErrHandleClosed
	}
	p.started = true
	p.adm = NewAdmission(qc)
	p.mu.Unlock()
	p.log.Info().Str("event", "spawn_ready").Dur("dur", time.Since(t0)).Str("url", baseURL).Msg("worker ready")
	return nil
}

func (p *Process) waitReady(ctx context.Context, baseURL string, exited <-chan struct{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = p.cfg.ReadyTimeout

	var early error
	op := func() error {
		select {
		case <-exited:
			p.mu.Lock()
			werr := p.exitErr
			p.mu.Unlock()
			if werr == nil {
				werr = errors.New("exited cleanly")
			}
			early = fmt.Errorf("worker %s exited before ready: %v; stderr tail: %s", p.cfg.WorkerID, werr, p.stderr.String())
			return backoff.Permanent(early)
		default:
		}
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		return probeModels(pctx, p.httpClient, baseURL)
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case early != nil:
		return early
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("worker %s not ready within %s: %w", p.cfg.WorkerID, p.cfg.ReadyTimeout, err)
	}
}

func (p *Process) buildArgs(port int) []string {
	r := strings.NewReplacer(
		"{model_path}", p.cfg.ModelPath,
		"{host}", p.cfg.Host,
		"{port}", strconv.Itoa(port),
		"{context_length}", strconv.Itoa(p.cfg.ContextLength),
	)
	var args []string
	if len(p.cfg.Args) == 0 {
		args = []string{"-m", p.cfg.ModelPath, "--host", p.cfg.Host, "--port", strconv.Itoa(port)}
		if p.cfg.ContextLength > 0 {
			args = append(args, "-c", strconv.Itoa(p.cfg.ContextLength))
		}
	} else {
		for _, a := range p.cfg.Args {
			args = append(args, r.Replace(a))
		}
	}
	for _, a := range p.cfg.ExtraArgs {
		args = append(args, r.Replace(a))
	}
	return args
}

// Cleanup stops the child process (SIGTERM, then kill after a grace period)
// and closes the handle. Safe to call more than once.
func (p *Process) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.started = false
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return nil
	}
	p.terminate(exited)
	p.log.Info().Str("event", "spawn_stop").Msg("worker stopped")
	return nil
}

func (p *Process) terminate(exited <-chan struct{}) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-exited:
		return
	default:
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-exited
	}
}

func (p *Process) ready() (string, *Admission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", nil, ErrHandleClosed
	}
	if !p.started {
		return "", nil, ErrNotStarted
	}
	return p.baseURL, p.adm, nil
}

func (p *Process) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	return p.GenerateStream(ctx, req, nil)
}

func (p *Process) GenerateStream(ctx context.Context, req types.GenerateRequest, onChunk func(string) error) (types.GenerateResult, error) {
	baseURL, adm, err := p.ready()
	if err != nil {
		return types.GenerateResult{}, err
	}
	release, err := adm.Acquire(ctx)
	if err != nil {
		return types.GenerateResult{}, err
	}
	defer release()
	return streamCompletion(ctx, p.httpClient, baseURL, req, onChunk)
}

// QueueStats reports admission counters and the process identity. RSS is
// best effort.
func (p *Process) QueueStats(ctx context.Context) (types.QueueStats, error) {
	p.mu.Lock()
	adm, started, port := p.adm, p.started, p.port
	pid := 0
	if p.cmd != nil && p.cmd.Process != nil {
		pid = p.cmd.Process.Pid
	}
	p.mu.Unlock()

	st := types.QueueStats{InstanceID: p.id}
	if !started || adm == nil {
		return st, nil
	}
	st.ActiveRequests, st.QueuedRequests, st.TotalRequests = adm.Stats()
	st.MaxConcurrency, st.QueueSize = adm.Capacity()
	st.PID, st.Port = pid, port
	if rss, err := processRSS(ctx, pid); err == nil {
		st.RSSBytes = rss
	} else {
		p.log.Debug().Err(err).Int("pid", pid).Msg("rss lookup failed")
	}
	return st, nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(b)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
