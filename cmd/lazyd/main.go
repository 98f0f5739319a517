package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lazyd/internal/common/logutil"
	"lazyd/internal/config"
	"lazyd/internal/httpapi"
	"lazyd/internal/manager"
	"lazyd/internal/worker"
)

type options struct {
	configPath   string
	addr         string
	logLevel     string
	logFormat    string
	adminToken   string
	corsOrigins  string
	inferTimeout int64
	maxBodyBytes int64
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "lazyd",
		Short:         "Serve model workers behind stable ids with lazy activation and a lifecycle control API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	f := root.Flags()
	f.StringVar(&opts.configPath, "config", envOr("LAZYD_CONFIG", "lazyd.yaml"), "Server config file (.yaml, .json, .toml); defaults to LAZYD_CONFIG")
	f.StringVar(&opts.addr, "addr", os.Getenv("LAZYD_ADDR"), "HTTP listen address, e.g. :8787; overrides the config file")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	f.StringVar(&opts.logFormat, "log-format", "json", "Log format: json|console")
	f.StringVar(&opts.adminToken, "admin-token", os.Getenv("LAZYD_ADMIN_TOKEN"), "Bearer token required by /v1/admin routes; overrides the config file")
	f.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated CORS origins; enables CORS when set")
	f.Int64Var(&opts.inferTimeout, "infer-timeout", 0, "Maximum seconds an /infer request may run (0 disables)")
	f.Int64Var(&opts.maxBodyBytes, "max-body-bytes", httpapi.DefaultMaxBodyBytes, "Maximum JSON request body size")
	return root
}

// applyFlags lets command-line values override the config file.
func applyFlags(cfg *config.ServerConfig, opts *options) {
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.adminToken != "" {
		cfg.AdminToken = opts.adminToken
	}
	if origins := splitCSV(opts.corsOrigins); len(origins) > 0 {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = origins
	}
	if cfg.CORS.Enabled {
		if len(cfg.CORS.Methods) == 0 {
			cfg.CORS.Methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		}
		if len(cfg.CORS.Headers) == 0 {
			cfg.CORS.Headers = []string{"Content-Type", "Authorization"}
		}
	}
}

func run(ctx context.Context, opts *options) error {
	logger, err := logutil.Setup(opts.logLevel, opts.logFormat, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(&cfg, opts)

	httpapi.SetLogger(logger)
	httpapi.ApplyServerConfig(cfg)
	httpapi.SetInferTimeout(time.Duration(opts.inferTimeout) * time.Second)
	httpapi.SetMaxBodyBytes(opts.maxBodyBytes)

	mgrLog := logger.With().Str("component", "manager").Logger()
	workerLog := logger.With().Str("component", "worker").Logger()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Source:       config.FileSource{Path: opts.configPath},
		Factory:      worker.NewFactory(cfg.Runtime, &workerLog),
		DefaultModel: cfg.DefaultModel,
		AutoLoad:     !cfg.DisableAutoLoad,
		Logger:       &mgrLog,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("workers", len(cfg.Models)).Str("config", opts.configPath).Msg("lazyd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Eager workers start while /readyz reports loading.
	bootErr := make(chan error, 1)
	go func() { bootErr <- mgr.Bootstrap(baseCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
	case err := <-bootErr:
		if err != nil {
			runErr = fmt.Errorf("bootstrap: %w", err)
			break
		}
		logger.Info().Msg("bootstrap complete")
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			runErr = fmt.Errorf("server error: %w", err)
		}
	}
	shutdown(srv, mgr, cancelBase, logger)
	return runErr
}

func shutdown(srv *http.Server, mgr *manager.Manager, cancelBase context.CancelFunc, logger zerolog.Logger) {
	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := mgr.Shutdown(cctx); err != nil {
		logger.Warn().Err(err).Msg("worker cleanup error")
	}
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lazyd:", err)
		os.Exit(1)
	}
}
