package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lazyd/internal/common/logutil"
	"lazyd/internal/config"
	"lazyd/internal/watchdog"
)

type options struct {
	configPath  string
	baseURL     string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	opts := &options{configPath: "watchdog.yaml"}
	if v := os.Getenv("IDLEWATCH_CONFIG"); v != "" {
		opts.configPath = v
	}
	root := &cobra.Command{
		Use:           "idlewatch",
		Short:         "Unload lazyd workers that have been idle longer than their timeout",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	f := root.Flags()
	f.StringVar(&opts.configPath, "config", opts.configPath, "Watchdog config file (.yaml, .json, .toml); defaults to IDLEWATCH_CONFIG")
	f.StringVar(&opts.baseURL, "base-url", "", "lazyd base URL; overrides the config file")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	f.StringVar(&opts.logFormat, "log-format", "json", "Log format: json|console")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /healthz, /metrics and /status on this address; overrides the config file")
	return root
}

func run(ctx context.Context, opts *options) error {
	logger, err := logutil.Setup(opts.logLevel, opts.logFormat, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.LoadWatchdog(opts.configPath)
	if err != nil {
		return fmt.Errorf("load watchdog config: %w", err)
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
		cfg.ApplyDefaults()
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	wd, err := watchdog.New(watchdog.Config{
		Client:      watchdog.NewClient(cfg.BaseURL, cfg.AdminToken, cfg.CallTimeout()),
		Models:      cfg.Models,
		Interval:    cfg.Interval(),
		Parallelism: cfg.Parallelism,
		Logger:      &logger,
	})
	if err != nil {
		return err
	}
	logger.Info().Str("base_url", cfg.BaseURL).Int("check_interval", cfg.CheckInterval).Msg("idlewatch configured")

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: watchdog.NewStatusMux(wd), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("status server error")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}
	return wd.Run(ctx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "idlewatch:", err)
		os.Exit(1)
	}
}
