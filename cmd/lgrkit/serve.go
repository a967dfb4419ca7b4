package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/lgraccess/config"
	"github.com/c360/lgraccess/health"
	"github.com/c360/lgraccess/metric"
	"github.com/c360/lgraccess/output/websocket"
	"github.com/c360/lgraccess/pkg/tlsutil"
)

type serveOptions struct {
	save bool
}

func newServeCommand(flags *CLIConfig, stdout, stderr io.Writer) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the configured sources and serve websocket clients",
		Long: `serve starts every configured source, exposes Prometheus metrics and
/health on the metrics address and streams records to websocket clients.
It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := flags.logger(cfg, stdout)
			return runServe(cmd.Context(), flags, opts, cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&opts.save, "save",
		getEnvBool("LGRKIT_SAVE", false),
		"Write the sources and their properties back to the config file on exit (env: LGRKIT_SAVE)")
	return cmd
}

func runServe(ctx context.Context, flags *CLIConfig, opts *serveOptions, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		_ = a.stop(flags.ShutdownTimeout)
		return err
	}
	logger.Info("Sources started", "count", len(a.sources))

	var ws *websocket.Server
	if cfg.Websocket.Enabled {
		ws, err = websocket.New(cfg.Websocket.Config, a.manager, a.registry, logger)
		if err == nil {
			var tlsConfig *tls.Config
			if tlsConfig, err = tlsutil.LoadServerTLSConfig(cfg.TLS.Server); err == nil {
				ws.SetTLSConfig(tlsConfig)
				err = ws.Start()
			}
		}
		if err != nil {
			_ = a.stop(flags.ShutdownTimeout)
			return fmt.Errorf("start websocket server: %w", err)
		}
		logger.Info("Websocket server listening", "addr", ws.Addr(), "path", cfg.Websocket.Path)
	}

	report := func() health.Status {
		subs := []health.Status{a.manager.Health()}
		if ws != nil {
			subs = append(subs, ws.Health())
		}
		return health.Aggregate(appName, subs)
	}

	g, gctx := errgroup.WithContext(ctx)

	var metrics *metric.Server
	if cfg.Metrics.Enabled {
		metrics = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, a.registry)
		metrics.Handle("/health", health.Handler(report))
		g.Go(func() error {
			logger.Info("Metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			return metrics.Start()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "timeout", flags.ShutdownTimeout)
		return shutdown(flags, opts, cfg, a, ws, metrics, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// shutdown stops the outer surfaces first so no new request arrives while the
// sources stop
func shutdown(flags *CLIConfig, opts *serveOptions, cfg *config.Config, a *app,
	ws *websocket.Server, metrics *metric.Server, logger *slog.Logger,
) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if ws != nil {
		keep(ws.Stop(flags.ShutdownTimeout))
	}

	if opts.save {
		ctx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
		var snap *config.Config
		keep(a.call(ctx, func() { snap = cfg.Snapshot(a.manager) }))
		cancel()
		if snap != nil {
			if err := snap.SaveToFile(flags.ConfigPath); err != nil {
				keep(err)
			} else {
				logger.Info("Configuration saved", "path", flags.ConfigPath)
			}
		}
	}

	keep(a.stop(flags.ShutdownTimeout))

	if metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		keep(metrics.Stop(ctx))
		cancel()
	}
	return firstErr
}
