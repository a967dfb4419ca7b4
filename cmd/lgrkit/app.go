package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/config"
	"github.com/c360/lgraccess/metric"
	"github.com/c360/lgraccess/uri"
)

// waiter is implemented by sources whose workers outlive Stop
type waiter interface {
	Wait(timeout time.Duration) bool
}

// app owns the loop, the manager and the configured sources of one command
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	loop     *access.Loop
	manager  *access.Manager
	sources  []access.Source

	cancelLoop context.CancelFunc
	loopDone   chan error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	builders, err := cfg.Builders()
	if err != nil {
		return nil, err
	}
	registry := metric.NewMetricsRegistry()
	loop := access.NewLoop(
		access.WithLoopLogger(logger.With("component", "loop")),
		access.WithLoopMetrics(registry.CoreMetrics()),
	)
	manager := access.NewManager(loop,
		access.WithLogger(logger.With("component", "manager")),
		access.WithMetrics(registry),
	)

	sources, err := cfg.BuildSources(builders, logger)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		loop:     loop,
		manager:  manager,
		sources:  sources,
	}, nil
}

// start runs the loop on its own goroutine, then registers and starts every
// source on it
func (a *app) start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancelLoop = cancel
	a.loopDone = make(chan error, 1)
	go func() { a.loopDone <- a.loop.Run(loopCtx) }()

	var err error
	if callErr := a.loop.Call(ctx, func() {
		for _, s := range a.sources {
			if err = a.manager.AddSource(s); err != nil {
				return
			}
		}
		err = a.manager.Start()
	}); callErr != nil {
		return callErr
	}
	if err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	return nil
}

// call runs fn on the loop and waits for it
func (a *app) call(ctx context.Context, fn func()) error {
	return a.loop.Call(ctx, fn)
}

// stop stops the manager, waits for source workers and ends the loop, all
// within timeout
func (a *app) stop(timeout time.Duration) error {
	if a.cancelLoop == nil {
		return nil
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	var stopErr error
	if err := a.loop.Call(ctx, func() {
		if a.manager.IsStarted() {
			stopErr = a.manager.Stop()
		}
	}); err != nil {
		stopErr = err
	}

	for _, s := range a.sources {
		w, ok := s.(waiter)
		if !ok {
			continue
		}
		if !w.Wait(time.Until(deadline)) {
			a.logger.Warn("Source workers still running at shutdown", "source", s.Name())
		}
	}

	a.cancelLoop()
	select {
	case <-a.loopDone:
	case <-ctx.Done():
		a.logger.Warn("Loop did not exit before shutdown timeout")
	}
	a.cancelLoop = nil
	return stopErr
}

// waitConnected polls until the named source reports a connection
func (a *app) waitConnected(ctx context.Context, name string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		var found, connected bool
		if err := a.call(ctx, func() {
			if s := a.manager.Source(name); s != nil {
				found, connected = true, s.IsConnected()
			}
		}); err != nil {
			return fmt.Errorf("wait for %s: %w", name, err)
		}
		if !found {
			return fmt.Errorf("unknown source: %s", name)
		}
		if connected {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("source %s did not connect: %w", name, context.Cause(ctx))
		case <-ticker.C:
		}
	}
}

// sourceOf returns the source named by the first segment of u
func (a *app) sourceOf(ctx context.Context, u string) (access.Source, error) {
	name, _, err := uri.Split(u)
	if err != nil {
		return nil, err
	}
	if err := a.waitConnected(ctx, name); err != nil {
		return nil, err
	}
	var s access.Source
	if err := a.call(ctx, func() { s = a.manager.Source(name) }); err != nil {
		return nil, err
	}
	return s, nil
}
