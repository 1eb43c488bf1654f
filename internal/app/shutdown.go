package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/version"
)

const closeTimeout = 10 * time.Second

// Start launches the scheduler and the HTTP listener and announces the
// deploy. Initialize must have succeeded.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return errors.New("application is not initialized")
	}
	if a.started {
		return errors.New("application already started")
	}

	if err := a.scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			_ = a.scheduler.Stop()
			return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
		}
		a.serveErr = make(chan error, 1)
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.serveErr <- err
			}
		}()
		a.logger.Info("http server listening", logger.String("addr", ln.Addr().String()))
	}

	a.notifier.Deploy(version.Version, "started", a.config.App.Environment, version.DeployDetails())
	a.started = true
	return nil
}

// Shutdown stops every component in order:
//  1. the scheduler, so no new runs are queued
//  2. the HTTP listener
//  3. the worker pool, draining in-flight runs until ctx expires
//  4. the deploy notification and the notifier queue
//  5. background loops, tracing, cache and store
//
// It is safe to call on a partially initialized App and more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.scheduler != nil && a.scheduler.IsStarted() {
		if err := a.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if a.server != nil && a.started {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}
	if a.workerPool != nil {
		if err := a.workerPool.Shutdown(ctx); err != nil {
			a.logger.Warn("in-flight runs were cancelled at shutdown",
				logger.Int("in_flight", a.orchestrator.InFlight()))
			errs = append(errs, fmt.Errorf("drain worker pool: %w", err))
		}
	}

	if a.notifier != nil {
		if a.started {
			a.notifier.Deploy(version.Version, "stopped", a.config.App.Environment, version.DeployDetails())
		}
		if err := a.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush notifications: %w", err))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.bg.Wait()

	if a.traces != nil {
		if err := a.traces(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}

	a.started = false
	a.initialized = false
	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// Close releases everything with a bounded wait. It is meant for command
// paths that never called Start.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		a.logger.Error("shutdown finished with errors", err)
	}
}
