package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibeckermayer/notedraft/internal/logx"
)

// ShutdownGrace bounds how long Run waits for running jobs after a stop signal.
const ShutdownGrace = 2 * time.Minute

// Run starts the app and blocks until ctx ends or SIGINT/SIGTERM arrives.
// SIGHUP reloads the config and re-reads schedules from the store.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			a.log.Info("SIGHUP received, reloading")
			if err := a.ReloadConfig(); err != nil {
				a.log.Error("reload config", logx.Err(err))
			}
			if _, err := a.engine.Sync(ctx); err != nil {
				a.log.Error("sync schedules", logx.Err(err))
			}
		}
	}

	a.log.Info("shutting down", logx.Duration("grace", ShutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownGrace)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}
