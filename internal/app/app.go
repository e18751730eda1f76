package app

import (
	"context"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start(errCh chan<- error) error
	Shutdown(ctx context.Context) error
}

// Background runs until ctx is canceled, e.g. the stats persister
type Background interface {
	Run(ctx context.Context)
}

type App struct {
	log     logger.Logger
	httpSrv HTTPServer
	bg      []Background

	cancel context.CancelFunc
	done   chan struct{}
}

func New(log logger.Logger, httpSrv HTTPServer, bg ...Background) *App {
	return &App{log: log, httpSrv: httpSrv, bg: bg}
}

// Start serves HTTP and launches background loops. Serve errors after start arrive on errCh.
func (a *App) Start(errCh chan<- error) error {
	a.log.Debug("App started begin...")

	if err := a.httpSrv.Start(errCh); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)
		finished := make(chan struct{}, len(a.bg))
		for _, b := range a.bg {
			go func(b Background) {
				b.Run(ctx)
				finished <- struct{}{}
			}(b)
		}
		for range a.bg {
			<-finished
		}
	}()

	a.log.Info("App started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stopped begin...")

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.log.Info("App stopped")
	return nil
}
