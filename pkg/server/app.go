package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketPulse/internal/handler/ws"
	"MarketPulse/internal/repository"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	monitor  *usecase.MarketMonitor
	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler
	http     *xhttp.Server
	hub      *ws.Hub
	bus      *eventbus.Bus
	lock     *repository.InstanceLock

	consuming bool
}

// New creates a new App. consumer, kh and lock may be nil.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	monitor *usecase.MarketMonitor,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	bus *eventbus.Bus,
	lock *repository.InstanceLock,
) *App {
	return &App{
		cfg:      cfg,
		log:      log.Component("app"),
		monitor:  monitor,
		consumer: consumer,
		kh:       kh,
		http:     httpServer,
		hub:      hub,
		bus:      bus,
		lock:     lock,
	}
}

// Run starts every component and blocks until ctx is done or the instance
// lock is lost, then shuts down in reverse order. A configuration error at
// monitor start is returned after the components already started are stopped.
func (a *App) Run(ctx context.Context) error {
	var lost <-chan struct{}
	if a.lock != nil {
		if err := a.lock.Acquire(ctx); err != nil {
			return err
		}
		lost = a.lock.Lost()
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()

	var runErr error
	started := a.start(ctx)
	if started != nil {
		runErr = started
	} else {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
		case <-lost:
			runErr = errors.New("instance lock lost")
			a.log.Error("instance lock lost, stopping")
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.shutdown(shutdownCtx)

	stopHub()
	<-hubDone
	a.bus.Close()

	if a.lock != nil {
		if err := a.lock.Release(shutdownCtx); err != nil {
			a.log.Warn("instance lock release", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
	return runErr
}

func (a *App) start(ctx context.Context) error {
	if a.cfg.Monitor.AutoStart {
		if err := a.monitor.Start(ctx); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
	} else {
		a.log.Info("monitor auto start disabled, config change consumer not started")
	}

	// config notices only matter to a running monitor
	if a.cfg.Monitor.AutoStart && a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.consuming = true
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	return nil
}

// shutdown stops intake first so nothing triggers a Sync on a stopped monitor.
func (a *App) shutdown(ctx context.Context) {
	if err := a.http.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.monitor.Stop(ctx); err != nil {
		a.log.Warn("monitor stop error", applogger.Error(err))
	}
}

// Monitor exposes the monitor for CLI helpers and tests.
func (a *App) Monitor() *usecase.MarketMonitor { return a.monitor }

// HTTP exposes the server so callers can read the bound address.
func (a *App) HTTP() *xhttp.Server { return a.http }
