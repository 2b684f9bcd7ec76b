package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/handler/ws"
	"MarketPulse/internal/repository"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/internal/service/composite"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/internal/service/resolver"
	"MarketPulse/internal/usecase"
	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("environment: test\n"))
	require.NoError(t, err)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, marketsFile string, lock *repository.InstanceLock) *App {
	t.Helper()
	log := applogger.NewNop()
	cal := calendar.NewService()
	bus := eventbus.New(nil, log)
	store := repository.NewCacheStateStore(pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0)), 0)

	mon := usecase.NewMarketMonitor(
		repository.NewFileConfigSource(marketsFile),
		store, bus,
		resolver.New(cal),
		composite.New(composite.DefaultSessions()),
		usecase.WithReconcileInterval(0),
	)
	hub := ws.NewHub(bus, log)
	markets := api.NewMarketsEchoHandler(log, mon, cal, nil, nil)
	srv := xhttp.NewServer([]xhttp.Handler{markets, hub},
		xhttp.WithHost("127.0.0.1"),
		xhttp.WithPort(0),
		xhttp.WithMetrics("", nil, nil),
	)
	return New(cfg, log, mon, nil, nil, srv, hub, bus, lock)
}

func run(app *App, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	return done
}

func TestApp_RunServesAndShutsDown(t *testing.T) {
	app := newTestApp(t, testConfig(t), "../../config/markets.yaml", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := run(app, ctx)

	require.Eventually(t, func() bool { return app.HTTP().Addr() != nil && app.Monitor().Running() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 9, app.Monitor().Pending(), "one armed wake-up per market")

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", app.HTTP().Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, app.Monitor().Running())
	assert.Zero(t, app.Monitor().Pending())
}

func TestApp_AutoStartDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.AutoStart = false
	app := newTestApp(t, cfg, "../../config/markets.yaml", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := run(app, ctx)
	require.Eventually(t, func() bool { return app.HTTP().Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, app.Monitor().Running())

	cancel()
	require.NoError(t, <-done)
}

func TestApp_AutoStartDisabledSkipsConfigConsumer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.AutoStart = false
	app := newTestApp(t, cfg, "../../config/markets.yaml", nil)

	consumer, err := pkgkafka.NewConsumer(pkgkafka.WithConsumerBrokers([]string{"127.0.0.1:1"}))
	require.NoError(t, err)
	app.consumer = consumer
	app.kh = usecase.NewConfigChangeHandler("marketpulse.config", app.Monitor(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := run(app, ctx)
	require.Eventually(t, func() bool { return app.HTTP().Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	assert.False(t, app.consuming)
	assert.False(t, app.Monitor().Running())
	assert.Equal(t, 0, app.Monitor().Pending())

	cancel()
	require.NoError(t, <-done)
}

func TestApp_ConfigErrorIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`markets:
  - key: Atlantis
    timezone: Ocean/Atlantis
    open: "09:00"
    close: "17:00"
    weight: 1
`), 0o644))

	app := newTestApp(t, testConfig(t), path, nil)
	err := <-run(app, context.Background())

	var cerr *models.ConfigError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "Atlantis", cerr.Market)
}

func TestApp_InstanceLockExcludesSecondProcess(t *testing.T) {
	c := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0))
	first := repository.NewInstanceLock(c, time.Minute, nil)
	require.NoError(t, first.Acquire(context.Background()))
	t.Cleanup(func() { _ = first.Release(context.Background()) })

	app := newTestApp(t, testConfig(t), "../../config/markets.yaml", repository.NewInstanceLock(c, time.Minute, nil))
	err := <-run(app, context.Background())
	assert.ErrorIs(t, err, repository.ErrLockHeld)
}
