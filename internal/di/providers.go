package di

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/handler/ws"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/calendar"
	"MarketPulse/internal/service/composite"
	"MarketPulse/internal/service/eventbus"
	qmetrics "MarketPulse/internal/service/metrics"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/service/resolver"
	"MarketPulse/internal/usecase"
	pkgcache "MarketPulse/pkg/cache"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

const serviceName = "marketpulse"

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		// transitions must be acknowledged before the outbox drops them
		pkgkafka.WithAsync(false),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the process logger. The error collector ships
// through the Kafka producer when both are configured.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(logger.String("service", serviceName), logger.String("env", cfg.Environment))

	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.CountThreshold,
			Topic:          cfg.Logging.Collector.Topic,
			Source:         serviceName,
			CollectWarn:    cfg.Logging.Collector.CollectWarn,
			Publisher:      producer,
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func ProvideQueryMetrics() *qmetrics.QueryMetrics {
	return qmetrics.NewQueryMetrics(prometheus.DefaultRegisterer)
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config, log *logger.Logger) (pkgcache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		log.Warn("redis disabled, runtime state is kept in memory only")
		c := pkgcache.NewMemoryCache()
		return c, func() { _ = c.Close() }, nil
	}
	c, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

func ProvideStateStore(c pkgcache.Service) repository.StateStore {
	return internalrepo.NewCacheStateStore(c, 0)
}

// ProvideInstanceLock returns nil unless monitor.instance_lock is set.
func ProvideInstanceLock(cfg *config.Config, c pkgcache.Service, log *logger.Logger) *internalrepo.InstanceLock {
	if !cfg.Monitor.InstanceLock {
		return nil
	}
	return internalrepo.NewInstanceLock(c, 30*time.Second, log)
}

// ProvideClickHouseClient connects and applies the transition log schema.
// Nil when no host is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.ClickHouse.Host == "" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.TransitionsSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvideClickHouseSink(client *pkgch.Client, cfg *config.Config) *internalrepo.ClickHouseEventSink {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseEventSink(client.DB(), client.Table(cfg.ClickHouse.Table))
}

// ProvideEventRouter picks the primary sink named by backend.type.
// Typed nil pointers are turned into nil interfaces here.
func ProvideEventRouter(
	producer *pkgkafka.Producer,
	store *internalrepo.ClickHouseEventSink,
	m repository.Metrics,
	cfg *config.Config,
) (*usecase.EventRouter, error) {
	var pub, sink repository.EventSink
	if producer != nil {
		pub = internalrepo.NewKafkaEventSink(producer, cfg.Kafka.EventsTopic)
	}
	if store != nil {
		sink = store
	}
	return usecase.NewEventRouter(pub, sink, m, cfg.Backend.Type)
}

func ProvideEventBus(router *usecase.EventRouter, log *logger.Logger) *eventbus.Bus {
	return eventbus.New(router, log)
}

func ProvideCalendar() *calendar.Service {
	return calendar.NewService()
}

func ProvideResolver(cal *calendar.Service, cfg *config.Config) *resolver.Resolver {
	return resolver.New(cal,
		resolver.WithAdvisoryWindow(cfg.Monitor.AdvisoryWindow),
		resolver.WithMaxScanDays(cfg.Monitor.MaxScanDays),
	)
}

// ProvideAggregator uses the configured session buckets, or the defaults.
func ProvideAggregator(cfg *config.Config) *composite.Aggregator {
	if len(cfg.Sessions) == 0 {
		return composite.New(composite.DefaultSessions())
	}
	sessions := make([]models.SessionWindow, 0, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		sessions = append(sessions, models.SessionWindow{
			Name:      models.SessionPhase(s.Name),
			StartHour: s.StartHour,
			EndHour:   s.EndHour % 24,
			Markets:   s.Markets,
			Regions:   s.Regions,
		})
	}
	return composite.New(sessions)
}

func ProvideConfigSource(cfg *config.Config) repository.ConfigSource {
	return internalrepo.NewFileConfigSource(cfg.Monitor.MarketsFile)
}

func ProvideMonitor(
	source repository.ConfigSource,
	store repository.StateStore,
	bus *eventbus.Bus,
	res *resolver.Resolver,
	agg *composite.Aggregator,
	m repository.Metrics,
	log *logger.Logger,
	cfg *config.Config,
) *usecase.MarketMonitor {
	return usecase.NewMarketMonitor(source, store, bus, res, agg,
		usecase.WithMetrics(m),
		usecase.WithLogger(log),
		usecase.WithReconcileInterval(cfg.Monitor.ReconcileInterval),
		usecase.WithRetry(cfg.Monitor.Retry.Attempts, cfg.Monitor.Retry.Backoff),
		usecase.WithRetryDelay(cfg.Monitor.RetryDelay),
		usecase.WithIOTimeout(cfg.Monitor.IOTimeout),
		usecase.WithOutboxLimit(cfg.Monitor.OutboxLimit),
		usecase.WithParallelism(cfg.Monitor.Parallelism),
	)
}

// ProvideKafkaConsumer creates the config-change consumer, or nil when no
// config topic is set.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Kafka.ConfigTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideConfigChangeHandler(cfg *config.Config, monitor *usecase.MarketMonitor, m repository.Metrics, log *logger.Logger) *usecase.ConfigChangeHandler {
	return usecase.NewConfigChangeHandler(cfg.Kafka.ConfigTopic, monitor, m, log)
}

func ProvideHub(bus *eventbus.Bus, log *logger.Logger) *ws.Hub {
	return ws.NewHub(bus, log)
}

func ProvideMarketsHandler(
	log *logger.Logger,
	monitor *usecase.MarketMonitor,
	cal *calendar.Service,
	store *internalrepo.ClickHouseEventSink,
	qm *qmetrics.QueryMetrics,
) *api.MarketsEchoHandler {
	var history api.HistoryReader
	if store != nil {
		history = store
	}
	return api.NewMarketsEchoHandler(log, monitor, cal, history, qm)
}

func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, markets *api.MarketsEchoHandler, hub *ws.Hub) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(log),
		xhttp.WithCORS(cfg.Server.CORS.AllowOrigins, cfg.Server.CORS.MaxAge),
	}
	if rl := cfg.Server.RateLimit; rl.RPS > 0 {
		opts = append(opts, xhttp.WithMiddleware(ratelimit.Middleware(ratelimit.New(float64(rl.Burst), rl.RPS))))
	}
	if !cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics("", nil, nil))
	} else {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	}
	return xhttp.NewServer([]xhttp.Handler{markets, hub}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	monitor *usecase.MarketMonitor,
	consumer *pkgkafka.Consumer,
	kh *usecase.ConfigChangeHandler,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	bus *eventbus.Bus,
	lock *internalrepo.InstanceLock,
) *server.App {
	var handler pkgkafka.MessageHandler
	if consumer != nil {
		handler = kh
		consumer.WithConsumerHook(pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
				log.Warn("config change message failed",
					logger.String("topic", topic),
					logger.Int("partition", km.Partition),
					logger.Int64("offset", km.Offset),
					logger.String("source", pkgkafka.Header(km, "source")),
					logger.Error(err),
				)
			},
		})
	}
	return server.New(cfg, log, monitor, consumer, handler, httpServer, hub, bus, lock)
}
