//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Logging and metrics
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideQueryMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideStateStore,
		ProvideInstanceLock,
		ProvideClickHouseSink,
		ProvideConfigSource,

		// Domain services
		ProvideCalendar,
		ProvideResolver,
		ProvideAggregator,

		// Use cases
		ProvideEventRouter,
		ProvideEventBus,
		ProvideMonitor,
		ProvideConfigChangeHandler,

		// Transport
		ProvideKafkaConsumer,
		ProvideHub,
		ProvideMarketsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
