//go:build wireinject
// +build wireinject

package di

import (
	"RatingFlow/pkg/config"
	"RatingFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideScale,
		ProvidePanelStore,
		ProvideObservationPublisher,
		ProvideFeedStream,

		// Use cases
		ProvideObservationProcessor,
		ProvideObservationCollector,
		ProvideKafkaObservationsHandler,
		ProvideAnalysisService,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
