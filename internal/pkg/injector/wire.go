//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"
	"github.com/lk2023060901/file-service/internal/conf"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/server"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	// Data layer
	dataProviderSet,

	// Infrastructure
	infraProviderSet,

	// Artifact domain
	artifactProviderSet,

	// Servers
	serverProviderSet,
)

var dataProviderSet = wire.NewSet(
	provideData,
	provideHealthChecker,
)

var infraProviderSet = wire.NewSet(
	provideProm,
	provideMetrics,
	provideOffloadExecutor,
	provideUploadPool,
	provideIDGenerator,
)

var artifactProviderSet = wire.NewSet(
	provideArtifactRepo,
	provideBlobStore,
	provideInvalidQueue,
	provideArtifactUseCase,
	provideArtifactService,
	provideScheduler,
)

var serverProviderSet = wire.NewSet(
	server.NewHTTPServer,
)

// InitializeApp initializes the application with Wire
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet, newApp)
	return nil, nil, nil
}
