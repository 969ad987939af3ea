package injector

import (
	"context"

	"github.com/lk2023060901/file-service/internal/artifact/job"
	"github.com/lk2023060901/file-service/internal/conf"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/server"
)

// App encapsulates all application dependencies
type App struct {
	Config     *conf.Config
	Logger     *logger.Logger
	HTTPServer *server.HTTPServer
	Scheduler  *job.Scheduler
}

func newApp(
	config *conf.Config,
	log *logger.Logger,
	httpServer *server.HTTPServer,
	scheduler *job.Scheduler,
) *App {
	return &App{
		Config:     config,
		Logger:     log,
		HTTPServer: httpServer,
		Scheduler:  scheduler,
	}
}

// Start 启动后台调度；HTTP 服务由调用方在独立 goroutine 中启动
func (a *App) Start(ctx context.Context) error {
	return a.Scheduler.Start(ctx)
}

// Stop 先停 HTTP 再停调度，保证不会再有新的失效 id 入队
func (a *App) Stop(ctx context.Context) error {
	err := a.HTTPServer.Stop(ctx)
	a.Scheduler.Stop()
	return err
}
