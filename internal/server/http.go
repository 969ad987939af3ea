package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/file-service/internal/artifact/service"
	"github.com/lk2023060901/file-service/internal/conf"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"go.uber.org/zap"
)

// HealthChecker reports the state of each backing resource, nil meaning healthy.
// *data.Data implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

type HTTPServer struct {
	server *http.Server
	router *gin.Engine
	logger *logger.Logger
}

func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	health HealthChecker,
	prom *metrics.Prom,
	artifactService *service.ArtifactService,
) *HTTPServer {
	gin.SetMode(config.Server.Mode)

	router := gin.New()
	router.Use(logger.GinLogger(log, logger.MiddlewareOptions{
		SkipPaths: []string{"/health", config.Metrics.Path},
	}))
	router.Use(logger.GinRecovery(log))
	router.Use(LaneMiddleware())
	if prom != nil {
		router.Use(MetricsMiddleware(prom))
		router.GET(config.Metrics.Path, gin.WrapH(prom.Handler()))
	}

	// Health check
	router.GET("/health", healthHandler(health))

	// API routes
	api := router.Group("/api/v1")
	artifactService.RegisterRoutes(api)

	if config.Server.Legacy {
		artifactService.RegisterLegacyRoutes(router)
	}

	return &HTTPServer{
		server: &http.Server{
			Addr:         config.Server.Addr(),
			Handler:      router,
			ReadTimeout:  config.Server.ReadTimeout,
			WriteTimeout: config.Server.WriteTimeout,
		},
		router: router,
		logger: log,
	}
}

// Handler 返回路由，便于测试
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func healthHandler(health HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		components := gin.H{}
		for name, err := range health.HealthCheck(ctx) {
			if err != nil {
				status = http.StatusServiceUnavailable
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status":     state,
			"components": components,
			"time":       time.Now().Format(time.RFC3339),
		})
	}
}

// LaneMiddleware 同一请求内提交的离线任务落在同一条 lane 上，保证按提交顺序执行
func LaneMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := logger.GetRequestID(c.Request.Context()); id != "" {
			c.Request = c.Request.WithContext(offload.WithLane(c.Request.Context(), id))
		}
		c.Next()
	}
}

// MetricsMiddleware 按路由模板记录请求数和耗时，未匹配的路由统一归为 unmatched
func MetricsMiddleware(m metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
