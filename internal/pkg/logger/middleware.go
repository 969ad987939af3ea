package logger

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lk2023060901/file-service/internal/pkg/validator"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// MiddlewareOptions configures the logger middleware
type MiddlewareOptions struct {
	// SkipPaths is a list of paths to skip logging
	SkipPaths []string
	// SkipPathPrefixes is a list of path prefixes to skip logging
	SkipPathPrefixes []string
}

// GinLogger returns a gin middleware for logging HTTP requests.
// Every request gets a request id (taken from X-Request-ID or generated) and
// a request scoped logger in its context, even when its access log is skipped.
func GinLogger(logger *Logger, opts ...MiddlewareOptions) gin.HandlerFunc {
	skipPaths := make(map[string]bool)
	var skipPrefixes []string
	for _, o := range opts {
		for _, path := range o.SkipPaths {
			skipPaths[path] = true
		}
		skipPrefixes = append(skipPrefixes, o.SkipPathPrefixes...)
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := WithRequestID(c.Request.Context(), requestID)
		ctx = ToContext(ctx, logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		path := c.Request.URL.Path
		if skipPaths[path] || hasAnyPrefix(path, skipPrefixes) {
			c.Next()
			return
		}

		start := time.Now()
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", validator.GetIPOrDefault(c.ClientIP(), "unknown")),
			zap.Int("body_size", c.Writer.Size()),
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case statusCode >= 500:
			logger.Error("HTTP Request", fields...)
		case statusCode >= 400:
			logger.Warn("HTTP Request", fields...)
		default:
			logger.Info("HTTP Request", fields...)
		}
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GinRecovery returns a gin middleware for recovering from panics
func GinRecovery(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.String("request_id", GetRequestID(c.Request.Context())),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.Stack("stacktrace"),
				)

				c.AbortWithStatus(500)
			}
		}()

		c.Next()
	}
}
