package logger

import (
	"context"

	"go.uber.org/zap"
)

// Context keys
type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	jobKey       contextKey = "job"
)

// WithContext returns a logger with fields from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	fields := make([]zap.Field, 0, 2)

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	// Scheduled runs have no request, they carry the job name instead
	if job, ok := ctx.Value(jobKey).(string); ok && job != "" {
		fields = append(fields, zap.String("job", job))
	}

	if len(fields) == 0 {
		return l
	}

	return l.With(fields...)
}

// FromContext extracts logger from context, returns default logger if not found
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}

	if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
		return logger.WithContext(ctx)
	}

	return L().WithContext(ctx)
}

// ToContext adds logger to context
func ToContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithJob tags ctx with the name of the scheduled job driving it.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey, job)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetJob extracts the job name from context
func GetJob(ctx context.Context) string {
	if job, ok := ctx.Value(jobKey).(string); ok {
		return job
	}
	return ""
}
