// file: internal/middleware/structured_logger.go
package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig holds request logging configuration
type LoggingConfig struct {
	SlowRequestThreshold time.Duration
	SkipPaths            []string
}

// DefaultLoggingConfig returns the request logging defaults
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		SlowRequestThreshold: 2 * time.Second,
		SkipPaths:            []string{"/health", "/metrics"},
	}
}

// StructuredLogging logs one line per completed request with the request
// scoped logger. Server errors log at Error, client errors and slow requests
// at Warn.
func StructuredLogging(config *LoggingConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultLoggingConfig()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range config.SkipPaths {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			sw := wrapWriter(w)
			next.ServeHTTP(sw, r)

			duration := time.Since(GetRequestStart(r.Context()))
			status := sw.Status()

			fields := []zap.Field{
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.Int64("response_size", sw.bytesWritten),
				zap.String("remote_addr", getClientIP(r)),
				zap.String("user_agent", r.UserAgent()),
			}
			if q := r.URL.RawQuery; q != "" {
				fields = append(fields, zap.String("query", sanitizeQuery(q)))
			}

			GetRequestLogger(r.Context()).Log(getLogLevel(status, duration, config), "Request completed", fields...)
		})
	}
}

func getLogLevel(status int, duration time.Duration, config *LoggingConfig) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400, duration > config.SlowRequestThreshold:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// sanitizeQuery masks token-bearing query parameters
func sanitizeQuery(query string) string {
	parts := strings.Split(query, "&")
	for i, part := range parts {
		key, _, found := strings.Cut(part, "=")
		if found && (strings.Contains(strings.ToLower(key), "token")) {
			parts[i] = key + "=***"
		}
	}
	return strings.Join(parts, "&")
}
