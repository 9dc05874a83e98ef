package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-world/internal/logging"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Пути из quiet (health-check, /metrics) логируются только на уровне Debug.
type RequestLogger struct {
	quiet map[string]bool
}

func NewRequestLogger(quietPaths ...string) *RequestLogger {
	rl := &RequestLogger{quiet: make(map[string]bool, len(quietPaths))}
	for _, p := range quietPaths {
		rl.quiet[p] = true
	}
	return rl
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если span уже создан
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case rl.quiet[path]:
			logging.Debug("[HTTP] %s %s %d %s", method, path, status, latency)
		case status >= 500:
			logging.Error("[HTTP] ◀ %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
		default:
			logging.Info("[HTTP] ◀ %s %s %d %s ip=%s trace=%s", method, path, status, latency, c.ClientIP(), traceID)
		}
	}
}
