package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Probe and scrape endpoints log at debug to keep info logs readable.
var quietRoutes = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// Middleware tags every request with a request id, stores a request-scoped
// logger on the gin and request contexts, and logs one summary line per request.
// Webhook callbacks carry ?callId=, which is added to the logger when present.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLog := l.With("request_id", rid)
		if callID := c.Query("callId"); callID != "" {
			reqLog = reqLog.With("call_id", callID)
		}
		c.Set(ginLoggerKey, reqLog)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLog))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case len(c.Errors) > 0:
			reqLog.Error("request", append(attrs, "errors", c.Errors.String())...)
		case status >= http.StatusInternalServerError:
			reqLog.Error("request", attrs...)
		case quietRoutes[route]:
			reqLog.Debug("request", attrs...)
		default:
			reqLog.Info("request", attrs...)
		}
	}
}

// FromGin returns the request-scoped logger, or slog.Default outside Middleware.
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
