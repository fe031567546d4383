package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// RequestLogger writes one line per request. 5xx log at Error, 4xx at Warn and
// health and scrape routes at Debug. Document and job ids from the path are included so a
// request can be joined with the ingestion and job logs it caused.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log = log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"client_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
		}
		for _, p := range c.Params {
			switch p.Key {
			case "id":
				fields = append(fields, "resource_id", p.Value)
			case "queue":
				fields = append(fields, "queue", p.Value)
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("request failed", fields...)
		case status >= 400:
			log.Warn("request rejected", fields...)
		case route == "/healthcheck" || route == "/readyz" || route == "/metrics":
			log.Debug("health request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
