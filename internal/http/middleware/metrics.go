package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docretrieval-backend/internal/observability"
)

// Metrics records request counts and latency per route template. Health and
// scrape routes are skipped, and SSE streams only count toward totals since
// their duration is the subscription lifetime.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		switch route {
		case "/healthcheck", "/readyz", "/metrics":
			c.Next()
			return
		case "":
			route = "unmatched"
		}

		start := time.Now()
		m.ApiInflightInc()
		c.Next()
		m.ApiInflightDec()

		dur := time.Since(start)
		if strings.HasSuffix(route, "/events") {
			dur = 0
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), dur)
	}
}
