package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
)

func TestAttachTraceContextPropagatesHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen *ctxutil.TraceData
	r.GET("/x", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("X-Trace-Id", "trace-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen == nil || seen.RequestID != "req-42" || seen.TraceID != "trace-42" {
		t.Fatalf("trace data: %+v", seen)
	}
	if rec.Header().Get("X-Request-Id") != "req-42" {
		t.Fatalf("response request id: got=%q", rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == nil || seen.RequestID == "" || seen.TraceID == "" {
		t.Fatalf("generated ids missing: %+v", seen)
	}
	if rec.Header().Get("X-Trace-Id") != seen.TraceID {
		t.Fatalf("response trace id: want=%s got=%s", seen.TraceID, rec.Header().Get("X-Trace-Id"))
	}
}

func TestClientIDReplacesUnsafeValues(t *testing.T) {
	cases := map[string]bool{
		"req-1":                  true,
		"":                       false,
		"has space":              false,
		"line\nbreak":            false,
		strings.Repeat("a", 129): false,
		strings.Repeat("b", 128): true,
	}
	for in, kept := range cases {
		got := clientID(in)
		if (got == in) != kept {
			t.Fatalf("clientID(%q): kept want=%v got=%q", in, kept, got)
		}
		if got == "" {
			t.Fatalf("clientID(%q): empty id", in)
		}
	}
}
