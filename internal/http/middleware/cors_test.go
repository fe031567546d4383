package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(r *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	cases := []struct {
		origins []string
		origin  string
		allowed bool
	}{
		{nil, "http://localhost:5173", true},
		{nil, "https://evil.example", false},
		{[]string{"https://app.example"}, "https://app.example", true},
		{[]string{"https://app.example"}, "http://localhost:5173", false},
	}
	for _, tc := range cases {
		r := gin.New()
		r.Use(CORS(tc.origins))
		r.OPTIONS("/api/search", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		rec := preflight(r, tc.origin)
		got := rec.Header().Get("Access-Control-Allow-Origin")
		if tc.allowed && got != tc.origin {
			t.Fatalf("origin %s: want allow-origin=%q got=%q", tc.origin, tc.origin, got)
		}
		if !tc.allowed && got != "" {
			t.Fatalf("origin %s: want no allow-origin got=%q", tc.origin, got)
		}
	}
}
