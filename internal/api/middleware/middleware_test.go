package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(cfg CORSConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LoggerMiddleware(nil))
	r.Use(CORS(cfg))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		origin     string
		wantOrigin string
	}{
		{"allow all", CORSConfig{AllowAllOrigins: true}, "https://a.example", "*"},
		{"listed origin", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, "https://a.example", "https://a.example"},
		{"unlisted origin", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, "https://b.example", ""},
		{"no origin header", CORSConfig{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			newRouter(tt.cfg).ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if w.Code != http.StatusOK {
				t.Errorf("status = %d", w.Code)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://a.example")
	w := httptest.NewRecorder()
	newRouter(CORSConfig{AllowAllOrigins: true}).ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://A.example"}}
	if !IsOriginAllowed("https://a.example", cfg) {
		t.Error("origin match should ignore case")
	}
	if IsOriginAllowed("https://b.example", cfg) {
		t.Error("unlisted origin allowed")
	}
	if !IsOriginAllowed("https://b.example", CORSConfig{AllowAllOrigins: true}) {
		t.Error("allow all rejected origin")
	}
}

func TestLoggerMiddleware_RequestID(t *testing.T) {
	r := newRouter(CORSConfig{})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "upstream-1" {
		t.Errorf("request id = %q, want upstream-1", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated request id")
	}
}
