package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JaimeStill/compass/pkg/middleware"
)

const dashboard = "https://comp.example.org"

func ingestHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusAccepted)
	})
}

func TestApplyOrder(t *testing.T) {
	var order []string
	trace := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	mw := middleware.New()
	mw.Use(trace("cors"))
	mw.Use(trace("logger"))

	handler := mw.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "reports")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/reports", nil))

	want := []string{"cors", "logger", "reports"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order: got %v, want %v", order, want)
	}
}

func TestCORS(t *testing.T) {
	policy := &middleware.CORSConfig{
		Enabled:        true,
		Origins:        []string{dashboard},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}

	tests := []struct {
		name       string
		cfg        *middleware.CORSConfig
		method     string
		origin     string
		wantOrigin string
		wantCode   int
		wantCalled bool
	}{
		{
			name:       "disabled",
			cfg:        &middleware.CORSConfig{Enabled: false, Origins: []string{dashboard}},
			method:     "POST",
			origin:     dashboard,
			wantCode:   http.StatusAccepted,
			wantCalled: true,
		},
		{
			name:       "enabled without origins",
			cfg:        &middleware.CORSConfig{Enabled: true},
			method:     "POST",
			origin:     dashboard,
			wantCode:   http.StatusAccepted,
			wantCalled: true,
		},
		{
			name:       "dashboard origin",
			cfg:        policy,
			method:     "POST",
			origin:     dashboard,
			wantOrigin: dashboard,
			wantCode:   http.StatusAccepted,
			wantCalled: true,
		},
		{
			name:       "foreign origin",
			cfg:        policy,
			method:     "POST",
			origin:     "https://scraper.example.net",
			wantCode:   http.StatusAccepted,
			wantCalled: true,
		},
		{
			name:       "preflight short circuits",
			cfg:        policy,
			method:     "OPTIONS",
			origin:     dashboard,
			wantOrigin: dashboard,
			wantCode:   http.StatusOK,
			wantCalled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := middleware.CORS(tt.cfg)(ingestHandler(&called))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/records/ingest", nil)
			req.Header.Set("Origin", tt.origin)
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin: got %q, want %q", got, tt.wantOrigin)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", rec.Code, tt.wantCode)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called: got %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestCORSAllowedHeaders(t *testing.T) {
	cfg := &middleware.CORSConfig{
		Enabled:          true,
		Origins:          []string{dashboard},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           600,
	}

	var called bool
	handler := middleware.CORS(cfg)(ingestHandler(&called))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/records/batches/8f6d", nil)
	req.Header.Set("Origin", dashboard)
	handler.ServeHTTP(rec, req)

	headers := map[string]string{
		"Access-Control-Allow-Methods":     "GET, POST, DELETE",
		"Access-Control-Allow-Headers":     "Content-Type, Authorization",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Max-Age":           "600",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("%s: got %q, want %q", name, got, want)
		}
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var called bool
	handler := middleware.Logger(logger)(ingestHandler(&called))

	req := httptest.NewRequest("GET", "/api/records?specialty=Cardiology&year=2024", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("inner handler should have been called")
	}

	out := buf.String()
	for _, want := range []string{
		"msg=request",
		"method=GET",
		`uri="/api/records?specialty=Cardiology&year=2024"`,
		"duration=",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestCORSConfigFinalizeDefaults(t *testing.T) {
	cfg := middleware.CORSConfig{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if got := strings.Join(cfg.AllowedMethods, ","); got != "GET,POST,PUT,DELETE,OPTIONS" {
		t.Errorf("allowed_methods: got %s", got)
	}
	if got := strings.Join(cfg.AllowedHeaders, ","); got != "Content-Type,Authorization" {
		t.Errorf("allowed_headers: got %s", got)
	}
	if cfg.MaxAge != 3600 {
		t.Errorf("max_age: got %d, want 3600", cfg.MaxAge)
	}
}

func TestCORSConfigFinalizeEnv(t *testing.T) {
	t.Setenv("COMPASS_CORS_ENABLED", "true")
	t.Setenv("COMPASS_CORS_ORIGINS", dashboard+", http://localhost:5173,")
	t.Setenv("COMPASS_CORS_ALLOWED_METHODS", "GET, POST")
	t.Setenv("COMPASS_CORS_ALLOW_CREDENTIALS", "true")

	env := &middleware.CORSEnv{
		Enabled:          "COMPASS_CORS_ENABLED",
		Origins:          "COMPASS_CORS_ORIGINS",
		AllowedMethods:   "COMPASS_CORS_ALLOWED_METHODS",
		AllowCredentials: "COMPASS_CORS_ALLOW_CREDENTIALS",
	}

	cfg := middleware.CORSConfig{}
	if err := cfg.Finalize(env); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if !cfg.Enabled {
		t.Error("enabled should be true")
	}
	if got := strings.Join(cfg.Origins, ","); got != dashboard+",http://localhost:5173" {
		t.Errorf("origins: got %v", cfg.Origins)
	}
	if got := strings.Join(cfg.AllowedMethods, ","); got != "GET,POST" {
		t.Errorf("allowed_methods: got %v", cfg.AllowedMethods)
	}
	if !cfg.AllowCredentials {
		t.Error("allow_credentials should be true")
	}
}

func TestCORSConfigMerge(t *testing.T) {
	base := middleware.CORSConfig{
		Enabled:        true,
		Origins:        []string{"http://localhost:5173"},
		AllowedMethods: []string{"GET"},
		MaxAge:         3600,
	}

	overlay := middleware.CORSConfig{
		Enabled: false,
		Origins: []string{dashboard},
		MaxAge:  600,
	}

	base.Merge(&overlay)

	if base.Enabled {
		t.Error("enabled should follow the overlay")
	}
	if len(base.Origins) != 1 || base.Origins[0] != dashboard {
		t.Errorf("origins: got %v", base.Origins)
	}
	if len(base.AllowedMethods) != 1 || base.AllowedMethods[0] != "GET" {
		t.Errorf("allowed_methods: got %v, want base value kept", base.AllowedMethods)
	}
	if base.MaxAge != 600 {
		t.Errorf("max_age: got %d, want 600", base.MaxAge)
	}
}
