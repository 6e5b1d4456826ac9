package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowedOrigins    []string
		requestOrigin     string
		expectAllowOrigin string
	}{
		{
			name:              "permissive mode allows all origins",
			permissive:        true,
			requestOrigin:     "https://example.com",
			expectAllowOrigin: "*",
		},
		{
			name:              "restricted mode with matching origin",
			allowedOrigins:    []string{"https://example.com", "https://app.example.com"},
			requestOrigin:     "https://example.com",
			expectAllowOrigin: "https://example.com",
		},
		{
			name:              "restricted mode with non-matching origin",
			allowedOrigins:    []string{"https://example.com"},
			requestOrigin:     "https://evil.com",
			expectAllowOrigin: "",
		},
		{
			name:              "wildcard subdomain matching",
			allowedOrigins:    []string{"*.example.com"},
			requestOrigin:     "https://app.example.com",
			expectAllowOrigin: "https://app.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &corsConfig{permissive: tt.permissive, allowedOrigins: tt.allowedOrigins}
			handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), cfg)

			req := httptest.NewRequest(http.MethodGet, "/chat", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tt.expectAllowOrigin, got)
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS response")
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		envVars        map[string]string
		wantPermissive bool
		wantOriginsLen int
	}{
		{name: "default dev mode", envVars: map[string]string{}, wantPermissive: true},
		{name: "production mode", envVars: map[string]string{"ENV": "production"}, wantPermissive: false},
		{
			name:           "production with allowed origins",
			envVars:        map[string]string{"ENV": "production", "CORS_ALLOWED_ORIGINS": "https://example.com, https://app.example.com"},
			wantPermissive: false,
			wantOriginsLen: 2,
		},
		{
			name:           "explicit permissive override",
			envVars:        map[string]string{"ENV": "production", "CORS_PERMISSIVE": "1"},
			wantPermissive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive {
				t.Errorf("expected permissive=%v, got %v", tt.wantPermissive, cfg.permissive)
			}
			if len(cfg.allowedOrigins) != tt.wantOriginsLen {
				t.Errorf("expected %d allowed origins, got %d", tt.wantOriginsLen, len(cfg.allowedOrigins))
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		allowedOrigins []string
		want           bool
	}{
		{"exact match", "https://example.com", []string{"https://example.com", "https://other.com"}, true},
		{"no match", "https://evil.com", []string{"https://example.com"}, false},
		{"wildcard subdomain", "https://app.example.com", []string{"*.example.com"}, true},
		{"wildcard deeper subdomain", "https://api.v2.example.com", []string{"*.example.com"}, true},
		{"wildcard does not match parent", "https://example.com", []string{"*.example.com"}, false},
		{"wildcard does not match lookalike", "https://evilexample.com", []string{"*.example.com"}, false},
		{"http vs https mismatch", "http://example.com", []string{"https://example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, tt.allowedOrigins); got != tt.want {
				t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowedOrigins, got, tt.want)
			}
		})
	}
}

func TestWithObservability_CorrelationID(t *testing.T) {
	handler := withObservability(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want reused abc-123", got)
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID not generated")
	}
}
