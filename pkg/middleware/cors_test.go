package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const consoleOrigin = "http://localhost:5173"

func consoleHandler(origins ...string) http.Handler {
	return CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORS(t *testing.T) {
	handler := consoleHandler(consoleOrigin, "https://console.dispatchdesk.dev")

	tests := []struct {
		name           string
		origin         string
		method         string
		expectedOrigin string
	}{
		{"dev console", consoleOrigin, http.MethodGet, consoleOrigin},
		{"hosted console", "https://console.dispatchdesk.dev", http.MethodPost, "https://console.dispatchdesk.dev"},
		{"unknown origin", "http://evil.com", http.MethodGet, ""},
		{"preflight", consoleOrigin, http.MethodOptions, consoleOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/console/queue", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.expectedOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.expectedOrigin, got)
			}
		})
	}
}

func TestCORSPreflightAllowsConsoleHeaders(t *testing.T) {
	handler := consoleHandler(consoleOrigin)

	for _, header := range []string{"X-Console-Tab", "X-Dev-Uid", "Authorization"} {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/console/workflow", nil)
			req.Header.Set("Origin", consoleOrigin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", header)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != consoleOrigin {
				t.Fatalf("expected origin to be allowed, got %q", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" {
				t.Fatalf("expected %s to be allowed", header)
			}
		})
	}
}

func TestCORSCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/agent/presence", nil)
	req.Header.Set("Origin", consoleOrigin)
	rec := httptest.NewRecorder()

	consoleHandler(consoleOrigin).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("expected credentials to be allowed, got %q", got)
	}
}
