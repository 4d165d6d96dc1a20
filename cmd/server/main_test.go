package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(rec, httptest.NewRequest(method, "/health", nil))

			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var response map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["status"] != "ok" || response["service"] != "dispatchdesk" {
				t.Errorf("unexpected health body %v", response)
			}
		})
	}
}

func TestTelephonyStatusDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	telephonyStatus(rec, nil)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["enabled"] != false {
		t.Errorf("expected enabled=false, got %v", response["enabled"])
	}
	if _, ok := response["connected"]; ok {
		t.Error("disabled source should not report connection state")
	}
}
