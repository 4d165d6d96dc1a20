package event

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dennisdiepolder/dispatchdesk/internal/cache"
	"github.com/dennisdiepolder/dispatchdesk/internal/callqueue"
	"github.com/dennisdiepolder/dispatchdesk/internal/ingestion"
	"github.com/rs/zerolog"
)

func setupReceiver() (*Receiver, *callqueue.Manager) {
	logger := zerolog.Nop()
	calls := callqueue.NewManager(logger)
	events := cache.NewEventCache()
	return NewReceiver(ingestion.NewDefaultProcessor(calls, events, logger), events, logger), calls
}

func TestHandleIncomingCall(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
		queued   int
	}{
		{"bare payload", http.MethodPost, `{"caller":"+15550001","name":"Grace"}`, http.StatusAccepted, 1},
		{"envelope", http.MethodPost, `{"event":"incoming-call","data":{"caller":"+15550002","dispatchLink":"/d/1"}}`, http.StatusAccepted, 1},
		{"other event", http.MethodPost, `{"event":"hangup","data":{}}`, http.StatusBadRequest, 0},
		{"missing caller", http.MethodPost, `{"name":"nobody"}`, http.StatusBadRequest, 0},
		{"not json", http.MethodPost, `caller=1`, http.StatusBadRequest, 0},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, calls := setupReceiver()
			req := httptest.NewRequest(tt.method, "/internal/incoming-call", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			r.HandleIncomingCall(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, w.Code, w.Body.String())
			}
			if got := len(calls.Snapshot()); got != tt.queued {
				t.Errorf("expected %d queued calls, got %d", tt.queued, got)
			}
			if tt.wantCode == http.StatusAccepted {
				var body map[string]string
				json.NewDecoder(w.Body).Decode(&body)
				if body["callId"] == "" {
					t.Error("expected a generated call id")
				}
			}
		})
	}
}

func TestGetStatsAndRecent(t *testing.T) {
	r, _ := setupReceiver()
	for _, caller := range []string{"+1", "+2", "+3"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/incoming-call", bytes.NewBufferString(`{"caller":"`+caller+`"}`))
		r.HandleIncomingCall(httptest.NewRecorder(), req)
	}

	w := httptest.NewRecorder()
	r.GetStats(w, httptest.NewRequest(http.MethodGet, "/internal/events/stats", nil))
	var stats map[string]interface{}
	json.NewDecoder(w.Body).Decode(&stats)
	if stats["events_received"] != float64(3) {
		t.Errorf("expected 3 events received, got %v", stats["events_received"])
	}

	w = httptest.NewRecorder()
	r.GetRecent(w, httptest.NewRequest(http.MethodGet, "/internal/events?limit=2", nil))
	var recent []cache.ReceivedEvent
	if err := json.NewDecoder(w.Body).Decode(&recent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recent) != 2 || recent[0].Event.Caller != "+3" {
		t.Errorf("expected newest two events, got %+v", recent)
	}
}
