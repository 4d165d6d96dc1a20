package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "8080" {
					t.Errorf("expected port 8080, got %s", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected log level info, got %s", cfg.LogLevel)
				}
				if cfg.WSReadTimeout != 60*time.Second {
					t.Errorf("expected WSReadTimeout 60s, got %v", cfg.WSReadTimeout)
				}
				if cfg.ScheduleLead != 60*time.Minute {
					t.Errorf("expected ScheduleLead 60m, got %v", cfg.ScheduleLead)
				}
				if cfg.QueueRecheckInterval != 60*time.Second {
					t.Errorf("expected QueueRecheckInterval 60s, got %v", cfg.QueueRecheckInterval)
				}
				if cfg.ClockInterval != time.Second {
					t.Errorf("expected ClockInterval 1s, got %v", cfg.ClockInterval)
				}
				if cfg.DatabaseURL != "" {
					t.Errorf("expected empty DatabaseURL, got %s", cfg.DatabaseURL)
				}
				if cfg.PushgatewayURL != "" || cfg.MetricsPushInterval != 15*time.Second {
					t.Errorf("unexpected push config %q every %v", cfg.PushgatewayURL, cfg.MetricsPushInterval)
				}
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"PORT":                      "9000",
				"LOG_LEVEL":                 "debug",
				"WS_READ_TIMEOUT":           "30",
				"WS_WRITE_TIMEOUT":          "5",
				"ALLOWED_ORIGINS":           "http://example.com,http://test.com",
				"SCHEDULE_LEAD_MINUTES":     "30",
				"QUEUE_RECHECK_SECONDS":     "15",
				"DISPATCH_DISPLAY_DELAY_MS": "0",
				"DATABASE_URL":              "postgres://localhost/dispatch",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "9000" {
					t.Errorf("expected port 9000, got %s", cfg.Port)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("expected log level debug, got %s", cfg.LogLevel)
				}
				if cfg.WSReadTimeout != 30*time.Second {
					t.Errorf("expected WSReadTimeout 30s, got %v", cfg.WSReadTimeout)
				}
				if cfg.WSWriteTimeout != 5*time.Second {
					t.Errorf("expected WSWriteTimeout 5s, got %v", cfg.WSWriteTimeout)
				}
				if len(cfg.AllowedOrigins) != 2 {
					t.Errorf("expected 2 allowed origins, got %d", len(cfg.AllowedOrigins))
				}
				if cfg.ScheduleLead != 30*time.Minute {
					t.Errorf("expected ScheduleLead 30m, got %v", cfg.ScheduleLead)
				}
				if cfg.QueueRecheckInterval != 15*time.Second {
					t.Errorf("expected QueueRecheckInterval 15s, got %v", cfg.QueueRecheckInterval)
				}
				if cfg.DispatchDisplayDelay != 0 {
					t.Errorf("expected no dispatch display delay, got %v", cfg.DispatchDisplayDelay)
				}
				if cfg.DatabaseURL != "postgres://localhost/dispatch" {
					t.Errorf("unexpected DatabaseURL %s", cfg.DatabaseURL)
				}
			},
		},
		{
			name: "invalid WS_READ_TIMEOUT",
			env: map[string]string{
				"WS_READ_TIMEOUT": "invalid",
			},
			wantErr: true,
		},
		{
			name: "invalid QUEUE_RECHECK_SECONDS",
			env: map[string]string{
				"QUEUE_RECHECK_SECONDS": "0",
			},
			wantErr: true,
		},
		{
			name: "invalid SCHEDULE_LEAD_MINUTES",
			env: map[string]string{
				"SCHEDULE_LEAD_MINUTES": "soon",
			},
			wantErr: true,
		},
		{
			name: "invalid METRICS_PUSH_SECONDS",
			env: map[string]string{
				"METRICS_PUSH_SECONDS": "-1",
			},
			wantErr: true,
		},
		{
			name: "invalid WS_WRITE_TIMEOUT",
			env: map[string]string{
				"WS_WRITE_TIMEOUT": "invalid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			// Load config
			cfg, err := Load()

			// Check error
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Run custom checks
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestWebSocketConstants(t *testing.T) {
	// Clear environment and set clean defaults
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// PongWait should equal WSReadTimeout
	if cfg.PongWait != cfg.WSReadTimeout {
		t.Errorf("PongWait (%v) should equal WSReadTimeout (%v)", cfg.PongWait, cfg.WSReadTimeout)
	}

	// PingPeriod should be less than PongWait
	if cfg.PingPeriod >= cfg.PongWait {
		t.Errorf("PingPeriod (%v) should be less than PongWait (%v)", cfg.PingPeriod, cfg.PongWait)
	}

	// WriteWait should equal WSWriteTimeout
	if cfg.WriteWait != cfg.WSWriteTimeout {
		t.Errorf("WriteWait (%v) should equal WSWriteTimeout (%v)", cfg.WriteWait, cfg.WSWriteTimeout)
	}

	// MaxMessageSize should be set
	if cfg.MaxMessageSize <= 0 {
		t.Errorf("MaxMessageSize should be positive, got %d", cfg.MaxMessageSize)
	}
}
