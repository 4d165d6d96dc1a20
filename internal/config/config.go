package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Record store; empty means in-memory
	DatabaseURL string

	// Tab session storage; empty means in-memory
	SessionDBPath string

	GeocoderURL    string
	TelephonyWSURL string
	CallSimURL     string

	// Metrics push target; empty disables pushing
	PushgatewayURL      string
	MetricsPushInterval time.Duration

	ScheduleLead         time.Duration
	QueueRecheckInterval time.Duration
	ClockInterval        time.Duration
	DispatchDisplayDelay time.Duration
	CallMaxRing          time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SessionDBPath:  os.Getenv("SESSION_DB_PATH"),
		GeocoderURL:    getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		TelephonyWSURL: os.Getenv("TELEPHONY_WS_URL"),
		CallSimURL:     getEnv("CALLSIM_URL", "http://localhost:8081"),
		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 4096

	// Work queue timing
	leadMinutes, err := strconv.Atoi(getEnv("SCHEDULE_LEAD_MINUTES", "60"))
	if err != nil || leadMinutes < 0 {
		return nil, fmt.Errorf("invalid SCHEDULE_LEAD_MINUTES: %q", getEnv("SCHEDULE_LEAD_MINUTES", "60"))
	}
	config.ScheduleLead = time.Duration(leadMinutes) * time.Minute

	recheck, err := strconv.Atoi(getEnv("QUEUE_RECHECK_SECONDS", "60"))
	if err != nil || recheck <= 0 {
		return nil, fmt.Errorf("invalid QUEUE_RECHECK_SECONDS: %q", getEnv("QUEUE_RECHECK_SECONDS", "60"))
	}
	config.QueueRecheckInterval = time.Duration(recheck) * time.Second

	clock, err := strconv.Atoi(getEnv("CLOCK_INTERVAL_SECONDS", "1"))
	if err != nil || clock <= 0 {
		return nil, fmt.Errorf("invalid CLOCK_INTERVAL_SECONDS: %q", getEnv("CLOCK_INTERVAL_SECONDS", "1"))
	}
	config.ClockInterval = time.Duration(clock) * time.Second

	delayMs, err := strconv.Atoi(getEnv("DISPATCH_DISPLAY_DELAY_MS", "1500"))
	if err != nil || delayMs < 0 {
		return nil, fmt.Errorf("invalid DISPATCH_DISPLAY_DELAY_MS: %q", getEnv("DISPATCH_DISPLAY_DELAY_MS", "1500"))
	}
	config.DispatchDisplayDelay = time.Duration(delayMs) * time.Millisecond

	maxRing, err := strconv.Atoi(getEnv("CALL_MAX_RING_SECONDS", "120"))
	if err != nil || maxRing <= 0 {
		return nil, fmt.Errorf("invalid CALL_MAX_RING_SECONDS: %q", getEnv("CALL_MAX_RING_SECONDS", "120"))
	}
	config.CallMaxRing = time.Duration(maxRing) * time.Second

	pushSecs, err := strconv.Atoi(getEnv("METRICS_PUSH_SECONDS", "15"))
	if err != nil || pushSecs <= 0 {
		return nil, fmt.Errorf("invalid METRICS_PUSH_SECONDS: %q", getEnv("METRICS_PUSH_SECONDS", "15"))
	}
	config.MetricsPushInterval = time.Duration(pushSecs) * time.Second

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
