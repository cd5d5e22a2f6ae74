package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOpen     AuthMode = "open"
)

type Config struct {
	Addr string

	// AuthMode is explicit: "open" is a deliberate development choice,
	// never a fallback for a missing secret.
	AuthMode     AuthMode
	SharedSecret string

	// PublicBaseURL is the externally reachable base used to build the
	// stream URL handed to the carrier in TwiML.
	PublicBaseURL string

	// If true, client identity may be derived from proxy headers like
	// X-Forwarded-For. Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// Admission control (per source address).
	GateWindow         time.Duration
	GateSoftLimit      int
	GateHardLimit      int
	GateAuthCooldown   time.Duration
	GateStreamCooldown time.Duration
	GateSweepInterval  time.Duration

	// Audio aggregation (both directions).
	AggregateFrames     int
	AggregateInterval   time.Duration
	AggregateMaxBuffer  int
	BackpressureCeiling int

	// Tool pipeline.
	ToolTimeout     time.Duration
	MaxPendingCalls int
	HandledSetSize  int

	// Speech-AI upstream.
	SpeechURL         string
	SpeechAPIKey      string
	SpeechModel       string
	SpeechVoice       string
	SpeechTemperature float64

	// Calendar/email collaborators (opaque JSON RPC).
	CalendarBaseURL string
	EmailBaseURL    string
	CollabTimeout   time.Duration

	// Call store (optional; disabled when DSN is empty).
	DatabaseURL string

	// Outbound call origination.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Transport timeouts.
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadHeaderTimeout time.Duration
	MetricsInterval   time.Duration
	ShutdownGrace     time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXWIRE_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("VOXWIRE_AUTH_MODE", string(AuthModeRequired))),
		SharedSecret:        strings.TrimSpace(os.Getenv("VOXWIRE_SHARED_SECRET")),
		PublicBaseURL:       envOr("VOXWIRE_PUBLIC_BASE_URL", ""),
		TrustProxyHeaders:   envBoolOr("VOXWIRE_TRUST_PROXY_HEADERS", false),
		GateWindow:          envDurationOr("VOXWIRE_GATE_WINDOW", 60*time.Second),
		GateSoftLimit:       envIntOr("VOXWIRE_GATE_SOFT_LIMIT", 100),
		GateHardLimit:       envIntOr("VOXWIRE_GATE_HARD_LIMIT", 120),
		GateAuthCooldown:    envDurationOr("VOXWIRE_GATE_AUTH_COOLDOWN", 30*time.Second),
		GateStreamCooldown:  envDurationOr("VOXWIRE_GATE_STREAM_COOLDOWN", 60*time.Second),
		GateSweepInterval:   envDurationOr("VOXWIRE_GATE_SWEEP_INTERVAL", 5*time.Minute),
		AggregateFrames:     envIntOr("VOXWIRE_AGGREGATE_FRAMES", 10),
		AggregateInterval:   envDurationOr("VOXWIRE_AGGREGATE_INTERVAL", 100*time.Millisecond),
		AggregateMaxBuffer:  envIntOr("VOXWIRE_AGGREGATE_MAX_BUFFER", 500),
		BackpressureCeiling: envIntOr("VOXWIRE_BACKPRESSURE_CEILING", 64<<10),
		ToolTimeout:         envDurationOr("VOXWIRE_TOOL_TIMEOUT", 10*time.Second),
		MaxPendingCalls:     envIntOr("VOXWIRE_MAX_PENDING_CALLS", 32),
		HandledSetSize:      envIntOr("VOXWIRE_HANDLED_SET_SIZE", 100),
		SpeechURL:           envOr("VOXWIRE_SPEECH_URL", "wss://api.openai.com/v1/realtime"),
		SpeechAPIKey:        strings.TrimSpace(os.Getenv("VOXWIRE_SPEECH_API_KEY")),
		SpeechModel:         envOr("VOXWIRE_SPEECH_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		SpeechVoice:         envOr("VOXWIRE_SPEECH_VOICE", "alloy"),
		SpeechTemperature:   envFloatOr("VOXWIRE_SPEECH_TEMPERATURE", 0.8),
		CalendarBaseURL:     envOr("VOXWIRE_CALENDAR_BASE_URL", ""),
		EmailBaseURL:        envOr("VOXWIRE_EMAIL_BASE_URL", ""),
		CollabTimeout:       envDurationOr("VOXWIRE_COLLAB_TIMEOUT", 8*time.Second),
		DatabaseURL:         strings.TrimSpace(os.Getenv("VOXWIRE_DATABASE_URL")),
		TwilioAccountSID:    strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:     strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioFromNumber:    strings.TrimSpace(os.Getenv("VOXWIRE_FROM_NUMBER")),
		PingInterval:        envDurationOr("VOXWIRE_WS_PING_INTERVAL", 20*time.Second),
		WriteTimeout:        envDurationOr("VOXWIRE_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOXWIRE_READ_HEADER_TIMEOUT", 10*time.Second),
		MetricsInterval:     envDurationOr("VOXWIRE_METRICS_INTERVAL", 30*time.Second),
		ShutdownGrace:       envDurationOr("VOXWIRE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOpen:
	default:
		return Config{}, fmt.Errorf("VOXWIRE_AUTH_MODE must be one of required|open")
	}
	if cfg.AuthMode == AuthModeRequired && cfg.SharedSecret == "" {
		return Config{}, fmt.Errorf("VOXWIRE_SHARED_SECRET must be set when VOXWIRE_AUTH_MODE=required")
	}
	if cfg.GateWindow <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_GATE_WINDOW must be > 0")
	}
	if cfg.GateSoftLimit <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_GATE_SOFT_LIMIT must be > 0")
	}
	if cfg.GateHardLimit < cfg.GateSoftLimit {
		return Config{}, fmt.Errorf("VOXWIRE_GATE_HARD_LIMIT must be >= VOXWIRE_GATE_SOFT_LIMIT")
	}
	if cfg.GateAuthCooldown <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_GATE_AUTH_COOLDOWN must be > 0")
	}
	if cfg.GateStreamCooldown <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_GATE_STREAM_COOLDOWN must be > 0")
	}
	if cfg.AggregateFrames <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_AGGREGATE_FRAMES must be > 0")
	}
	if cfg.AggregateInterval <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_AGGREGATE_INTERVAL must be > 0")
	}
	if cfg.AggregateMaxBuffer < cfg.AggregateFrames {
		return Config{}, fmt.Errorf("VOXWIRE_AGGREGATE_MAX_BUFFER must be >= VOXWIRE_AGGREGATE_FRAMES")
	}
	if cfg.BackpressureCeiling <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_BACKPRESSURE_CEILING must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.MaxPendingCalls <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_MAX_PENDING_CALLS must be > 0")
	}
	if cfg.HandledSetSize <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_HANDLED_SET_SIZE must be > 0")
	}
	if strings.TrimSpace(cfg.SpeechURL) == "" {
		return Config{}, fmt.Errorf("VOXWIRE_SPEECH_URL must not be empty")
	}
	if cfg.SpeechTemperature <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_SPEECH_TEMPERATURE must be > 0")
	}
	if cfg.CollabTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_COLLAB_TIMEOUT must be > 0")
	}
	if cfg.PingInterval <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.MetricsInterval <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_METRICS_INTERVAL must be > 0")
	}
	if cfg.ShutdownGrace <= 0 {
		return Config{}, fmt.Errorf("VOXWIRE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envFloatOr(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
