package config

import (
	"strings"
	"testing"
	"time"
)

var bridgeEnvKeys = []string{
	"VOXWIRE_ADDR",
	"VOXWIRE_AUTH_MODE",
	"VOXWIRE_SHARED_SECRET",
	"VOXWIRE_PUBLIC_BASE_URL",
	"VOXWIRE_TRUST_PROXY_HEADERS",
	"VOXWIRE_GATE_WINDOW",
	"VOXWIRE_GATE_SOFT_LIMIT",
	"VOXWIRE_GATE_HARD_LIMIT",
	"VOXWIRE_GATE_AUTH_COOLDOWN",
	"VOXWIRE_GATE_STREAM_COOLDOWN",
	"VOXWIRE_GATE_SWEEP_INTERVAL",
	"VOXWIRE_AGGREGATE_FRAMES",
	"VOXWIRE_AGGREGATE_INTERVAL",
	"VOXWIRE_AGGREGATE_MAX_BUFFER",
	"VOXWIRE_BACKPRESSURE_CEILING",
	"VOXWIRE_TOOL_TIMEOUT",
	"VOXWIRE_MAX_PENDING_CALLS",
	"VOXWIRE_HANDLED_SET_SIZE",
	"VOXWIRE_SPEECH_URL",
	"VOXWIRE_SPEECH_API_KEY",
	"VOXWIRE_SPEECH_MODEL",
	"VOXWIRE_SPEECH_VOICE",
	"VOXWIRE_SPEECH_TEMPERATURE",
	"VOXWIRE_CALENDAR_BASE_URL",
	"VOXWIRE_EMAIL_BASE_URL",
	"VOXWIRE_COLLAB_TIMEOUT",
	"VOXWIRE_DATABASE_URL",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"VOXWIRE_FROM_NUMBER",
	"VOXWIRE_WS_PING_INTERVAL",
	"VOXWIRE_WS_WRITE_TIMEOUT",
	"VOXWIRE_READ_HEADER_TIMEOUT",
	"VOXWIRE_METRICS_INTERVAL",
	"VOXWIRE_SHUTDOWN_GRACE_PERIOD",
}

func clearBridgeEnv(t *testing.T) {
	t.Helper()
	for _, key := range bridgeEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("VOXWIRE_SHARED_SECRET", "s3cret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.GateWindow != 60*time.Second {
		t.Fatalf("GateWindow = %v, want 60s", cfg.GateWindow)
	}
	if cfg.GateSoftLimit != 100 || cfg.GateHardLimit != 120 {
		t.Fatalf("gate limits = %d/%d, want 100/120", cfg.GateSoftLimit, cfg.GateHardLimit)
	}
	if cfg.GateAuthCooldown != 30*time.Second {
		t.Fatalf("GateAuthCooldown = %v, want 30s", cfg.GateAuthCooldown)
	}
	if cfg.GateStreamCooldown != 60*time.Second {
		t.Fatalf("GateStreamCooldown = %v, want 60s", cfg.GateStreamCooldown)
	}
	if cfg.GateSweepInterval != 5*time.Minute {
		t.Fatalf("GateSweepInterval = %v, want 5m", cfg.GateSweepInterval)
	}
	if cfg.AggregateFrames != 10 {
		t.Fatalf("AggregateFrames = %d, want 10", cfg.AggregateFrames)
	}
	if cfg.AggregateInterval != 100*time.Millisecond {
		t.Fatalf("AggregateInterval = %v, want 100ms", cfg.AggregateInterval)
	}
	if cfg.AggregateMaxBuffer != 500 {
		t.Fatalf("AggregateMaxBuffer = %d, want 500", cfg.AggregateMaxBuffer)
	}
	if cfg.BackpressureCeiling != 64<<10 {
		t.Fatalf("BackpressureCeiling = %d, want %d", cfg.BackpressureCeiling, 64<<10)
	}
	if cfg.ToolTimeout != 10*time.Second {
		t.Fatalf("ToolTimeout = %v, want 10s", cfg.ToolTimeout)
	}
	if cfg.MaxPendingCalls != 32 {
		t.Fatalf("MaxPendingCalls = %d, want 32", cfg.MaxPendingCalls)
	}
	if cfg.HandledSetSize != 100 {
		t.Fatalf("HandledSetSize = %d, want 100", cfg.HandledSetSize)
	}
	if !strings.HasPrefix(cfg.SpeechURL, "wss://") {
		t.Fatalf("SpeechURL = %q", cfg.SpeechURL)
	}
	if cfg.SpeechVoice != "alloy" {
		t.Fatalf("SpeechVoice = %q, want alloy", cfg.SpeechVoice)
	}
	if cfg.SpeechTemperature != 0.8 {
		t.Fatalf("SpeechTemperature = %v, want 0.8", cfg.SpeechTemperature)
	}
	if cfg.PingInterval != 20*time.Second {
		t.Fatalf("PingInterval = %v, want 20s", cfg.PingInterval)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
}

func TestLoadFromEnv_RequiredModeNeedsSecret(t *testing.T) {
	clearBridgeEnv(t)

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when auth mode is required and no secret is set")
	}
}

func TestLoadFromEnv_OpenModeIsExplicit(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("VOXWIRE_AUTH_MODE", "open")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.AuthMode != AuthModeOpen {
		t.Fatalf("AuthMode = %q, want open", cfg.AuthMode)
	}
}

func TestLoadFromEnv_RejectsInvalidAuthMode(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("VOXWIRE_AUTH_MODE", "maybe")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for invalid auth mode")
	}
}

func TestLoadFromEnv_RejectsInconsistentGateLimits(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("VOXWIRE_SHARED_SECRET", "s3cret")
	t.Setenv("VOXWIRE_GATE_SOFT_LIMIT", "50")
	t.Setenv("VOXWIRE_GATE_HARD_LIMIT", "10")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when hard limit < soft limit")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("VOXWIRE_SHARED_SECRET", "s3cret")
	t.Setenv("VOXWIRE_AGGREGATE_FRAMES", "20")
	t.Setenv("VOXWIRE_AGGREGATE_INTERVAL", "50ms")
	t.Setenv("VOXWIRE_GATE_WINDOW", "2m")
	t.Setenv("VOXWIRE_SPEECH_TEMPERATURE", "0.6")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.AggregateFrames != 20 {
		t.Fatalf("AggregateFrames = %d, want 20", cfg.AggregateFrames)
	}
	if cfg.SpeechTemperature != 0.6 {
		t.Fatalf("SpeechTemperature = %v, want 0.6", cfg.SpeechTemperature)
	}
	if cfg.AggregateInterval != 50*time.Millisecond {
		t.Fatalf("AggregateInterval = %v, want 50ms", cfg.AggregateInterval)
	}
	if cfg.GateWindow != 2*time.Minute {
		t.Fatalf("GateWindow = %v, want 2m", cfg.GateWindow)
	}
}
