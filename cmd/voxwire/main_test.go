package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/voxwire/voxwire/pkg/bridge/callstore"
	"github.com/voxwire/voxwire/pkg/bridge/config"
	"github.com/voxwire/voxwire/pkg/bridge/server"
	"github.com/voxwire/voxwire/pkg/bridge/session"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newServer: func(config.Config, *slog.Logger, session.Recorder) *server.Server {
			t.Fatalf("newServer should not be called when config load fails")
			return nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunBridge_FailsWhenStoreCannotOpen(t *testing.T) {
	t.Parallel()

	deps := defaultBridgeDeps()
	deps.loadConfig = func() (config.Config, error) {
		cfg := testBridgeConfig()
		cfg.DatabaseURL = "postgres://unused"
		return cfg, nil
	}
	deps.openStore = func(context.Context, string, *slog.Logger) (*callstore.Store, error) {
		return nil, errors.New("connect refused")
	}
	deps.signalNotify = func(chan<- os.Signal, ...os.Signal) {}
	deps.signalStop = func(chan<- os.Signal) {}

	err := runBridge(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
	if err == nil || !strings.Contains(err.Error(), "open call store") {
		t.Fatalf("err = %v, want open call store failure", err)
	}
}

func TestRunBridge_ServesAndShutsDown(t *testing.T) {
	t.Parallel()

	sigCh := make(chan chan<- os.Signal, 1)
	deps := defaultBridgeDeps()
	deps.loadConfig = func() (config.Config, error) { return testBridgeConfig(), nil }
	deps.signalNotify = func(c chan<- os.Signal, _ ...os.Signal) { sigCh <- c }
	deps.signalStop = func(chan<- os.Signal) {}

	done := make(chan error, 1)
	go func() {
		done <- runBridge(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
	}()

	c := <-sigCh
	time.Sleep(50 * time.Millisecond)
	c <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runBridge: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runBridge did not stop after signal")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func testBridgeConfig() config.Config {
	return config.Config{
		Addr:                "127.0.0.1:0",
		AuthMode:            config.AuthModeOpen,
		GateWindow:          time.Minute,
		GateSoftLimit:       100,
		GateHardLimit:       120,
		GateAuthCooldown:    30 * time.Second,
		GateStreamCooldown:  time.Minute,
		GateSweepInterval:   5 * time.Minute,
		AggregateFrames:     10,
		AggregateInterval:   100 * time.Millisecond,
		AggregateMaxBuffer:  500,
		BackpressureCeiling: 64 << 10,
		ToolTimeout:         time.Second,
		MaxPendingCalls:     32,
		HandledSetSize:      100,
		SpeechURL:           "wss://example.invalid/v1/realtime",
		CollabTimeout:       time.Second,
		PingInterval:        20 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadHeaderTimeout:   2 * time.Second,
		MetricsInterval:     time.Minute,
		ShutdownGrace:       time.Second,
	}
}
