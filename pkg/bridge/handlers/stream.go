package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voxwire/voxwire/pkg/bridge/auth"
	"github.com/voxwire/voxwire/pkg/bridge/config"
	"github.com/voxwire/voxwire/pkg/bridge/metrics"
	"github.com/voxwire/voxwire/pkg/bridge/mw"
	"github.com/voxwire/voxwire/pkg/bridge/session"
	"github.com/voxwire/voxwire/pkg/bridge/sessions"
	"github.com/voxwire/voxwire/pkg/bridge/tools"
)

// StreamHandler accepts the carrier's media-stream websocket and runs
// one bridge per connection.
type StreamHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Auth     *auth.Authenticator
	Tools    *tools.Registry
	Counters *metrics.Counters
	Recorder session.Recorder
	Tracker  *sessions.Tracker

	// DialSpeech opens the upstream leg; tests substitute fakes.
	DialSpeech func(ctx context.Context) (session.Conn, error)
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apiError{
			Type: "invalid_request", Message: "method not allowed", RequestID: reqID,
		})
		return
	}

	// Token check happens before the upgrade: a connection that will be
	// rejected never becomes a websocket, and the rejection arms the
	// cooldown tables against the carrier's automatic redial.
	addr := auth.ClientIP(r, h.Config.TrustProxyHeaders)
	if res := h.Auth.Authorize(auth.TokenFromRequest(r), addr, ""); !res.Accepted {
		if h.Counters != nil {
			h.Counters.AdmissionRejected.Add(1)
		}
		log.Warn("stream rejected before upgrade",
			"request_id", reqID, "remote", addr, "reason", res.Reason, "from_cooldown", res.FromCooldown)
		writeError(w, http.StatusUnauthorized, apiError{
			Type: string(res.Reason), Message: "connection rejected", RequestID: reqID,
		})
		return
	}

	upgrader := websocket.Upgrader{
		// The carrier does not send a browser Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "request_id", reqID, "err", err)
		return
	}

	bridge, err := session.New(session.Dependencies{
		Carrier:    conn,
		DialSpeech: h.DialSpeech,
		Authorizer: h.Auth,
		Tools:      h.Tools,
		Counters:   h.Counters,
		Recorder:   h.Recorder,
		Logger:     log,
		Config:     h.sessionConfig(r.URL.Query().Get("agent")),
		RemoteAddr: addr,
		RequestID:  reqID,
	})
	if err != nil {
		log.Error("bridge setup failed", "request_id", reqID, "err", err)
		_ = conn.Close()
		return
	}

	if h.Tracker != nil {
		// The request id can be caller-supplied and is not unique; the
		// tracker key must be.
		unregister := h.Tracker.Register(uuid.NewString(), bridge.Close)
		defer unregister()
	}

	if err := bridge.Run(); err != nil {
		log.Info("bridge ended with error", "request_id", reqID, "err", err)
	}
}

func (h StreamHandler) sessionConfig(agentParam string) session.Config {
	cfg := session.Config{
		ToolTimeout:  h.Config.ToolTimeout,
		QueueSize:    256,
		PingInterval: h.Config.PingInterval,
		WriteTimeout: h.Config.WriteTimeout,
		Temperature:  h.Config.SpeechTemperature,
		DefaultVoice: h.Config.SpeechVoice,
		DefaultAgent: agentParam,
	}
	cfg.Audio.FlushFrames = h.Config.AggregateFrames
	cfg.Audio.FlushInterval = h.Config.AggregateInterval
	cfg.Audio.MaxBuffer = h.Config.AggregateMaxBuffer
	cfg.Audio.BackpressureCeiling = h.Config.BackpressureCeiling
	cfg.Tool.MaxPending = h.Config.MaxPendingCalls
	cfg.Tool.MaxHandled = h.Config.HandledSetSize
	return cfg
}
