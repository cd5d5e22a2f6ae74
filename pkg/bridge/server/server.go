// Package server wires the bridge components behind one HTTP handler.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/twilio/twilio-go"
	"github.com/voxwire/voxwire/pkg/bridge/auth"
	"github.com/voxwire/voxwire/pkg/bridge/collab"
	"github.com/voxwire/voxwire/pkg/bridge/config"
	"github.com/voxwire/voxwire/pkg/bridge/handlers"
	"github.com/voxwire/voxwire/pkg/bridge/metrics"
	"github.com/voxwire/voxwire/pkg/bridge/mw"
	"github.com/voxwire/voxwire/pkg/bridge/rategate"
	"github.com/voxwire/voxwire/pkg/bridge/session"
	"github.com/voxwire/voxwire/pkg/bridge/sessions"
	"github.com/voxwire/voxwire/pkg/bridge/speech"
	"github.com/voxwire/voxwire/pkg/bridge/tools"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	gate     *rategate.Gate
	authn    *auth.Authenticator
	tracker  *sessions.Tracker
	counters *metrics.Counters
	registry *tools.Registry
	recorder session.Recorder
	calls    handlers.CallCreator
}

// New assembles the server. The recorder may be nil when no call store
// is configured.
func New(cfg config.Config, logger *slog.Logger, recorder session.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gate := rategate.New(rategate.Config{
		Window:         cfg.GateWindow,
		SoftLimit:      cfg.GateSoftLimit,
		HardLimit:      cfg.GateHardLimit,
		AuthCooldown:   cfg.GateAuthCooldown,
		StreamCooldown: cfg.GateStreamCooldown,
		SweepInterval:  cfg.GateSweepInterval,
	}, nil)

	mode := auth.ModeRequired
	if cfg.AuthMode == config.AuthModeOpen {
		mode = auth.ModeOpen
	}

	calendar := collab.NewCalendarClient(cfg.CalendarBaseURL, cfg.SharedSecret, cfg.CollabTimeout, nil)
	email := collab.NewEmailClient(cfg.EmailBaseURL, cfg.SharedSecret, cfg.CollabTimeout, nil)
	executors := append(tools.Mocks(), tools.Delegates(calendar, email)...)

	var calls handlers.CallCreator
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
		calls = client.Api
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		gate:     gate,
		authn:    auth.New(mode, cfg.SharedSecret, gate),
		tracker:  sessions.NewTracker(),
		counters: &metrics.Counters{},
		registry: tools.NewRegistry(logger, executors...),
		recorder: recorder,
		calls:    calls,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})

	s.mux.Handle("/media-stream", handlers.StreamHandler{
		Config:     s.cfg,
		Logger:     s.logger,
		Auth:       s.authn,
		Tools:      s.registry,
		Counters:   s.counters,
		Recorder:   s.recorder,
		Tracker:    s.tracker,
		DialSpeech: s.dialSpeech,
	})
	s.mux.Handle("/voice", handlers.VoiceHandler{
		Config: s.cfg,
		Logger: s.logger,
	})
	s.mux.Handle("/calls", handlers.CallsHandler{
		Config: s.cfg,
		Logger: s.logger,
		Auth:   s.authn,
		Calls:  s.calls,
	})
	s.mux.Handle("/live", handlers.LiveHandler{Tracker: s.tracker})
}

func (s *Server) dialSpeech(ctx context.Context) (session.Conn, error) {
	conn, err := speech.Dial(ctx, speech.DialConfig{
		URL:    s.cfg.SpeechURL,
		Model:  s.cfg.SpeechModel,
		APIKey: s.cfg.SpeechAPIKey,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Admission(s.gate, s.cfg.TrustProxyHeaders, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// RunSweeper bounds the gate tables; run it for the process lifetime.
func (s *Server) RunSweeper(ctx context.Context) {
	s.gate.RunSweeper(ctx)
}

// ReportMetrics logs counter snapshots until ctx is done.
func (s *Server) ReportMetrics(ctx context.Context) {
	s.counters.Report(ctx, s.cfg.MetricsInterval, s.logger)
}

func (s *Server) CancelSessions() int { return s.tracker.CancelAll() }

func (s *Server) WaitSessions(ctx context.Context) bool { return s.tracker.Wait(ctx) }
