package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/voxwire/voxwire/pkg/bridge/auth"
	"github.com/voxwire/voxwire/pkg/bridge/config"
	"github.com/voxwire/voxwire/pkg/bridge/metrics"
	"github.com/voxwire/voxwire/pkg/bridge/mw"
	"github.com/voxwire/voxwire/pkg/bridge/rategate"
	"github.com/voxwire/voxwire/pkg/bridge/session"
	"github.com/voxwire/voxwire/pkg/bridge/sessions"
	"github.com/voxwire/voxwire/pkg/bridge/tools"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode:            config.AuthModeRequired,
		SharedSecret:        "s3cret",
		AggregateFrames:     10,
		AggregateInterval:   100 * time.Millisecond,
		AggregateMaxBuffer:  500,
		BackpressureCeiling: 64 << 10,
		ToolTimeout:         time.Second,
		MaxPendingCalls:     32,
		HandledSetSize:      100,
		PingInterval:        20 * time.Second,
		WriteTimeout:        5 * time.Second,
		TwilioFromNumber:    "+15550100",
	}
}

func TestHealthAndReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ReadyHandler{Config: testConfig()}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}

	// A required-auth deployment without a secret must fail readiness.
	broken := testConfig()
	broken.SharedSecret = ""
	rec = httptest.NewRecorder()
	ReadyHandler{Config: broken}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("broken ready status = %d", rec.Code)
	}
}

// fakeSpeechConn stands in for the upstream leg in handler tests.
type fakeSpeechConn struct {
	closeCh chan struct{}
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeSpeechConn() *fakeSpeechConn {
	return &fakeSpeechConn{closeCh: make(chan struct{})}
}

func (c *fakeSpeechConn) ReadMessage() (int, []byte, error) {
	<-c.closeCh
	return 0, nil, errors.New("closed")
}

func (c *fakeSpeechConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeSpeechConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeSpeechConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeSpeechConn) SetWriteDeadline(time.Time) error          { return nil }

func (c *fakeSpeechConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

func (c *fakeSpeechConn) hasMessageType(value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, data := range c.written {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil && m["type"] == value {
			return true
		}
	}
	return false
}

func newStreamHandler(speechConn *fakeSpeechConn) StreamHandler {
	cfg := testConfig()
	gate := rategate.New(rategate.Config{}, nil)
	return StreamHandler{
		Config:   cfg,
		Auth:     auth.New(auth.ModeRequired, cfg.SharedSecret, gate),
		Tools:    tools.NewRegistry(nil, tools.Mocks()...),
		Counters: &metrics.Counters{},
		Tracker:  sessions.NewTracker(),
		DialSpeech: func(context.Context) (session.Conn, error) {
			return speechConn, nil
		},
	}
}

func TestStream_RejectsBadTokenBeforeUpgrade(t *testing.T) {
	h := newStreamHandler(newFakeSpeechConn())
	srv := httptest.NewServer(mw.RequestID(h))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial should fail before upgrade")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
	if h.Counters.AdmissionRejected.Load() != 1 {
		t.Fatalf("rejected = %d", h.Counters.AdmissionRejected.Load())
	}
}

func TestStream_AcceptsAndBridges(t *testing.T) {
	speechConn := newFakeSpeechConn()
	h := newStreamHandler(speechConn)
	srv := httptest.NewServer(mw.RequestID(h))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream?token=s3cret"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := `{"event":"start","streamSid":"S1","start":{"streamSid":"S1","callSid":"CA1","customParameters":{"agent":"assistant","token":"s3cret"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if speechConn.hasMessageType("session.update") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("speech leg never received the session configuration")
}

func TestVoiceWebhook(t *testing.T) {
	cfg := testConfig()
	cfg.PublicBaseURL = "https://bridge.example.com"
	rec := httptest.NewRecorder()
	VoiceHandler{Config: cfg}.ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/voice?agent=scheduler", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<Connect>",
		"wss://bridge.example.com/media-stream",
		`name="agent" value="scheduler"`,
		`name="token" value="s3cret"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("twiml missing %q:\n%s", want, body)
		}
	}
}

type fakeCallCreator struct {
	params *api.CreateCallParams
	err    error
}

func (f *fakeCallCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "CA123"
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func TestCalls_Originate(t *testing.T) {
	cfg := testConfig()
	cfg.PublicBaseURL = "https://bridge.example.com"
	creator := &fakeCallCreator{}
	h := CallsHandler{
		Config: cfg,
		Auth:   auth.New(auth.ModeRequired, cfg.SharedSecret, nil),
		Calls:  creator,
	}

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"to":"+15550123","agent":"support"}`))
	req.Header.Set("X-Voxwire-Token", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CallSid string `json:"call_sid"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CallSid != "CA123" {
		t.Fatalf("call_sid = %q", resp.CallSid)
	}
	if creator.params == nil || creator.params.Twiml == nil ||
		!strings.Contains(*creator.params.Twiml, "wss://bridge.example.com/media-stream") {
		t.Fatalf("params = %+v", creator.params)
	}
}

func TestCalls_Guarded(t *testing.T) {
	h := CallsHandler{
		Config: testConfig(),
		Auth:   auth.New(auth.ModeRequired, "s3cret", nil),
		Calls:  &fakeCallCreator{},
	}

	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"to":"+15550123"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{}`))
	req.Header.Set("X-Voxwire-Token", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLiveCount(t *testing.T) {
	tr := sessions.NewTracker()
	un := tr.Register("S1", func() {})
	defer un()

	rec := httptest.NewRecorder()
	LiveHandler{Tracker: tr}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	var resp struct {
		Active int `json:"active_sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Active != 1 {
		t.Fatalf("active = %d", resp.Active)
	}
}
