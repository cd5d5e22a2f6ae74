// Package session owns the lifetime of one bridged call: the carrier
// leg it was accepted on, the speech leg it opens lazily, the audio
// aggregators relaying between them, and the tool-call pipeline.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxwire/voxwire/pkg/bridge/agent"
	"github.com/voxwire/voxwire/pkg/bridge/audio"
	"github.com/voxwire/voxwire/pkg/bridge/auth"
	"github.com/voxwire/voxwire/pkg/bridge/metrics"
	"github.com/voxwire/voxwire/pkg/bridge/speech"
	"github.com/voxwire/voxwire/pkg/bridge/telephony"
	"github.com/voxwire/voxwire/pkg/bridge/toolcall"
	"github.com/voxwire/voxwire/pkg/bridge/tools"
)

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Recorder persists call lifecycle events. All methods must be cheap
// or internally asynchronous; they run on the session event loop.
type Recorder interface {
	CallStarted(ctx context.Context, streamSid, callSid, agentName string)
	CallEnded(ctx context.Context, streamSid, disposition string, duration time.Duration)
	ToolInvoked(ctx context.Context, streamSid, tool string, failed bool)
}

type Config struct {
	Audio audio.Config
	Tool  toolcall.Config

	ToolTimeout       time.Duration
	FlushTick         time.Duration
	SpeechDialTimeout time.Duration

	QueueSize    int
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	Temperature  float64
	DefaultVoice string
	DefaultAgent string
}

type Dependencies struct {
	Carrier    Conn
	DialSpeech func(ctx context.Context) (Conn, error)

	Authorizer *auth.Authenticator
	Tools      *tools.Registry
	Counters   *metrics.Counters
	Recorder   Recorder
	Logger     *slog.Logger

	Config     Config
	RemoteAddr string
	RequestID  string
	Now        func() time.Time
}

// Bridge relays one call between the two legs. All mutable state is
// owned by the Run event loop; the only cross-goroutine surfaces are
// the writers, the tool-result channel, and the close path.
type Bridge struct {
	deps Dependencies
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	closeOnce sync.Once

	streamSid string
	callSid   string
	persona   agent.Persona
	memory    *tools.Memory
	started   time.Time

	carrierWriter *legWriter
	speechWriter  *legWriter
	speechConn    Conn

	inAgg  *audio.Aggregator
	outAgg *audio.Aggregator

	toolAgg     *toolcall.Aggregator
	toolResults chan toolResult

	speechRead      chan inbound
	speechWriterErr chan error

	disposition string
}

type inbound struct {
	data []byte
	err  error
}

type toolResult struct {
	callID  string
	payload any
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Carrier == nil {
		return nil, fmt.Errorf("carrier connection is required")
	}
	if deps.DialSpeech == nil {
		return nil, fmt.Errorf("speech dialer is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Counters == nil {
		deps.Counters = &metrics.Counters{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 10 * time.Second
	}
	if cfg.FlushTick <= 0 {
		cfg.FlushTick = 25 * time.Millisecond
	}
	if cfg.SpeechDialTimeout <= 0 {
		cfg.SpeechDialTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.DefaultAgent) == "" {
		cfg.DefaultAgent = agent.DefaultPersona
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		deps:        deps,
		cfg:         cfg,
		log:         deps.Logger.With("request_id", deps.RequestID, "remote", deps.RemoteAddr),
		now:         deps.Now,
		ctx:         ctx,
		cancel:      cancel,
		memory:      tools.NewMemory(),
		toolResults: make(chan toolResult, 16),
		started:     deps.Now(),
		disposition: "completed",
	}
	b.toolAgg = toolcall.New(cfg.Tool, b.log)
	return b, nil
}

func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) StreamSid() string { return b.streamSid }

// Close ends the session from outside the event loop, for process
// shutdown. The loop observes the cancellation and runs the one
// teardown sequence itself; calling Close repeatedly is harmless.
func (b *Bridge) Close() {
	b.cancel()
}

// Run drives the session until either leg ends it. The carrier leg is
// already accepted; the speech leg opens only once the carrier signals
// a real call start.
func (b *Bridge) Run() error {
	defer b.teardown("run exit")

	b.deps.Counters.SessionsStarted.Add(1)

	carrierRead := make(chan inbound, 64)
	go readLoop(b.ctx, b.deps.Carrier, b.cfg.ReadTimeout, carrierRead)

	b.carrierWriter = newLegWriter(b.ctx, b.deps.Carrier, b.cfg.QueueSize, b.cfg.PingInterval, b.cfg.WriteTimeout)
	carrierWriterErr := make(chan error, 1)
	go func() { carrierWriterErr <- b.carrierWriter.Run() }()

	flushTicker := time.NewTicker(b.cfg.FlushTick)
	defer flushTicker.Stop()

	for {
		// speechRead and speechWriterErr stay nil until the start event;
		// nil channels never fire.
		select {
		case <-b.ctx.Done():
			return nil

		case msg := <-carrierRead:
			if msg.err != nil {
				b.log.Info("carrier leg closed", "err", msg.err)
				b.disposition = "carrier_disconnect"
				return nil
			}
			stop, err := b.handleCarrier(msg.data)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}

		case msg := <-b.speechRead:
			if msg.err != nil {
				b.log.Info("speech leg closed", "err", msg.err)
				b.disposition = "speech_disconnect"
				return nil
			}
			if err := b.handleSpeech(msg.data); err != nil {
				return err
			}

		case err := <-carrierWriterErr:
			if err != nil {
				b.log.Warn("carrier writer failed", "err", err)
				b.disposition = "carrier_disconnect"
			}
			return err

		case err := <-b.speechWriterErr:
			if err != nil {
				b.log.Warn("speech writer failed", "err", err)
				b.disposition = "speech_disconnect"
			}
			return err

		case tr := <-b.toolResults:
			if err := b.sendToolResult(tr); err != nil {
				return err
			}

		case <-flushTicker.C:
			if err := b.inAgg.Tick(); err != nil {
				return err
			}
			if err := b.outAgg.Tick(); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) handleCarrier(data []byte) (stop bool, err error) {
	decoded, derr := telephony.Decode(data)
	if derr != nil {
		b.deps.Counters.FramesMalformed.Add(1)
		b.log.Debug("malformed carrier frame dropped", "err", derr)
		return false, nil
	}

	switch msg := decoded.(type) {
	case telephony.Connected:
		b.log.Debug("carrier transport connected", "protocol", msg.Protocol)
		return false, nil

	case telephony.Start:
		return false, b.onStart(msg)

	case telephony.Media:
		if b.State() != StateActive {
			b.deps.Counters.FramesDropped.Add(1)
			return false, nil
		}
		raw, derr := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if derr != nil {
			b.deps.Counters.FramesMalformed.Add(1)
			return false, nil
		}
		b.deps.Counters.FramesIn.Add(1)
		return false, b.inAgg.Offer(raw)

	case telephony.Stop:
		b.log.Info("carrier signaled stop", "stream_sid", b.streamSid)
		return true, nil

	case telephony.Mark:
		b.log.Debug("playback mark acknowledged", "mark", msg.Mark.Name)
		return false, nil
	}
	return false, nil
}

// onStart finishes admission and activates the relay: the redelivered
// token is checked (a reconnect storm otherwise bypasses handshake
// auth), the persona resolved, and the speech leg dialed.
func (b *Bridge) onStart(start telephony.Start) error {
	if b.State() != StateConnecting {
		b.log.Warn("duplicate start event ignored", "stream_sid", start.StreamSid)
		return nil
	}
	b.streamSid = start.StreamSid
	b.callSid = start.Start.CallSid
	b.log = b.log.With("stream_sid", b.streamSid)

	if b.deps.Authorizer != nil {
		res := b.deps.Authorizer.Authorize(start.Parameter("token"), b.deps.RemoteAddr, b.streamSid)
		if !res.Accepted {
			b.deps.Counters.AdmissionRejected.Add(1)
			b.disposition = "rejected"
			return fmt.Errorf("start token rejected: %s", res.Reason)
		}
	}

	name := start.Parameter("agent")
	if name == "" {
		name = b.cfg.DefaultAgent
	}
	persona, err := agent.Lookup(name)
	if err != nil {
		b.disposition = "rejected"
		return err
	}
	b.persona = persona

	dialCtx, cancel := context.WithTimeout(b.ctx, b.cfg.SpeechDialTimeout)
	conn, err := b.deps.DialSpeech(dialCtx)
	cancel()
	if err != nil {
		b.disposition = "speech_dial_failed"
		return fmt.Errorf("open speech leg: %w", err)
	}
	b.speechConn = conn

	b.speechWriter = newLegWriter(b.ctx, conn, b.cfg.QueueSize, b.cfg.PingInterval, b.cfg.WriteTimeout)
	b.speechWriterErr = make(chan error, 1)
	go func() { b.speechWriterErr <- b.speechWriter.Run() }()

	b.speechRead = make(chan inbound, 64)
	go readLoop(b.ctx, conn, b.cfg.ReadTimeout, b.speechRead)

	b.inAgg = audio.New(b.cfg.Audio, &speechSink{w: b.speechWriter}, b.now)
	b.outAgg = audio.New(b.cfg.Audio, &carrierSink{w: b.carrierWriter, streamSid: b.streamSid}, b.now)

	update, err := speech.EncodeSessionUpdate(persona.SessionConfig(b.deps.Tools.Schemas, b.cfg.DefaultVoice, b.cfg.Temperature))
	if err != nil {
		return err
	}
	if err := b.speechWriter.Enqueue(update); err != nil {
		return err
	}

	if b.deps.Recorder != nil {
		b.deps.Recorder.CallStarted(b.ctx, b.streamSid, b.callSid, persona.Name)
	}
	b.state.Store(int32(StateActive))
	b.log.Info("session active", "call_sid", b.callSid, "agent", persona.Name)
	return nil
}

func (b *Bridge) handleSpeech(data []byte) error {
	decoded, err := speech.Decode(data)
	if err != nil {
		b.deps.Counters.FramesMalformed.Add(1)
		b.log.Debug("malformed speech frame dropped", "err", err)
		return nil
	}

	switch msg := decoded.(type) {
	case nil:
		return nil

	case speech.AudioDelta:
		raw, derr := base64.StdEncoding.DecodeString(msg.Delta)
		if derr != nil {
			b.deps.Counters.FramesMalformed.Add(1)
			return nil
		}
		b.deps.Counters.FramesOut.Add(1)
		return b.outAgg.Offer(raw)

	case speech.SpeechStarted:
		// Barge-in: queued assistant audio is stale, clear it on both
		// sides so the caller isn't talked over.
		b.outAgg.Reset()
		clearMsg, cerr := telephony.EncodeClear(b.streamSid)
		if cerr != nil {
			return cerr
		}
		if err := b.carrierWriter.Enqueue(clearMsg); err != nil {
			b.log.Debug("clear not delivered", "err", err)
		}
		return nil

	case speech.FunctionArgsDelta:
		b.toolAgg.Append(msg.CallID, msg.Delta)
		return nil

	case speech.OutputItem:
		if !msg.Item.IsFunctionCall() {
			return nil
		}
		if msg.Done {
			b.dispatchIfReady(msg.Item)
		} else {
			b.toolAgg.Begin(msg.Item.CallID, msg.Item.Name)
		}
		return nil

	case speech.ResponseDone:
		for _, item := range msg.Items {
			if item.IsFunctionCall() {
				b.dispatchIfReady(item)
			}
		}
		return nil

	case speech.TranscriptionCompleted:
		if msg.Transcript != "" {
			b.log.Info("caller transcript", "transcript", msg.Transcript)
		}
		return nil

	case speech.ErrorEvent:
		b.log.Warn("speech leg error event", "type", msg.Type, "code", msg.Code, "message", msg.Message)
		return nil
	}
	return nil
}

// dispatchIfReady applies an authoritative tool-call snapshot and, if
// it is new, executes it off the event loop. The result comes back via
// the tool-result channel; a hung tool never stalls audio relay.
func (b *Bridge) dispatchIfReady(item speech.Item) {
	call, ready := b.toolAgg.Complete(item.CallID, item.Name, item.Arguments)
	if !ready {
		b.deps.Counters.ToolDuplicates.Add(1)
		return
	}
	b.deps.Counters.ToolCalls.Add(1)

	scope := tools.Scope{SessionID: b.streamSid, Agent: b.persona.Name, Memory: b.memory}
	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.ToolTimeout)
		defer cancel()
		payload := b.deps.Tools.Execute(ctx, scope, call.Name, call.Arguments)

		failed := false
		if m, ok := payload.(map[string]any); ok {
			_, failed = m["error"]
		}
		if failed {
			b.deps.Counters.ToolErrors.Add(1)
		}
		if b.deps.Recorder != nil {
			b.deps.Recorder.ToolInvoked(ctx, b.streamSid, call.Name, failed)
		}

		// If the session is gone, the result is discarded.
		select {
		case b.toolResults <- toolResult{callID: call.CallID, payload: payload}:
		case <-b.ctx.Done():
		}
	}()
}

func (b *Bridge) sendToolResult(tr toolResult) error {
	data, err := speech.EncodeFunctionResult(tr.callID, tr.payload)
	if err != nil {
		return err
	}
	return b.speechWriter.Enqueue(data)
}

// teardown runs exactly once no matter which leg or caller triggers
// it: final audio flush, cancel, close both legs, release state.
func (b *Bridge) teardown(reason string) {
	b.closeOnce.Do(func() {
		b.state.Store(int32(StateClosing))

		_ = b.inAgg.Close()
		_ = b.outAgg.Close()
		b.cancel()

		_ = b.deps.Carrier.Close()
		if b.speechConn != nil {
			_ = b.speechConn.Close()
		}

		in, out := b.inAgg.Stats(), b.outAgg.Stats()
		b.deps.Counters.FramesDropped.Add(in.FramesDropped + out.FramesDropped)
		b.deps.Counters.FlushesSkipped.Add(in.FlushesSkipped + out.FlushesSkipped)

		duration := b.now().Sub(b.started)
		if b.deps.Recorder != nil && b.streamSid != "" {
			b.deps.Recorder.CallEnded(context.Background(), b.streamSid, b.disposition, duration)
		}
		b.deps.Counters.SessionsClosed.Add(1)

		b.state.Store(int32(StateClosed))
		b.log.Info("session closed", "reason", reason, "disposition", b.disposition,
			"duration_ms", duration.Milliseconds())
	})
}

func readLoop(ctx context.Context, conn Conn, readTimeout time.Duration, out chan<- inbound) {
	for {
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case out <- inbound{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- inbound{data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// speechSink adapts the speech writer for the inbound aggregator:
// concatenated caller audio becomes one input_audio_buffer.append.
type speechSink struct {
	w *legWriter
}

func (s *speechSink) Buffered() int { return s.w.Buffered() }

func (s *speechSink) Send(payload []byte) error {
	data, err := speech.EncodeAudioAppend(base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		return err
	}
	return s.w.Enqueue(data)
}

// carrierSink adapts the carrier writer for the outbound aggregator:
// concatenated assistant audio becomes one media event.
type carrierSink struct {
	w         *legWriter
	streamSid string
}

func (s *carrierSink) Buffered() int { return s.w.Buffered() }

func (s *carrierSink) Send(payload []byte) error {
	data, err := telephony.EncodeMedia(s.streamSid, base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		return err
	}
	return s.w.Enqueue(data)
}
