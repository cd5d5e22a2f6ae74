// Package toolcall reassembles streamed function invocations from the
// speech leg. Arguments arrive as incremental deltas interleaved with
// audio, then again as authoritative snapshots on item completion and
// response completion; the aggregator dedupes the two authoritative
// paths so each call executes exactly once.
package toolcall

import (
	"encoding/json"
	"log/slog"
	"strings"
)

type Config struct {
	// MaxPending bounds in-flight accumulations. The provider streams a
	// handful of calls per response; far more than that means the leg is
	// misbehaving, and events for new call ids are dropped until a slot
	// frees up.
	MaxPending int

	// MaxHandled bounds the completed-call dedupe set.
	MaxHandled int
}

// Call is a fully assembled invocation ready for execution. Arguments
// is never nil; unparseable argument payloads degrade to an empty
// object so the executor still runs and can report the problem.
type Call struct {
	CallID    string
	Name      string
	Arguments map[string]any
	RawArgs   string
}

type pending struct {
	name string
	args strings.Builder
}

// Aggregator tracks partial and completed calls for one session. It is
// driven from the session's event loop and is not safe for concurrent
// use.
type Aggregator struct {
	cfg Config
	log *slog.Logger

	pending      map[string]*pending
	pendingOrder []string

	// handled maps dispatched call ids to the raw arguments they ran
	// with, so a disagreeing late duplicate can be spotted.
	handled      map[string]string
	handledOrder []string
}

func New(cfg Config, log *slog.Logger) *Aggregator {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 32
	}
	if cfg.MaxHandled <= 0 {
		cfg.MaxHandled = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		cfg:     cfg,
		log:     log,
		pending: make(map[string]*pending),
		handled: make(map[string]string),
	}
}

// Begin records the call name announced before its arguments finish
// streaming. Any accumulated argument text is left untouched.
func (a *Aggregator) Begin(callID, name string) {
	if callID == "" {
		return
	}
	if p := a.entry(callID); p != nil {
		p.name = name
	}
}

// Append accumulates one argument delta for a pending call.
func (a *Aggregator) Append(callID, delta string) {
	if callID == "" || delta == "" {
		return
	}
	if p := a.entry(callID); p != nil {
		p.args.WriteString(delta)
	}
}

// Complete applies an authoritative snapshot. The snapshot replaces any
// accumulated state wholesale; deltas lost to reconnects or reordering
// do not corrupt the final call. The boolean reports whether the call
// is newly ready — false means a duplicate already executed.
func (a *Aggregator) Complete(callID, name, arguments string) (Call, bool) {
	if callID == "" {
		return Call{}, false
	}
	if raw, done := a.handled[callID]; done {
		// The two authoritative forms should agree; a disagreement is
		// undefined upstream behavior worth a trace, never a re-execute.
		if arguments != raw {
			a.log.Debug("duplicate authoritative snapshots disagree",
				"call_id", callID, "dispatched_len", len(raw), "duplicate_len", len(arguments))
		}
		return Call{}, false
	}

	if p, ok := a.pending[callID]; ok {
		if got := p.args.String(); got != "" && got != arguments {
			a.log.Debug("streamed arguments differ from final snapshot",
				"call_id", callID, "streamed_len", len(got), "final_len", len(arguments))
		}
		if name == "" {
			name = p.name
		}
		delete(a.pending, callID)
		a.pendingOrder = deleteString(a.pendingOrder, callID)
	}

	a.markHandled(callID, arguments)

	args := map[string]any{}
	trimmed := strings.TrimSpace(arguments)
	if trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			a.log.Warn("tool call arguments are not valid JSON",
				"call_id", callID, "tool", name, "err", err)
			args = map[string]any{}
		}
	}
	return Call{CallID: callID, Name: name, Arguments: args, RawArgs: arguments}, true
}

// Pending reports in-flight accumulations, for tests and metrics.
func (a *Aggregator) Pending() int { return len(a.pending) }

// entry returns the accumulation for callID, creating it if capacity
// allows. A full table means runaway call fan-out; the new event is
// dropped rather than churning ids that are still legitimately
// streaming.
func (a *Aggregator) entry(callID string) *pending {
	if p, ok := a.pending[callID]; ok {
		return p
	}
	if len(a.pendingOrder) >= a.cfg.MaxPending {
		a.log.Warn("pending tool call table full, dropping event", "call_id", callID)
		return nil
	}
	p := &pending{}
	a.pending[callID] = p
	a.pendingOrder = append(a.pendingOrder, callID)
	return p
}

func (a *Aggregator) markHandled(callID, rawArgs string) {
	if len(a.handledOrder) >= a.cfg.MaxHandled {
		oldest := a.handledOrder[0]
		a.handledOrder = a.handledOrder[1:]
		delete(a.handled, oldest)
	}
	a.handled[callID] = rawArgs
	a.handledOrder = append(a.handledOrder, callID)
}

func deleteString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
