// Package tools implements the executor side of the tool-call pipeline:
// a registry of named executors dispatched with parsed arguments, a
// never-panic execution boundary, and the builtin mock and delegating
// executors the personas advertise.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/voxwire/voxwire/pkg/bridge/speech"
)

// Scope carries the per-session context an executor may use. Memory is
// the session scratchpad; it dies with the session.
type Scope struct {
	SessionID string
	Agent     string
	Memory    *Memory
}

type Executor interface {
	Name() string
	Schema() speech.Tool
	Execute(ctx context.Context, scope Scope, input map[string]any) (any, error)
}

type Registry struct {
	byName map[string]Executor
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger, executors ...Executor) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{byName: make(map[string]Executor, len(executors)), log: log}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		r.byName[ex.Name()] = ex
	}
	return r
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas resolves a persona's tool list to the advertised schemas.
// Unknown names are skipped rather than failing the call setup.
func (r *Registry) Schemas(names []string) []speech.Tool {
	if r == nil {
		return nil
	}
	out := make([]speech.Tool, 0, len(names))
	for _, name := range names {
		if ex, ok := r.byName[strings.TrimSpace(name)]; ok {
			out = append(out, ex.Schema())
		}
	}
	return out
}

// Execute runs one tool call. Failures never escape this boundary:
// unknown tools, executor errors, and panics all come back as an
// {"error": message} payload so the speech leg always receives a
// well-formed function result.
func (r *Registry) Execute(ctx context.Context, scope Scope, name string, input map[string]any) (result any) {
	name = strings.TrimSpace(name)
	log := r.log.With("session", scope.SessionID, "agent", scope.Agent, "tool", name)
	log.Info("tool call dispatched", "phase", "start", "arguments", input)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("tool call panicked", "phase", "error", "panic", rec)
			result = map[string]any{"error": fmt.Sprintf("tool %s failed", name)}
		}
	}()

	ex, ok := r.byName[name]
	if !ok {
		log.Warn("tool call for unregistered tool", "phase", "error")
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", name)}
	}

	out, err := ex.Execute(ctx, scope, input)
	if err != nil {
		log.Warn("tool call failed", "phase", "error", "err", err)
		return map[string]any{"error": err.Error()}
	}
	log.Info("tool call completed", "phase", "done", "result", out)
	return out
}

// Memory is the session-scoped key/value scratchpad used by the mock
// tools. Tool execution runs off the session loop, so access is locked.
type Memory struct {
	mu sync.Mutex
	kv map[string]string
}

func NewMemory() *Memory {
	return &Memory{kv: make(map[string]string)}
}

func (m *Memory) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.kv)
}

func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intArg(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
