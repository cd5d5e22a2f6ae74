package rategate

import (
	"context"
	"sync"
	"time"
)

// Reason explains why an admission attempt was rejected.
type Reason string

const (
	ReasonRateLimit      Reason = "rate_limit"
	ReasonCircuitBreaker Reason = "circuit_breaker"
	ReasonCooldown       Reason = "cooldown"
)

type Config struct {
	// Window is the sliding admission window. Counts and breaker state
	// reset when it naturally expires.
	Window time.Duration

	// SoftLimit rejects without escalation; HardLimit trips the breaker
	// for the remainder of the window.
	SoftLimit int
	HardLimit int

	// AuthCooldown applies per address after an authentication rejection.
	// StreamCooldown applies per (address, streamSid) pair so a specific
	// call identity cannot be retried rapidly.
	AuthCooldown   time.Duration
	StreamCooldown time.Duration

	// Operational bounds for the in-memory tables (single-process only).
	MaxEntries    int
	SweepInterval time.Duration
}

type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
}

// Gate is the process-wide admission control table, keyed by source
// address. It is shared by all sessions and must be safe under
// concurrent use.
type Gate struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	windows   map[string]*addrWindow
	cooldowns map[string]time.Time
}

type addrWindow struct {
	start   time.Time
	count   int
	tripped bool
}

func New(cfg Config, now func() time.Time) *Gate {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.SoftLimit <= 0 {
		cfg.SoftLimit = 100
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = 120
	}
	if cfg.HardLimit < cfg.SoftLimit {
		cfg.HardLimit = cfg.SoftLimit
	}
	if cfg.AuthCooldown <= 0 {
		cfg.AuthCooldown = 30 * time.Second
	}
	if cfg.StreamCooldown <= 0 {
		cfg.StreamCooldown = 60 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		cfg:       cfg,
		now:       now,
		windows:   make(map[string]*addrWindow),
		cooldowns: make(map[string]time.Time),
	}
}

// Admit counts one attempt from addr and decides whether it may proceed.
// No blocking I/O happens here; callers reject before upgrading.
func (g *Gate) Admit(addr string) Decision {
	if g == nil {
		return Decision{Allowed: true}
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.windows[addr]
	if !ok {
		if len(g.windows) >= g.cfg.MaxEntries {
			g.sweepLocked(now)
			// Still full: drop one arbitrary entry (bounded memory over
			// perfect fairness, as elsewhere in this table).
			if len(g.windows) >= g.cfg.MaxEntries {
				for k := range g.windows {
					delete(g.windows, k)
					break
				}
			}
		}
		w = &addrWindow{start: now}
		g.windows[addr] = w
	}

	if now.Sub(w.start) >= g.cfg.Window {
		w.start = now
		w.count = 0
		w.tripped = false
	}

	w.count++
	remaining := g.cfg.Window - now.Sub(w.start)

	if w.tripped || w.count > g.cfg.HardLimit {
		w.tripped = true
		return Decision{Allowed: false, Reason: ReasonCircuitBreaker, RetryAfter: remaining}
	}
	if w.count > g.cfg.SoftLimit {
		return Decision{Allowed: false, Reason: ReasonRateLimit, RetryAfter: remaining}
	}
	return Decision{Allowed: true}
}

// CheckCooldown reports whether addr (or, when streamSid is known, the
// specific call identity) is still inside a rejection cooldown.
func (g *Gate) CheckCooldown(addr, streamSid string) Decision {
	if g == nil {
		return Decision{Allowed: true}
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.cooldowns[addr]; ok && now.Before(until) {
		return Decision{Allowed: false, Reason: ReasonCooldown, RetryAfter: until.Sub(now)}
	}
	if streamSid != "" {
		if until, ok := g.cooldowns[addr+"|"+streamSid]; ok && now.Before(until) {
			return Decision{Allowed: false, Reason: ReasonCooldown, RetryAfter: until.Sub(now)}
		}
	}
	return Decision{Allowed: true}
}

// RecordRejection starts the cooldown clocks after an authentication
// failure. The per-stream cooldown is longer so a known-bad call
// identity cannot immediately re-dial through a fresh connection.
func (g *Gate) RecordRejection(addr, streamSid string) {
	if g == nil {
		return
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.cooldowns) >= g.cfg.MaxEntries {
		g.sweepLocked(now)
	}
	g.cooldowns[addr] = now.Add(g.cfg.AuthCooldown)
	if streamSid != "" {
		g.cooldowns[addr+"|"+streamSid] = now.Add(g.cfg.StreamCooldown)
	}
}

// Sweep removes stale windows and expired cooldowns. It is called
// periodically by RunSweeper and opportunistically when tables fill.
func (g *Gate) Sweep() {
	if g == nil {
		return
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(now)
}

func (g *Gate) sweepLocked(now time.Time) {
	stale := 2 * g.cfg.Window
	for k, w := range g.windows {
		if now.Sub(w.start) > stale {
			delete(g.windows, k)
		}
	}
	for k, until := range g.cooldowns {
		if !now.Before(until) {
			delete(g.cooldowns, k)
		}
	}
}

// RunSweeper blocks until ctx is done, sweeping on the configured
// interval. Memory stays bounded independent of traffic volume.
func (g *Gate) RunSweeper(ctx context.Context) {
	if g == nil {
		return
	}
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// Entries reports current table sizes.
func (g *Gate) Entries() (windows, cooldowns int) {
	if g == nil {
		return 0, 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows), len(g.cooldowns)
}
