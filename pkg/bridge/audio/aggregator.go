// Package audio batches small media frames into larger outbound
// payloads. Relaying one carrier frame per message multiplies the
// upstream message rate roughly tenfold and removes any backpressure
// signal; aggregation trades a bounded amount of glitching for a hard
// guarantee against queue growth.
package audio

import (
	"time"
)

// Sink is the destination transport primitive. Buffered reports the
// outstanding unsent bytes so a flush can be skipped under backpressure.
type Sink interface {
	Buffered() int
	Send(payload []byte) error
}

type Config struct {
	// FlushFrames and FlushInterval trigger a flush on whichever is
	// reached first.
	FlushFrames   int
	FlushInterval time.Duration

	// MaxBuffer bounds the frame buffer; offers beyond it are dropped
	// and counted, never blocked.
	MaxBuffer int

	// BackpressureCeiling is the destination outstanding-bytes limit
	// above which a flush discards its data instead of sending.
	// Audio continuity favors recency over completeness.
	BackpressureCeiling int
}

type Stats struct {
	FramesIn       int64
	FramesDropped  int64
	Flushes        int64
	FlushesSkipped int64
	BytesOut       int64
}

// Aggregator buffers frames for one relay direction. All methods are
// called from the owning session's event loop; no locking is needed.
type Aggregator struct {
	cfg  Config
	now  func() time.Time
	sink Sink

	frames [][]byte
	bytes  int
	oldest time.Time

	stats Stats
}

func New(cfg Config, sink Sink, now func() time.Time) *Aggregator {
	if cfg.FlushFrames <= 0 {
		cfg.FlushFrames = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = 500
	}
	if cfg.BackpressureCeiling <= 0 {
		cfg.BackpressureCeiling = 64 << 10
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{cfg: cfg, now: now, sink: sink}
}

// Offer accepts one frame. Frames are immutable once received; the
// payload is held as-is and concatenated at flush time.
func (a *Aggregator) Offer(payload []byte) error {
	if a == nil || len(payload) == 0 {
		return nil
	}
	a.stats.FramesIn++
	if len(a.frames) >= a.cfg.MaxBuffer {
		a.stats.FramesDropped++
		return nil
	}
	if len(a.frames) == 0 {
		a.oldest = a.now()
	}
	a.frames = append(a.frames, payload)
	a.bytes += len(payload)

	if len(a.frames) >= a.cfg.FlushFrames {
		return a.flush()
	}
	return nil
}

// Tick flushes when the oldest buffered frame has waited past the
// interval. The session calls it from a fixed-period timer; the next
// flush is never scheduled from inside a flush.
func (a *Aggregator) Tick() error {
	if a == nil || len(a.frames) == 0 {
		return nil
	}
	if a.now().Sub(a.oldest) < a.cfg.FlushInterval {
		return nil
	}
	return a.flush()
}

// Close forces one final flush and clears the buffer.
func (a *Aggregator) Close() error {
	if a == nil || len(a.frames) == 0 {
		return nil
	}
	return a.flush()
}

// Reset discards buffered frames without sending. Used on barge-in,
// when queued assistant audio is stale the moment the caller speaks.
func (a *Aggregator) Reset() {
	if a == nil {
		return
	}
	a.stats.FramesDropped += int64(len(a.frames))
	a.clear()
}

// Pending reports the buffered frame count, for tests and metrics.
func (a *Aggregator) Pending() int {
	if a == nil {
		return 0
	}
	return len(a.frames)
}

func (a *Aggregator) Stats() Stats {
	if a == nil {
		return Stats{}
	}
	return a.stats
}

func (a *Aggregator) flush() error {
	n := len(a.frames)
	if n == 0 {
		return nil
	}

	if a.sink.Buffered() > a.cfg.BackpressureCeiling {
		// Destination is not draining; drop rather than queue. The data
		// is discarded, not retried later.
		a.stats.FlushesSkipped++
		a.stats.FramesDropped += int64(n)
		a.clear()
		return nil
	}

	payload := make([]byte, 0, a.bytes)
	for _, f := range a.frames {
		payload = append(payload, f...)
	}
	a.clear()

	if err := a.sink.Send(payload); err != nil {
		return err
	}
	a.stats.Flushes++
	a.stats.BytesOut += int64(len(payload))
	return nil
}

func (a *Aggregator) clear() {
	a.frames = a.frames[:0]
	a.bytes = 0
}
