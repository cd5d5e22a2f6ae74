package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type fakeSink struct {
	buffered int
	sent     [][]byte
	err      error
}

func (s *fakeSink) Buffered() int { return s.buffered }

func (s *fakeSink) Send(payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, payload)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator(sink *fakeSink, clock *fakeClock) *Aggregator {
	return New(Config{
		FlushFrames:         10,
		FlushInterval:       100 * time.Millisecond,
		MaxBuffer:           500,
		BackpressureCeiling: 64 << 10,
	}, sink, clock.now)
}

func TestOffer_FlushesAtFrameCount(t *testing.T) {
	sink := &fakeSink{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := newTestAggregator(sink, clock)

	for i := 0; i < 9; i++ {
		if err := agg.Offer([]byte{byte(i)}); err != nil {
			t.Fatalf("Offer() error = %v", err)
		}
	}
	if len(sink.sent) != 0 {
		t.Fatalf("flushed early after 9 frames: %d sends", len(sink.sent))
	}
	if err := agg.Offer([]byte{9}); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sink.sent))
	}
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if !bytes.Equal(sink.sent[0], want) {
		t.Fatalf("payload = %v, want %v", sink.sent[0], want)
	}
	if agg.Pending() != 0 {
		t.Fatalf("pending = %d after flush", agg.Pending())
	}
}

func TestTick_FlushesAfterInterval(t *testing.T) {
	sink := &fakeSink{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := newTestAggregator(sink, clock)

	if err := agg.Offer([]byte("ab")); err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	clock.advance(50 * time.Millisecond)
	if err := agg.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatal("flushed before interval elapsed")
	}

	clock.advance(50 * time.Millisecond)
	if err := agg.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(sink.sent) != 1 || !bytes.Equal(sink.sent[0], []byte("ab")) {
		t.Fatalf("sent = %v", sink.sent)
	}

	// Empty buffer ticks are no-ops.
	clock.advance(time.Second)
	if err := agg.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("empty tick sent data: %d sends", len(sink.sent))
	}
}

func TestTick_IntervalMeasuredFromOldestFrame(t *testing.T) {
	sink := &fakeSink{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := newTestAggregator(sink, clock)

	agg.Offer([]byte("a"))
	clock.advance(90 * time.Millisecond)
	agg.Offer([]byte("b"))
	clock.advance(10 * time.Millisecond)
	if err := agg.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatal("oldest frame waited 100ms; tick should flush")
	}
}

func TestFlush_SkippedUnderBackpressure(t *testing.T) {
	sink := &fakeSink{buffered: (64 << 10) + 1}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := newTestAggregator(sink, clock)

	for i := 0; i < 10; i++ {
		if err := agg.Offer([]byte{byte(i)}); err != nil {
			t.Fatalf("Offer() error = %v", err)
		}
	}
	if len(sink.sent) != 0 {
		t.Fatal("flush should be skipped while destination is congested")
	}
	stats := agg.Stats()
	if stats.FlushesSkipped != 1 || stats.FramesDropped != 10 {
		t.Fatalf("stats = %+v", stats)
	}
	if agg.Pending() != 0 {
		t.Fatal("skipped flush must still discard buffered frames")
	}

	// Once the destination drains, relay resumes with fresh frames.
	sink.buffered = 0
	for i := 0; i < 10; i++ {
		agg.Offer([]byte{byte(i)})
	}
	if len(sink.sent) != 1 {
		t.Fatalf("sends after drain = %d, want 1", len(sink.sent))
	}
}

func TestOffer_DropsBeyondBufferBound(t *testing.T) {
	sink := &fakeSink{buffered: (64 << 10) + 1}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := New(Config{
		FlushFrames:         100,
		FlushInterval:       time.Second,
		MaxBuffer:           5,
		BackpressureCeiling: 64 << 10,
	}, sink, clock.now)

	for i := 0; i < 8; i++ {
		if err := agg.Offer([]byte{byte(i)}); err != nil {
			t.Fatalf("Offer() error = %v", err)
		}
	}
	if agg.Pending() != 5 {
		t.Fatalf("pending = %d, want 5", agg.Pending())
	}
	if got := agg.Stats().FramesDropped; got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
}

func TestClose_ForcesFinalFlush(t *testing.T) {
	sink := &fakeSink{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := newTestAggregator(sink, clock)

	agg.Offer([]byte("tail"))
	if err := agg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(sink.sent) != 1 || !bytes.Equal(sink.sent[0], []byte("tail")) {
		t.Fatalf("sent = %v", sink.sent)
	}
	if err := agg.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatal("second close resent data")
	}
}

func TestFlush_PropagatesSendError(t *testing.T) {
	sink := &fakeSink{err: errors.New("peer gone")}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	agg := newTestAggregator(sink, clock)

	var err error
	for i := 0; i < 10; i++ {
		err = agg.Offer([]byte{byte(i)})
	}
	if err == nil {
		t.Fatal("flush send failure should surface to the caller")
	}
}
