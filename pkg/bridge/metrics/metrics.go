// Package metrics keeps process-wide counters for the relay. Counters
// are atomic; sessions increment them concurrently and a reporter logs
// a snapshot at a fixed interval.
package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type Counters struct {
	SessionsStarted   atomic.Int64
	SessionsClosed    atomic.Int64
	AdmissionRejected atomic.Int64

	FramesIn        atomic.Int64
	FramesOut       atomic.Int64
	FramesDropped   atomic.Int64
	FlushesSkipped  atomic.Int64
	FramesMalformed atomic.Int64

	ToolCalls      atomic.Int64
	ToolErrors     atomic.Int64
	ToolDuplicates atomic.Int64
}

type Snapshot struct {
	SessionsStarted   int64
	SessionsClosed    int64
	AdmissionRejected int64
	FramesIn          int64
	FramesOut         int64
	FramesDropped     int64
	FlushesSkipped    int64
	FramesMalformed   int64
	ToolCalls         int64
	ToolErrors        int64
	ToolDuplicates    int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		SessionsStarted:   c.SessionsStarted.Load(),
		SessionsClosed:    c.SessionsClosed.Load(),
		AdmissionRejected: c.AdmissionRejected.Load(),
		FramesIn:          c.FramesIn.Load(),
		FramesOut:         c.FramesOut.Load(),
		FramesDropped:     c.FramesDropped.Load(),
		FlushesSkipped:    c.FlushesSkipped.Load(),
		FramesMalformed:   c.FramesMalformed.Load(),
		ToolCalls:         c.ToolCalls.Load(),
		ToolErrors:        c.ToolErrors.Load(),
		ToolDuplicates:    c.ToolDuplicates.Load(),
	}
}

// Report logs a counter snapshot every interval until ctx is done. Run
// it in its own goroutine from process startup.
func (c *Counters) Report(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot()
			log.Info("relay counters",
				"sessions_started", s.SessionsStarted,
				"sessions_closed", s.SessionsClosed,
				"admission_rejected", s.AdmissionRejected,
				"frames_in", s.FramesIn,
				"frames_out", s.FramesOut,
				"frames_dropped", s.FramesDropped,
				"flushes_skipped", s.FlushesSkipped,
				"frames_malformed", s.FramesMalformed,
				"tool_calls", s.ToolCalls,
				"tool_errors", s.ToolErrors,
				"tool_duplicates", s.ToolDuplicates,
			)
		}
	}
}
