package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn each leg uses. Tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// legWriter serializes writes to one leg. Callers enqueue; a single
// goroutine owns the actual socket writes. The outstanding byte count
// is the backpressure signal the audio aggregators consult.
type legWriter struct {
	conn Conn
	ctx  context.Context

	ch          chan []byte
	outstanding atomic.Int64

	pingInterval time.Duration
	writeTimeout time.Duration
}

func newLegWriter(ctx context.Context, conn Conn, queueSize int, pingInterval, writeTimeout time.Duration) *legWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &legWriter{
		conn:         conn,
		ctx:          ctx,
		ch:           make(chan []byte, queueSize),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// Enqueue queues one text message. A full queue is an error, not a
// block: the event loop must never stall behind a slow peer.
func (w *legWriter) Enqueue(data []byte) error {
	select {
	case <-w.ctx.Done():
		return w.ctx.Err()
	default:
	}
	select {
	case w.ch <- data:
		w.outstanding.Add(int64(len(data)))
		return nil
	default:
		return fmt.Errorf("outbound queue full")
	}
}

// Buffered reports queued-but-unwritten bytes.
func (w *legWriter) Buffered() int {
	return int(w.outstanding.Load())
}

// Run drains the queue until the context ends or a write fails.
func (w *legWriter) Run() error {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			deadline := time.Now().Add(w.writeTimeout)
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case data := <-w.ch:
			if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
				return err
			}
			err := w.conn.WriteMessage(websocket.TextMessage, data)
			w.outstanding.Add(-int64(len(data)))
			if err != nil {
				return err
			}
		}
	}
}
