// Package sink emits structured verdict events for external aggregation.
// Emit is fire-and-forget: it never blocks and never fails request
// processing. Under sustained overload the buffer drops its oldest queued
// events, and every drop is counted.
package sink

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateguard/exception"
	"gateguard/jsonx"
	"gateguard/logx"
	"gateguard/monitoring"
	"gateguard/types"
)

// DefaultBufferSize is the bounded event queue length.
const DefaultBufferSize = 4096

// Sink drains verdict events to an NDJSON writer on a background
// goroutine.
type Sink struct {
	ch   chan types.VerdictEvent
	out  io.Writer
	stop chan struct{}
	done chan struct{}

	mu sync.Mutex // guards out
}

// New starts a sink writing NDJSON events to out.
func New(out io.Writer, bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &Sink{
		ch:   make(chan types.VerdictEvent, bufferSize),
		out:  out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	exception.SafeGo("sink-drain", s.drain)
	return s
}

// Emit queues one event without blocking. When the buffer is full the
// oldest queued event is discarded to make room, and the drop is recorded.
func (s *Sink) Emit(ev types.VerdictEvent) {
	if ev.ID == "" {
		ev.ID = newEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	for attempts := 0; attempts < 4; attempts++ {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			monitoring.IncreaseDroppedEventCount()
			logx.Debug("SINK", "buffer full, dropped oldest event")
		default:
		}
	}
	// Racing emitters refilled the buffer faster than we could shed; give
	// this event up rather than spin on the hot path.
	monitoring.IncreaseDroppedEventCount()
}

// Close flushes queued events and stops the drain loop.
func (s *Sink) Close() {
	close(s.stop)
	<-s.done
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Sink) drain() {
	defer close(s.done)
	enc := jsonx.NewEncoder(s.writerProxy())

	for {
		select {
		case ev := <-s.ch:
			if err := enc.Encode(ev); err != nil {
				logx.Error("SINK", "event write failed: ", err)
			}
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					if err := enc.Encode(ev); err != nil {
						logx.Error("SINK", "event write failed: ", err)
					}
				default:
					return
				}
			}
		}
	}
}

// writerProxy serializes writes so Close-time flushing and the drain loop
// never interleave output.
func (s *Sink) writerProxy() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.out.Write(p)
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
