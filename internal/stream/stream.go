// Package stream provides the per-session progress event stream: one
// producer, strictly increasing sequence numbers, any number of consumers
// attached from their subscription point forward.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStreamClosed is returned when publishing to a closed stream.
var ErrStreamClosed = errors.New("event stream is closed")

// Type tags an event.
type Type string

const (
	TypePhaseChanged Type = "phase_changed"
	TypePlanReady    Type = "plan_ready"
	TypeStepStarted  Type = "step_started"
	TypeStepFinished Type = "step_finished"
	TypeModuleResult Type = "module_result"
	TypeDelivery     Type = "delivery"
	TypeError        Type = "error"
)

// Event is one progress notification. Seq increases strictly from 1 per
// session with no gaps.
type Event struct {
	Type      Type            `json:"type"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// subscriber pairs a delivery channel with a detach signal so the
// ctx-watching goroutine always terminates.
type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Stream is an append-only event channel for one session. The producer
// never blocks: a subscriber whose buffer overflows is detached and sees
// end-of-stream.
type Stream struct {
	mu      sync.Mutex
	seq     int64
	closed  bool
	buffer  int
	nextSub int
	subs    map[int]*subscriber
}

// New creates a stream whose subscribers buffer up to buffer events.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		buffer: buffer,
		subs:   make(map[int]*subscriber),
	}
}

// Publish appends an event, assigns its sequence number, and fans it out
// to every attached subscriber.
func (s *Stream) Publish(t Type, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to encode event payload: %w", err)
		}
		raw = encoded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, ErrStreamClosed
	}
	s.seq++
	ev := Event{Type: t, Seq: s.seq, Timestamp: time.Now().UTC(), Payload: raw}

	for id, sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber fell too far behind; detach it rather than
			// block the producer.
			s.detachLocked(id)
		}
	}
	return ev, nil
}

// Subscribe attaches a consumer receiving events from this point forward.
// The returned channel is closed when the stream closes, the consumer's
// buffer overflows, or ctx is cancelled. Cancelling only detaches this
// consumer.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscriber{
		ch:   make(chan Event, s.buffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.detachLocked(id)
			s.mu.Unlock()
		case <-sub.done:
		}
	}()

	return sub.ch
}

// detachLocked removes a subscriber and closes its channels. Caller holds mu.
func (s *Stream) detachLocked(id int) {
	sub, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	close(sub.ch)
	close(sub.done)
}

// Close ends the stream. All subscriber channels are closed and further
// publishes fail. Close is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id := range s.subs {
		s.detachLocked(id)
	}
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Seq returns the sequence number of the most recent event.
func (s *Stream) Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
