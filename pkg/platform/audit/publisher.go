package audit

import (
	"context"
	"sync/atomic"
	"time"
)

// Publisher buffers events on a channel for the worker to drain. Emission
// never blocks domain logic: when the buffer is full the event is dropped
// and counted, because a slow audit pipeline must not stall registrations.
type Publisher struct {
	inbox   chan Event
	dropped atomic.Int64
}

// NewPublisher creates a publisher with the given buffer size.
func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{inbox: make(chan Event, buffer)}
}

// Emit enqueues an event, stamping the timestamp if the caller left it zero.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.dropped.Add(1)
		return nil
	}
}

// Inbox exposes the receive side for the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Dropped reports how many events were discarded due to a full buffer.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }
