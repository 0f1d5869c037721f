package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stake-arena/internal/metrics"
)

// Errors returned by Async.Publish.
var (
	ErrBufferFull = errors.New("notification buffer full")
	ErrClosed     = errors.New("notifier closed")
)

// deliverTimeout bounds a single delivery to the wrapped publisher.
const deliverTimeout = 10 * time.Second

// Async queues events for a background goroutine so Publish never blocks.
// When the queue is full the event is dropped and counted.
type Async struct {
	next  Publisher
	queue chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts delivering to next with a queue of the given size.
func NewAsync(next Publisher, buffer int) *Async {
	if buffer < 1 {
		buffer = 1
	}
	a := &Async{
		next:  next,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues ev without waiting for delivery.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		metrics.EventQueueLength.Set(float64(len(a.queue)))
		return nil
	default:
		metrics.RecordEventDropped()
		return ErrBufferFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		metrics.EventQueueLength.Set(float64(len(a.queue)))
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			log.Warn().
				Err(err).
				Str("event_id", ev.ID.String()).
				Str("type", string(ev.Type)).
				Int64("match_id", ev.MatchID).
				Msg("Failed to deliver match event")
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}
