package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when a Queue cannot take another event.
var ErrQueueFull = errors.New("events: queue full")

// Queue hands events to a slow notifier (a merchant webhook) on a background
// worker so checkout callbacks never wait on network I/O. Delivery failures
// are logged.
type Queue struct {
	next   Notifier
	logger zerolog.Logger
	ch     chan Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts a worker delivering to next with room for size pending events.
func NewQueue(next Notifier, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	q := &Queue{next: next, logger: logger, ch: make(chan Event, size)}
	q.wg.Add(1)
	go q.run()
	return q
}

// Notify implements Notifier. It never blocks.
func (q *Queue) Notify(_ context.Context, event Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueFull
	}
	select {
	case q.ch <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for pending ones to be delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for ev := range q.ch {
		if err := q.next.Notify(context.Background(), ev); err != nil {
			q.logger.Warn().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("event_delivery_failed")
		}
	}
}
