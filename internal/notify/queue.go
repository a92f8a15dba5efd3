package notify

import (
	"context"
	"errors"
	"time"

	"github.com/mroshb/szludo_wallet/pkg/logger"
)

var ErrQueueFull = errors.New("notification queue is full")

const (
	defaultQueueSize     = 256
	defaultDeliveryLimit = 10 * time.Second
	drainLimit           = 5 * time.Second
)

// Queue hands events to another Notifier from a background goroutine so the
// caller never waits on delivery. Events are dropped once the buffer is full.
type Queue struct {
	next     Notifier
	events   chan Event
	timeout  time.Duration
	onFailed func(Event, error)
}

func NewQueue(next Notifier, size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		next:    next,
		events:  make(chan Event, size),
		timeout: defaultDeliveryLimit,
	}
}

// OnFailure registers a callback for deliveries that fail in Run.
func (q *Queue) OnFailure(fn func(Event, error)) {
	q.onFailed = fn
}

// Notify enqueues without blocking.
func (q *Queue) Notify(_ context.Context, event Event) error {
	select {
	case q.events <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done, then flushes what is still
// buffered within a short grace period.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case event := <-q.events:
			q.deliver(context.Background(), event)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

func (q *Queue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainLimit)
	defer cancel()
	for {
		select {
		case event := <-q.events:
			if ctx.Err() != nil {
				logger.Warn("Dropping notification on shutdown", "user_id", event.UserID, "kind", event.Kind)
				continue
			}
			q.deliver(ctx, event)
		default:
			return
		}
	}
}

func (q *Queue) deliver(parent context.Context, event Event) {
	ctx, cancel := context.WithTimeout(parent, q.timeout)
	defer cancel()
	if err := q.next.Notify(ctx, event); err != nil {
		logger.Warn("Failed to deliver notification", "user_id", event.UserID, "transaction_id", event.TransactionID, "kind", event.Kind, "error", err)
		if q.onFailed != nil {
			q.onFailed(event, err)
		}
	}
}
