package notify

import (
	"context"
	"log"
	"sync"

	alarms "ngsi-gateway/internal/alarms/domain"
)

const defaultQueueSize = 64

// AsyncNotifier delivers events to next from a single worker, in order.
// Notify never blocks; events are dropped while the queue is full.
type AsyncNotifier struct {
	next   alarms.Notifier
	logger *log.Logger
	queue  chan queuedEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type queuedEvent struct {
	ctx   context.Context
	event alarms.Event
}

// NewAsyncNotifier starts the delivery worker. size <= 0 uses the default queue size.
func NewAsyncNotifier(next alarms.Notifier, size int, logger *log.Logger) *AsyncNotifier {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = log.Default()
	}
	a := &AsyncNotifier{
		next:   next,
		logger: logger,
		queue:  make(chan queuedEvent, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify implements alarms.Notifier.
func (a *AsyncNotifier) Notify(ctx context.Context, event alarms.Event) {
	if a == nil || a.next == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		a.logger.Printf("alarm: notification dropped: key=%s event=%s", event.Key, event.Type)
	}
}

// Close stops accepting events and waits for the queued ones to be delivered.
func (a *AsyncNotifier) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncNotifier) run() {
	defer close(a.done)
	for item := range a.queue {
		a.next.Notify(item.ctx, item.event)
	}
}
