package a2a

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the per-subscriber event queue bound.
const DefaultQueueSize = 64

// Subscriber is one attached event stream. Read from Events until it is
// closed; the channel closes after a terminal status event, after the
// subscriber is dropped for falling behind, or on Close.
type Subscriber struct {
	taskID uuid.UUID
	ch     chan Event
	once   sync.Once
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// TaskID returns the task this subscriber is attached to.
func (s *Subscriber) TaskID() uuid.UUID { return s.taskID }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker fans task events out to subscribers. Delivery per subscriber is
// FIFO in production order; a slow subscriber never blocks the others.
type Broker struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]map[*Subscriber]struct{}
	queueSize int
	logger    *zap.Logger
}

// NewBroker creates a Broker with the given per-subscriber queue bound;
// size <= 0 uses DefaultQueueSize.
func NewBroker(queueSize int, logger *zap.Logger) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broker{
		subs:      make(map[uuid.UUID]map[*Subscriber]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe attaches a new subscriber to taskID. The snapshot event is
// queued first so every stream opens with the task's current status.
func (b *Broker) Subscribe(taskID uuid.UUID, snapshot Event) *Subscriber {
	sub := &Subscriber{taskID: taskID, ch: make(chan Event, b.queueSize)}
	sub.ch <- snapshot

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[taskID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call after the
// broker has already dropped or closed the subscriber.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	b.removeLocked(sub)
	b.mu.Unlock()
	sub.close()
}

func (b *Broker) removeLocked(sub *Subscriber) {
	set, ok := b.subs[sub.taskID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.taskID)
	}
}

// Publish delivers ev to every subscriber of its task. A subscriber whose
// queue is full is dropped: it gets a best-effort FAILED status event on
// its own stream, then its channel closes. A terminal status event closes
// and unregisters every subscriber after delivery.
func (b *Broker) Publish(ev Event) {
	terminal := ev.Type == EventStatusUpdate && ev.State.Terminal()

	b.mu.Lock()
	set := b.subs[ev.TaskID]
	var dropped, closing []*Subscriber
	for sub := range set {
		select {
		case sub.ch <- ev:
			if terminal {
				closing = append(closing, sub)
			}
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		b.removeLocked(sub)
	}
	if terminal {
		for _, sub := range closing {
			b.removeLocked(sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		// The overflow notice is delivered only if the reader frees a slot;
		// either way the stream ends here.
		select {
		case sub.ch <- Event{
			Type:      EventStatusUpdate,
			TaskID:    ev.TaskID,
			Timestamp: time.Now().UTC(),
			State:     StateFailed,
		}:
		default:
		}
		sub.close()
		b.logger.Warn("subscriber dropped: queue overflow",
			zap.String("task_id", ev.TaskID.String()),
		)
	}
	for _, sub := range closing {
		sub.close()
	}
}

// SubscriberCount returns the number of attached subscribers across all
// tasks. Exposed as a gauge.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

// CloseTask force-closes every subscriber of taskID without a final event.
// Used on shutdown.
func (b *Broker) CloseTask(taskID uuid.UUID) {
	b.mu.Lock()
	set := b.subs[taskID]
	delete(b.subs, taskID)
	b.mu.Unlock()
	for sub := range set {
		sub.close()
	}
}
