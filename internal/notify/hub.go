package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// queueSize bounds the hand-off between mutations and the dispatcher.
	// Broadcast never blocks the caller; a full queue drops the event.
	queueSize = 256
	// subscriberBuffer is the per-client event buffer. A client that
	// falls this far behind misses events and must re-fetch state.
	subscriberBuffer = 32
)

// Subscriber is a registered supervisor client. Events arrive on its
// channel until Unsubscribe closes it.
type Subscriber struct {
	id string
	ch chan Event
}

// ID returns the client identifier assigned at subscription.
func (s *Subscriber) ID() string { return s.id }

// Events returns the channel events are delivered on. The channel is
// closed when the subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Hub maintains the set of connected subscribers and fans events out to
// all of them. Delivery is best-effort: a slow or disconnected client
// never blocks the mutation that triggered the broadcast.
type Hub struct {
	mu    sync.RWMutex
	subs  map[*Subscriber]struct{}
	queue chan Event
}

// NewHub creates a hub. Start must be called before events flow.
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[*Subscriber]struct{}),
		queue: make(chan Event, queueSize),
	}
}

// Start launches the dispatcher goroutine. It drains the queue in order,
// so consumers observe broadcasts in the order they were enqueued. The
// dispatcher exits when ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case ev := <-h.queue:
				h.fanOut(ev)
			case <-ctx.Done():
				slog.Info("Notification hub shutting down", "reason", ctx.Err())
				h.closeAll()
				return
			}
		}
	}()
}

// Subscribe registers a new client and immediately queues a connection
// acknowledgment on its channel.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, subscriberBuffer),
	}
	sub.ch <- NewEvent(EventConnection, map[string]string{"client_id": sub.id})

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	total := len(h.subs)
	h.mu.Unlock()

	slog.Info("Supervisor client connected", "client_id", sub.id, "total", total)
	return sub
}

// Unsubscribe removes a client and closes its channel. Safe to call more
// than once and concurrently with an in-flight broadcast.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	slog.Info("Supervisor client disconnected", "client_id", sub.id, "total", len(h.subs))
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast hands an event to the dispatcher. It never blocks: if the
// queue is full the event is dropped and logged.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.queue <- ev:
	default:
		slog.Warn("Notification queue full, dropping event", "type", ev.Type)
	}
}

// fanOut delivers one event to every registered subscriber. The RLock
// excludes Unsubscribe's close, so sends never hit a closed channel.
func (h *Hub) fanOut(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("Subscriber buffer full, dropping event",
				"client_id", sub.id, "type", ev.Type)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
