// Package progress fans typed progress events out to live observers.
// Delivery is lossy best-effort: each subscriber has a bounded queue
// drained by its own worker, so a slow subscriber never back-pressures
// the transfer engine.
package progress

import (
	"sync"

	"github.com/tbracken/gridpoll/internal/models"
)

// queueDepth bounds each subscriber's undelivered backlog.
const queueDepth = 64

// Event is one progress payload: a device name and the updates emitted for
// it.
type Event struct {
	Device  string                  `json:"device"`
	Updates []models.ProgressUpdate `json:"updates"`
}

type subscriber struct {
	id   string
	ch   chan Event
	stop chan struct{}
}

// Bus delivers events either broadcast to all subscribers or unicast to a
// single client id, chosen by the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a client. deliver is invoked from a dedicated worker
// goroutine; events that arrive while the client's queue is full are
// dropped. An existing subscription under the same id is replaced.
func (b *Bus) Subscribe(id string, deliver func(Event)) {
	sub := &subscriber{
		id:   id,
		ch:   make(chan Event, queueDepth),
		stop: make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.stop)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case ev := <-sub.ch:
				deliver(ev)
			}
		}
	}()
}

// Unsubscribe removes a client and stops its worker.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.stop)
	}
}

// Publish broadcasts to every subscriber.
func (b *Bus) Publish(device string, updates ...models.ProgressUpdate) {
	ev := Event{Device: device, Updates: updates}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		b.offer(sub, ev)
	}
}

// PublishTo delivers to a single client id. Unknown ids are dropped.
func (b *Bus) PublishTo(clientID, device string, updates ...models.ProgressUpdate) {
	ev := Event{Device: device, Updates: updates}
	b.mu.RLock()
	sub, ok := b.subs[clientID]
	b.mu.RUnlock()
	if ok {
		b.offer(sub, ev)
	}
}

// offer enqueues without blocking; a full queue drops the event.
func (b *Bus) offer(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
	default:
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.stop)
	}
}
