package service

import (
	"sync"
)

// Event is one progress notification for a running batch.
type Event struct {
	Type    string // "task", "batch"
	Key     string // descriptor key for task events
	State   string
	Message string
}

// EventPublisher receives progress events from the scheduler. A nil
// publisher is allowed and drops everything.
type EventPublisher interface {
	Publish(batchID string, event Event)
}

// EventBus fans batch progress events out to subscribers.
type EventBus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
	}
}

func (eb *EventBus) Subscribe(batchID string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers[batchID] = append(eb.subscribers[batchID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(batchID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[batchID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[batchID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[batchID]) == 0 {
		delete(eb.subscribers, batchID)
	}
}

func (eb *EventBus) Publish(batchID string, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[batchID] {
		select {
		case ch <- event:
		default:
			// A slow subscriber loses events rather than stalling the
			// scheduler.
		}
	}
}
