// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package events

import (
	"sync"
	"time"

	"github.com/jobhive/internal/queue"
)

// Event types published while items move through the queue.
const (
	TypePushed    = "pushed"
	TypeLeased    = "leased"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
	TypeRecovered = "recovered"
)

// Event describes one queue transition.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Queue     string    `json:"queue,omitempty"`
	ItemKey   string    `json:"item_key,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	Session   string    `json:"session,omitempty"`
	Count     int       `json:"count,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Broadcaster fans events out to subscribers. A nil *Broadcaster drops
// everything, so publishers never need to check for one.
type Broadcaster struct {
	subscribers map[chan Event]bool
	mu          sync.RWMutex
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]bool),
	}
}

// Subscribe returns a buffered channel receiving future events.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = true
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[ch] {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish sends event to every subscriber without blocking; full channels miss it.
func (b *Broadcaster) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishRecovered publishes one recovered event per item so each item's
// history shows where it went back to pending.
func (b *Broadcaster) PublishRecovered(queueName string, items [][]byte) {
	for _, item := range items {
		b.Publish(Event{Type: TypeRecovered, Queue: queueName, ItemKey: queue.ItemKey(item), Count: 1})
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
