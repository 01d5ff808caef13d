// Package events is the controller's outbound event stream (spec.md §6
// "Event stream"): a bounded broadcast channel of ProjectEvent messages
// emitted by the worker's dispatcher each time a submitted task finishes. Consumers are
// advisory — state is authoritative (spec.md §5 "Shared resources"); a slow
// subscriber has events dropped for it rather than backing up the
// publisher. Grounded on the teacher's own Broker (buffered internal
// channel plus a run loop that fans out to per-subscriber channels),
// generalized from cluster lifecycle events (node.joined, secret.created)
// to project state transitions.
package events

import (
	"sync"
	"time"
)

// Change describes the state transition a ProjectEvent reports (spec.md §6:
// "change{state_variant_name, socket_addr?}").
type Change struct {
	StateVariantName string
	SocketAddr       string // "" unless the new state carries a live container
}

// ProjectEvent is one committed state transition (spec.md §4.7 step 4:
// "{service_id, project_id, new_state_variant, optional socket_addr}").
type ProjectEvent struct {
	ServiceID string
	ProjectID string
	Timestamp time.Time
	Change    Change
}

// Subscriber is a channel that receives ProjectEvents.
type Subscriber chan *ProjectEvent

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *ProjectEvent
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *ProjectEvent, 100), // buffer up to 100 pending events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64) // per-subscriber buffer (spec.md §5 "bounded buffer")
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a ProjectEvent to all current subscribers.
func (b *Broker) Publish(event ProjectEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- &event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *ProjectEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full; event dropped for it, state remains authoritative.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
