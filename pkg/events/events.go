package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventClusterCreated        EventType = "cluster.created"
	EventClusterDeleted        EventType = "cluster.deleted"
	EventUpgradeStarted        EventType = "upgrade.started"
	EventUpgradePhaseCompleted EventType = "upgrade.phase_completed"
	EventUpgradeCompleted      EventType = "upgrade.completed"
	EventUpgradeRolledBack     EventType = "upgrade.rolled_back"
	EventUpgradeInterrupted    EventType = "upgrade.interrupted"
	EventNodesUpdated          EventType = "nodes.updated"
)

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	ClusterID string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// NewEvent creates an event with a fresh ID
func NewEvent(t EventType, clusterID, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		ClusterID: clusterID,
		Message:   message,
		Metadata:  make(map[string]string),
	}
}

// Publisher accepts events. Broker implements it.
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers. It drops the event once the
// broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
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

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
