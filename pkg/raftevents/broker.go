// Package raftevents fans out raft.Node diagnostic notifications to any
// number of subscribers, adapted from the cluster event broker pattern:
// a buffered channel per subscriber, a single dispatch goroutine, and a
// publish call that never blocks the caller on a slow subscriber.
package raftevents

import (
	"sync"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
)

// EventType identifies the kind of notification carried by an Event.
type EventType string

const (
	EventRoleChanged          EventType = "role.changed"
	EventLeaderElected        EventType = "leader.elected"
	EventConfigurationChanged EventType = "configuration.changed"
	EventSnapshotInstalled    EventType = "snapshot.installed"
)

// Event is one notification raised by a raft.Node.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	NodeID    raft.NodeID
	Role      raft.Role
	Term      raft.Term
	Leader    raft.NodeID
	Config    raft.Configuration
	SnapIndex raft.Index
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes raft.Node notifications to subscribers and itself
// implements raft.Notifier, so it can be passed directly to
// raft.WithNotifier.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
	seq         uint64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

func (b *Broker) Start() { go b.run() }

func (b *Broker) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
}

func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) publish(ev *Event) {
	b.mu.Lock()
	b.seq++
	b.mu.Unlock()
	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
			// subscriber buffer full, drop rather than stall the broker
		}
	}
}

func (b *Broker) RoleChanged(id raft.NodeID, role raft.Role, term raft.Term) {
	b.publish(&Event{Type: EventRoleChanged, Timestamp: time.Now(), NodeID: id, Role: role, Term: term})
}

func (b *Broker) LeaderElected(id raft.NodeID, leader raft.NodeID, term raft.Term) {
	b.publish(&Event{Type: EventLeaderElected, Timestamp: time.Now(), NodeID: id, Leader: leader, Term: term})
}

func (b *Broker) ConfigurationChanged(id raft.NodeID, cfg raft.Configuration) {
	b.publish(&Event{Type: EventConfigurationChanged, Timestamp: time.Now(), NodeID: id, Config: cfg})
}

func (b *Broker) SnapshotInstalled(id raft.NodeID, lastIncludedIndex raft.Index) {
	b.publish(&Event{Type: EventSnapshotInstalled, Timestamp: time.Now(), NodeID: id, SnapIndex: lastIncludedIndex})
}

var _ raft.Notifier = (*Broker)(nil)
