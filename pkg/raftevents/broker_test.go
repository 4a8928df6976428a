package raftevents

import (
	"testing"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.RoleChanged("n1", raft.RoleLeader, 3)

	select {
	case ev := <-sub:
		assert.Equal(t, EventRoleChanged, ev.Type)
		assert.Equal(t, raft.NodeID("n1"), ev.NodeID)
		assert.Equal(t, raft.RoleLeader, ev.Role)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerFanOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1, s2 := b.Subscribe(), b.Subscribe()
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)
	require.Equal(t, 2, b.SubscriberCount())

	b.LeaderElected("n1", "n1", 1)
	for _, sub := range []Subscriber{s1, s2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventLeaderElected, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.ConfigurationChanged("n1", raft.Configuration{})
	_, ok := <-sub
	assert.False(t, ok)
}
