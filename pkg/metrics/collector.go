package metrics

import (
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raftevents"
)

// Collector polls a raft.Node's status on a ticker and, if given a
// raftevents.Broker, consumes its events too, so the package gauges and
// counters stay current without raft.Node depending on pkg/metrics.
type Collector struct {
	node   *raft.Node
	broker *raftevents.Broker
	sub    raftevents.Subscriber
	stopCh chan struct{}
}

// NewCollector builds a Collector for node. broker may be nil when the
// caller runs without event notification.
func NewCollector(node *raft.Node, broker *raftevents.Broker) *Collector {
	return &Collector{
		node:   node,
		broker: broker,
		stopCh: make(chan struct{}),
	}
}

// Start begins polling node status and, if a broker was supplied,
// consuming its events, until Stop is called.
func (c *Collector) Start() {
	if c.broker != nil {
		c.sub = c.broker.Subscribe()
		go c.consumeEvents()
	}

	ticker := time.NewTicker(2 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling and unsubscribes from the broker.
func (c *Collector) Stop() {
	close(c.stopCh)
	if c.broker != nil && c.sub != nil {
		c.broker.Unsubscribe(c.sub)
	}
}

func (c *Collector) collect() {
	status := c.node.GetStatus()

	if status.Role == raft.RoleLeader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftTerm.Set(float64(status.Term))
	RaftCommitIndex.Set(float64(status.CommitIndex))
	RaftAppliedIndex.Set(float64(status.LastApplied))
}

func (c *Collector) consumeEvents() {
	for ev := range c.sub {
		RaftEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		if ev.Type == raftevents.EventConfigurationChanged {
			RaftPeers.Set(float64(len(ev.Config.Members)))
		}
	}
}
