package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/raftsim/pkg/log"
	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raft/examples"
	"github.com/cuemby/raftsim/pkg/raftevents"
	"github.com/cuemby/raftsim/pkg/raftstore"
	"github.com/cuemby/raftsim/pkg/rafttransport/simtransport"
	"github.com/cuemby/raftsim/pkg/sim"
)

// NewCluster builds NumNodes raft.Node instances over a fresh, full
// mesh *sim.Network, bootstraps them into a single configuration, but
// does not start them; call Start to begin running.
func NewCluster(config *ClusterConfig) (*Cluster, error) {
	if config == nil {
		config = DefaultClusterConfig()
	}
	if config.NumNodes < 1 {
		return nil, fmt.Errorf("invalid cluster config: NumNodes must be at least 1")
	}
	if config.RaftConfig == (raft.Config{}) {
		config.RaftConfig = raft.DefaultConfig()
	}
	if config.SnapshotThreshold > 0 {
		config.RaftConfig.SnapshotThreshold = config.SnapshotThreshold
	}

	ids := make([]raft.NodeID, config.NumNodes)
	for i := 0; i < config.NumNodes; i++ {
		ids[i] = raft.NodeID(fmt.Sprintf("n%d", i+1))
	}

	topo := sim.NewTopology()
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			topo.AddEdge(string(a), string(b), sim.Edge{Latency: config.Latency, Reliability: config.Reliability})
		}
	}
	network := sim.NewNetwork(topo, config.Seed, sim.RealClock{})

	broker := raftevents.NewBroker()
	broker.Start()

	c := &Cluster{
		Config:     config,
		IDs:        ids,
		Topo:       topo,
		Network:    network,
		Broker:     broker,
		nodes:      make(map[raft.NodeID]*raft.Node, len(ids)),
		transports: make(map[raft.NodeID]*simtransport.Transport, len(ids)),
		stores:     make(map[raft.NodeID]raft.Storage, len(ids)),
	}

	for _, id := range ids {
		store := raftstore.NewMemStore()
		if err := seedBootstrapConfiguration(store, ids); err != nil {
			return nil, fmt.Errorf("seed configuration for %s: %w", id, err)
		}
		c.stores[id] = store
		c.transports[id] = simtransport.New(network, id, raft.JSONSerializer{})
	}

	return c, nil
}

// seedBootstrapConfiguration writes the initial EntryConfiguration log
// entry every node needs before raft.Node.Start can recover a
// configuration from its own log.
func seedBootstrapConfiguration(store raft.Storage, members []raft.NodeID) error {
	cfg := raft.Configuration{Members: append([]raft.NodeID(nil), members...)}
	command, err := raft.JSONSerializer{}.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := store.SaveTermAndVote(1, ""); err != nil {
		return err
	}
	return store.AppendLogEntries([]raft.LogEntry{{Index: 1, Term: 1, Kind: raft.EntryConfiguration, Command: command}})
}

// Start constructs and starts a raft.Node for every configured member.
func (c *Cluster) Start() error {
	for _, id := range c.IDs {
		sm := examples.NewKVMachine()
		membership := raft.NewDefaultMembership(nil)
		transport := c.transports[id]

		node := raft.NewNode(id, c.stores[id], sm, transport, membership, c.Config.RaftConfig,
			raft.WithLogger(log.NewRaftLogger(log.WithNodeID(string(id)))),
			raft.WithNotifier(c.Broker),
		)
		transport.Register(id, node)
		if err := node.Start(); err != nil {
			return fmt.Errorf("start node %s: %w", id, err)
		}
		c.nodes[id] = node
	}
	return nil
}

// Stop shuts down every node and the underlying network.
func (c *Cluster) Stop() {
	for _, node := range c.nodes {
		node.Stop()
	}
	c.Network.Close()
	c.Broker.Stop()
}

// Node returns the node with the given ID, or nil if it does not exist.
func (c *Cluster) Node(id raft.NodeID) *raft.Node { return c.nodes[id] }

// Store returns the storage backing the node with the given ID, or nil
// if it does not exist.
func (c *Cluster) Store(id raft.NodeID) raft.Storage { return c.stores[id] }

// Nodes returns every node in the cluster, in the cluster's original
// member order.
func (c *Cluster) Nodes() []*raft.Node {
	out := make([]*raft.Node, 0, len(c.IDs))
	for _, id := range c.IDs {
		out = append(out, c.nodes[id])
	}
	return out
}

// Leader returns the first node that believes itself leader, or false
// if none currently does.
func (c *Cluster) Leader() (*raft.Node, bool) {
	for _, node := range c.Nodes() {
		if node.IsLeader() {
			return node, true
		}
	}
	return nil, false
}

// Isolate removes both directions of every edge touching id, modeling
// a total network partition of that single node (§8 S2/S4).
func (c *Cluster) Isolate(id raft.NodeID) {
	for _, other := range c.IDs {
		if other == id {
			continue
		}
		c.Topo.RemoveEdge(string(id), string(other))
		c.Topo.RemoveEdge(string(other), string(id))
	}
}

// Reconnect restores full-mesh connectivity for id, re-adding both
// directions of every edge at the cluster's configured latency and
// reliability (§8 S5 "reconnect the follower").
func (c *Cluster) Reconnect(id raft.NodeID) {
	for _, other := range c.IDs {
		if other == id {
			continue
		}
		edge := sim.Edge{Latency: c.Config.Latency, Reliability: c.Config.Reliability}
		c.Topo.AddEdge(string(id), string(other), edge)
		c.Topo.AddEdge(string(other), string(id), edge)
	}
}

// SubmitCommand submits command to whichever node currently believes
// itself leader, returning an error if no node does.
func (c *Cluster) SubmitCommand(ctx context.Context, command []byte) ([]byte, error) {
	leader, ok := c.Leader()
	if !ok {
		return nil, fmt.Errorf("no leader available")
	}
	return leader.SubmitCommand(ctx, command)
}

// Put marshals a KVMachine put command and submits it through the
// current leader.
func (c *Cluster) Put(ctx context.Context, key string, value []byte) error {
	command, err := raft.JSONSerializer{}.Marshal(examples.KVOp{Kind: "put", Key: key, Value: value})
	if err != nil {
		return err
	}
	_, err = c.SubmitCommand(ctx, command)
	return err
}

// AddNode joins a brand-new member to the cluster by starting the
// corresponding node, then submitting an add_node configuration change
// through the current leader (§8 S7).
func (c *Cluster) AddNode(ctx context.Context, id raft.NodeID) error {
	leader, ok := c.Leader()
	if !ok {
		return fmt.Errorf("no leader available")
	}

	store := raftstore.NewMemStore()
	if err := store.SaveTermAndVote(1, ""); err != nil {
		return err
	}
	transport := simtransport.New(c.Network, id, raft.JSONSerializer{})
	c.transports[id] = transport
	c.stores[id] = store

	for _, other := range c.IDs {
		edge := sim.Edge{Latency: c.Config.Latency, Reliability: c.Config.Reliability}
		c.Topo.AddEdge(string(id), string(other), edge)
		c.Topo.AddEdge(string(other), string(id), edge)
	}
	c.IDs = append(c.IDs, id)

	sm := examples.NewKVMachine()
	membership := raft.NewDefaultMembership(nil)
	node := raft.NewNode(id, store, sm, transport, membership, c.Config.RaftConfig,
		raft.WithLogger(log.NewRaftLogger(log.WithNodeID(string(id)))),
		raft.WithNotifier(c.Broker),
	)
	transport.Register(id, node)
	c.nodes[id] = node

	if err := node.Start(); err != nil {
		return fmt.Errorf("start joining node %s: %w", id, err)
	}

	if err := leader.AddNode(ctx, id); err != nil {
		return fmt.Errorf("add_node %s: %w", id, err)
	}
	return nil
}

// ElectionWindow returns a duration comfortably longer than the
// configured election timeout, for tests to bound WaitFor calls by.
func (c *Cluster) ElectionWindow() time.Duration {
	return 4 * c.Config.RaftConfig.ElectionTimeoutMax
}
