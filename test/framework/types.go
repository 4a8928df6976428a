// Package framework builds small, in-process Raft clusters over
// pkg/sim for the scenario tests in test/e2e, replacing process/VM
// orchestration with a topology the tests can partition and heal on
// demand within a single test binary.
package framework

import (
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raftevents"
	"github.com/cuemby/raftsim/pkg/rafttransport/simtransport"
	"github.com/cuemby/raftsim/pkg/sim"
)

// ClusterConfig controls the topology and timing a test cluster is
// built with.
type ClusterConfig struct {
	// NumNodes is the number of cluster members.
	NumNodes int
	// Seed is the deterministic RNG seed for the simulated network.
	Seed int64
	// Latency is applied uniformly to every edge AddEdge creates.
	Latency time.Duration
	// Reliability is applied uniformly to every edge AddEdge creates.
	Reliability float64
	// RaftConfig overrides raft.DefaultConfig() when non-zero.
	RaftConfig raft.Config
	// SnapshotThreshold, if non-zero, is copied into RaftConfig.SnapshotThreshold.
	SnapshotThreshold int
}

// DefaultClusterConfig returns a full-mesh, reliable, fast-timeout
// configuration suitable for most scenario tests.
func DefaultClusterConfig() *ClusterConfig {
	cfg := raft.DefaultConfig()
	cfg.ElectionTimeoutMin = 50 * time.Millisecond
	cfg.ElectionTimeoutMax = 100 * time.Millisecond
	cfg.HeartbeatInterval = 15 * time.Millisecond

	return &ClusterConfig{
		NumNodes:    3,
		Seed:        1,
		Latency:     5 * time.Millisecond,
		Reliability: 1.0,
		RaftConfig:  cfg,
	}
}

// Cluster is a set of in-process raft.Node instances wired together
// through one *sim.Network, with helpers to partition, heal, and
// submit commands the way test/e2e's scenarios need to.
type Cluster struct {
	Config *ClusterConfig

	IDs     []raft.NodeID
	Topo    *sim.Topology
	Network *sim.Network
	Broker  *raftevents.Broker

	nodes      map[raft.NodeID]*raft.Node
	transports map[raft.NodeID]*simtransport.Transport
	stores     map[raft.NodeID]raft.Storage
}

// TestingT is the subset of *testing.T the waiters and assertions in
// this package need, so they can run outside a real test binary too.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}
