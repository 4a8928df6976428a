package raftclient

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raft/examples"
	"github.com/cuemby/raftsim/pkg/raftstore"
	"github.com/cuemby/raftsim/pkg/rafttransport/simtransport"
	"github.com/cuemby/raftsim/pkg/sim"
	"github.com/stretchr/testify/require"
)

func newTestCluster(t *testing.T, ids []raft.NodeID) map[raft.NodeID]*raft.Node {
	t.Helper()
	addrs := make([]string, len(ids))
	for i, id := range ids {
		addrs[i] = string(id)
	}
	topo := sim.NewTopology()
	topo.FullMesh(addrs, sim.Edge{Latency: time.Millisecond, Reliability: 1.0})
	net := sim.NewNetwork(topo, 1, sim.RealClock{})
	t.Cleanup(net.Close)

	cfg := raft.DefaultConfig()
	initialConfig, err := raft.JSONSerializer{}.Marshal(raft.Configuration{Members: ids})
	require.NoError(t, err)

	nodes := make(map[raft.NodeID]*raft.Node, len(ids))
	for _, id := range ids {
		transport := simtransport.New(net, id, raft.JSONSerializer{})
		t.Cleanup(transport.Close)
		store := raftstore.NewMemStore()
		require.NoError(t, store.AppendLogEntries([]raft.LogEntry{
			{Index: 1, Term: 1, Kind: raft.EntryConfiguration, Command: initialConfig},
		}))
		require.NoError(t, store.SaveTermAndVote(1, ""))
		membership := raft.NewDefaultMembership(nil)
		node := raft.NewNode(id, store, examples.NewKVMachine(), transport, membership, cfg)
		nodes[id] = node
	}
	for _, n := range nodes {
		require.NoError(t, n.Start())
		t.Cleanup(n.Stop)
	}
	return nodes
}

func waitForLeader(t *testing.T, nodes map[raft.NodeID]*raft.Node) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if n.IsLeader() {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected within deadline")
}

func TestClientSubmitCommandFollowsLeaderHint(t *testing.T) {
	ids := []raft.NodeID{"n1", "n2", "n3"}
	nodes := newTestCluster(t, ids)
	waitForLeader(t, nodes)

	client := New(nodes, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.SubmitCommand(ctx, examples.EncodePut("k", []byte("v")))
	require.NoError(t, err)
}
