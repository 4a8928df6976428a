// Package e2e exercises the testable properties of a running cluster
// end to end, against in-process clusters built by test/framework
// instead of real processes or VMs.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raft/examples"
	"github.com/cuemby/raftsim/test/framework"
)

// TestSingleNodeSelfElection covers S1: a lone node elects itself
// leader well within a handful of election timeouts.
func TestSingleNodeSelfElection(t *testing.T) {
	cfg := &framework.ClusterConfig{
		NumNodes:    1,
		Seed:        1,
		Latency:     time.Millisecond,
		Reliability: 1.0,
		RaftConfig:  raft.DefaultConfig(),
	}
	cfg.RaftConfig.ElectionTimeoutMin = 50 * time.Millisecond
	cfg.RaftConfig.ElectionTimeoutMax = 100 * time.Millisecond
	cfg.RaftConfig.HeartbeatInterval = 15 * time.Millisecond

	cluster, err := framework.NewCluster(cfg)
	if err != nil {
		t.Fatalf("build cluster: %v", err)
	}
	if err := cluster.Start(); err != nil {
		t.Fatalf("start cluster: %v", err)
	}
	defer cluster.Stop()

	waiter := framework.DefaultWaiter()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	leader, err := waiter.WaitForLeader(ctx, cluster)
	if err != nil {
		t.Fatalf("no leader elected: %v", err)
	}
	if leader.GetCurrentTerm() < 1 {
		t.Fatalf("expected current term >= 1, got %d", leader.GetCurrentTerm())
	}
}

// TestThreeNodeElectionWithPartition covers S2: with one node isolated
// before start, the remaining two still elect exactly one leader.
func TestThreeNodeElectionWithPartition(t *testing.T) {
	cfg := &framework.ClusterConfig{
		NumNodes:    3,
		Seed:        2,
		Latency:     10 * time.Millisecond,
		Reliability: 1.0,
		RaftConfig:  raft.DefaultConfig(),
	}
	cfg.RaftConfig.ElectionTimeoutMin = 50 * time.Millisecond
	cfg.RaftConfig.ElectionTimeoutMax = 100 * time.Millisecond
	cfg.RaftConfig.HeartbeatInterval = 15 * time.Millisecond

	cluster, err := framework.NewCluster(cfg)
	if err != nil {
		t.Fatalf("build cluster: %v", err)
	}
	cluster.Isolate("n1")
	if err := cluster.Start(); err != nil {
		t.Fatalf("start cluster: %v", err)
	}
	defer cluster.Stop()

	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := waiter.WaitFor(ctx, func() bool {
		leaders := 0
		for _, node := range cluster.Nodes() {
			if node.IsLeader() {
				leaders++
			}
		}
		return leaders == 1
	}, "exactly one leader"); err != nil {
		t.Fatalf("election did not converge: %v", err)
	}

	leader := assert.ExactlyOneLeader(cluster)
	if leader.ID() == "n1" {
		t.Fatalf("isolated node n1 must not become leader, got leader=%s", leader.ID())
	}
}

// TestCommandReplicationUnderFullConnectivity covers S3: three
// commands submitted to the leader end up in the same order on every
// node's log.
func TestCommandReplicationUnderFullConnectivity(t *testing.T) {
	cluster := mustStartCluster(t, &framework.ClusterConfig{
		NumNodes:    3,
		Seed:        3,
		Latency:     5 * time.Millisecond,
		Reliability: 1.0,
		RaftConfig:  fastElectionConfig(),
	})
	defer cluster.Stop()

	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := waiter.WaitForLeader(ctx, cluster); err != nil {
		t.Fatalf("no leader elected: %v", err)
	}

	startIdx := cluster.Nodes()[0].GetStatus().CommitIndex
	for _, key := range []string{"c1", "c2", "c3"} {
		cmdCtx, cmdCancel := context.WithTimeout(ctx, time.Second)
		err := cluster.Put(cmdCtx, key, []byte(key))
		cmdCancel()
		if err != nil {
			t.Fatalf("submit %s: %v", key, err)
		}
	}

	leader, _ := cluster.Leader()
	if err := waiter.WaitForCommitIndex(ctx, leader, startIdx+3); err != nil {
		t.Fatalf("commands did not commit: %v", err)
	}

	for i := raft.Index(1); i <= 3; i++ {
		assert.LogEntriesMatch(cluster, startIdx+i)
	}
}

// TestLeaderFailureCommitRecovery covers S4: once c1 commits on a
// five-node cluster, isolating the leader still lets the remaining
// four elect a new leader in a higher term and commit c2 after it,
// with c1 preserved at the same index everywhere.
func TestLeaderFailureCommitRecovery(t *testing.T) {
	cluster := mustStartCluster(t, &framework.ClusterConfig{
		NumNodes:    5,
		Seed:        4,
		Latency:     5 * time.Millisecond,
		Reliability: 1.0,
		RaftConfig:  fastElectionConfig(),
	})
	defer cluster.Stop()

	waiter := framework.DefaultWaiter()
	assert := framework.NewAssertions(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := waiter.WaitForLeader(ctx, cluster); err != nil {
		t.Fatalf("no leader elected: %v", err)
	}
	leader, _ := cluster.Leader()
	originalTerm := leader.GetCurrentTerm()

	if err := cluster.Put(ctx, "c1", []byte("c1")); err != nil {
		t.Fatalf("submit c1: %v", err)
	}
	committedIdx := leader.GetStatus().CommitIndex

	cluster.Isolate(leader.ID())

	var newLeader *raft.Node
	if err := waiter.WaitFor(ctx, func() bool {
		for _, node := range cluster.Nodes() {
			if node.ID() != leader.ID() && node.IsLeader() && node.GetCurrentTerm() > originalTerm {
				newLeader = node
				return true
			}
		}
		return false
	}, "a new leader in a higher term"); err != nil {
		t.Fatalf("failed over to a new leader: %v", err)
	}

	// The isolated old leader may still believe itself leader, so c2 goes
	// straight to the new one rather than through cluster.Put.
	c2, err := raft.JSONSerializer{}.Marshal(examples.KVOp{Kind: "put", Key: "c2", Value: []byte("c2")})
	if err != nil {
		t.Fatalf("encode c2: %v", err)
	}
	if _, err := newLeader.SubmitCommand(ctx, c2); err != nil {
		t.Fatalf("submit c2: %v", err)
	}
	if err := waiter.WaitForCommitIndex(ctx, newLeader, committedIdx+1); err != nil {
		t.Fatalf("c2 did not commit: %v", err)
	}

	for _, node := range cluster.Nodes() {
		if node.ID() == leader.ID() {
			continue
		}
		assert.CommitIndexAtLeast(node, committedIdx)
	}
	assert.LogEntriesMatch(cluster, committedIdx)
}

// TestMembershipChange covers S7: adding a fifth node to a four-node
// cluster commits through joint consensus and the new member
// participates afterward.
func TestMembershipChange(t *testing.T) {
	cluster := mustStartCluster(t, &framework.ClusterConfig{
		NumNodes:    4,
		Seed:        7,
		Latency:     5 * time.Millisecond,
		Reliability: 1.0,
		RaftConfig:  fastElectionConfig(),
	})
	defer cluster.Stop()

	waiter := framework.DefaultWaiter()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := waiter.WaitForLeader(ctx, cluster); err != nil {
		t.Fatalf("no leader elected: %v", err)
	}

	if err := cluster.AddNode(ctx, "n5"); err != nil {
		t.Fatalf("add_node n5: %v", err)
	}

	if err := waiter.WaitFor(ctx, func() bool {
		return cluster.Node("n5") != nil && cluster.Node("n5").GetStatus().CommitIndex > 0
	}, "new member to catch up"); err != nil {
		t.Fatalf("new member never caught up: %v", err)
	}

	if err := cluster.Put(ctx, "after-join", []byte("v")); err != nil {
		t.Fatalf("submit after join: %v", err)
	}
}

func mustStartCluster(t *testing.T, cfg *framework.ClusterConfig) *framework.Cluster {
	t.Helper()
	cluster, err := framework.NewCluster(cfg)
	if err != nil {
		t.Fatalf("build cluster: %v", err)
	}
	if err := cluster.Start(); err != nil {
		t.Fatalf("start cluster: %v", err)
	}
	return cluster
}

func fastElectionConfig() raft.Config {
	cfg := raft.DefaultConfig()
	cfg.ElectionTimeoutMin = 50 * time.Millisecond
	cfg.ElectionTimeoutMax = 100 * time.Millisecond
	cfg.HeartbeatInterval = 15 * time.Millisecond
	return cfg
}
