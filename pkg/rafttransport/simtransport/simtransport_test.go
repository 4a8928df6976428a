package simtransport

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct{}

func (echoHandler) HandleRequestVote(ctx context.Context, args raft.RequestVoteArgs) (raft.RequestVoteReply, error) {
	return raft.RequestVoteReply{Term: args.Term, VoteGranted: true}, nil
}
func (echoHandler) HandleAppendEntries(ctx context.Context, args raft.AppendEntriesArgs) (raft.AppendEntriesReply, error) {
	return raft.AppendEntriesReply{Term: args.Term, Success: true}, nil
}
func (echoHandler) HandleInstallSnapshot(ctx context.Context, args raft.InstallSnapshotArgs) (raft.InstallSnapshotReply, error) {
	return raft.InstallSnapshotReply{Term: args.Term}, nil
}

func TestSendRequestVoteRoundTrip(t *testing.T) {
	topo := sim.NewTopology()
	topo.FullMesh([]string{"n1", "n2"}, sim.Edge{Latency: time.Millisecond, Reliability: 1.0})
	net := sim.NewNetwork(topo, 1, sim.RealClock{})
	defer net.Close()

	t1 := New(net, "n1", raft.JSONSerializer{})
	defer t1.Close()
	t2 := New(net, "n2", raft.JSONSerializer{})
	defer t2.Close()
	t2.Register("n2", echoHandler{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := t1.SendRequestVote(ctx, "n2", raft.RequestVoteArgs{Term: 5, CandidateID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, raft.Term(5), reply.Term)
	assert.True(t, reply.VoteGranted)
}

func TestSendRequestVoteNoLinkFails(t *testing.T) {
	topo := sim.NewTopology()
	net := sim.NewNetwork(topo, 1, sim.RealClock{})
	defer net.Close()

	t1 := New(net, "n1", raft.JSONSerializer{})
	defer t1.Close()
	net.RegisterNode("n2")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := t1.SendRequestVote(ctx, "n2", raft.RequestVoteArgs{Term: 1})
	assert.Error(t, err)
}
