package grpctransport

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/raftsecurity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/credentials"
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

func newNodeCreds(t *testing.T, ca *raftsecurity.CertAuthority, id string) (server, client credentials.TransportCredentials) {
	t.Helper()
	cert, err := ca.IssueNodeCertificate(id, []string{"127.0.0.1"}, nil)
	require.NoError(t, err)
	server = credentials.NewTLS(raftsecurity.ServerTLSConfig(cert, ca))
	client = credentials.NewTLS(raftsecurity.ClientTLSConfig(cert, ca))
	return server, client
}

func TestSendRequestVoteRoundTripOverTLS(t *testing.T) {
	ca, err := raftsecurity.NewCertAuthority()
	require.NoError(t, err)

	serverCreds1, clientCreds1 := newNodeCreds(t, ca, "n1")
	serverCreds2, _ := newNodeCreds(t, ca, "n2")

	t2, err := New("127.0.0.1:0", serverCreds2, nil, nil, raft.JSONSerializer{})
	require.NoError(t, err)
	defer t2.Close()
	t2.Register("n2", echoHandler{})

	resolver := StaticResolver{"n2": t2.Addr()}
	t1, err := New("127.0.0.1:0", serverCreds1, clientCreds1, resolver, raft.JSONSerializer{})
	require.NoError(t, err)
	defer t1.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := t1.SendRequestVote(ctx, "n2", raft.RequestVoteArgs{Term: 7, CandidateID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, raft.Term(7), reply.Term)
	assert.True(t, reply.VoteGranted)
}

func TestSendRequestVoteUnknownPeerFails(t *testing.T) {
	ca, err := raftsecurity.NewCertAuthority()
	require.NoError(t, err)
	serverCreds, clientCreds := newNodeCreds(t, ca, "n1")

	t1, err := New("127.0.0.1:0", serverCreds, clientCreds, StaticResolver{}, raft.JSONSerializer{})
	require.NoError(t, err)
	defer t1.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = t1.SendRequestVote(ctx, "ghost", raft.RequestVoteArgs{Term: 1})
	assert.Error(t, err)
}
