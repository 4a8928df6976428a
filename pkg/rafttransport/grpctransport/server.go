package grpctransport

import (
	"context"

	"github.com/cuemby/raftsim/pkg/raft"
)

// rpcServer adapts the single locally registered raft.RPCHandler onto the
// rawRPCServer surface grpc.Server dispatches into.
type rpcServer struct {
	t *Transport
}

func (s *rpcServer) RequestVote(ctx context.Context, in *[]byte) (*[]byte, error) {
	var args raft.RequestVoteArgs
	if err := s.t.ser.Unmarshal(*in, &args); err != nil {
		return nil, err
	}
	handler, ok := s.t.localHandler()
	if !ok {
		return nil, errNoHandler
	}
	reply, err := handler.HandleRequestVote(ctx, args)
	if err != nil {
		return nil, err
	}
	out, err := s.t.ser.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *rpcServer) AppendEntries(ctx context.Context, in *[]byte) (*[]byte, error) {
	var args raft.AppendEntriesArgs
	if err := s.t.ser.Unmarshal(*in, &args); err != nil {
		return nil, err
	}
	handler, ok := s.t.localHandler()
	if !ok {
		return nil, errNoHandler
	}
	reply, err := handler.HandleAppendEntries(ctx, args)
	if err != nil {
		return nil, err
	}
	out, err := s.t.ser.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *rpcServer) InstallSnapshot(ctx context.Context, in *[]byte) (*[]byte, error) {
	var args raft.InstallSnapshotArgs
	if err := s.t.ser.Unmarshal(*in, &args); err != nil {
		return nil, err
	}
	handler, ok := s.t.localHandler()
	if !ok {
		return nil, errNoHandler
	}
	reply, err := handler.HandleInstallSnapshot(ctx, args)
	if err != nil {
		return nil, err
	}
	out, err := s.t.ser.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

var _ rawRPCServer = (*rpcServer)(nil)
