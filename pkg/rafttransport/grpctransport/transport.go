// Package grpctransport implements raft.Transport over real
// google.golang.org/grpc connections with mutual TLS, for deployments
// that cross process or host boundaries instead of running inside
// pkg/sim. A peer is addressed by a NodeID that a Resolver turns into a
// dial target; RPC bodies are raft.Serializer-encoded and carried as
// opaque frames through a generic codec (§6, §7).
package grpctransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/raftsim/pkg/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var errNoHandler = errors.New("grpctransport: no raft.RPCHandler registered")

// Resolver turns a peer's NodeID into a dial address (host:port).
type Resolver interface {
	ResolveAddr(id raft.NodeID) (string, error)
}

// StaticResolver is a Resolver backed by a fixed map, the common case for
// a cluster whose membership addresses are known from configuration.
type StaticResolver map[raft.NodeID]string

func (r StaticResolver) ResolveAddr(id raft.NodeID) (string, error) {
	addr, ok := r[id]
	if !ok {
		return "", fmt.Errorf("grpctransport: no address known for %s", id)
	}
	return addr, nil
}

// Transport is a raft.Transport backed by one listening *grpc.Server and
// a pool of outbound *grpc.ClientConn, one per peer dialed lazily and
// reused across calls.
type Transport struct {
	ser         raft.Serializer
	resolver    Resolver
	clientCreds credentials.TransportCredentials

	grpcServer *grpc.Server
	listener   net.Listener

	mu      sync.RWMutex
	handler raft.RPCHandler

	connsMu sync.Mutex
	conns   map[raft.NodeID]*grpc.ClientConn
}

// New starts a gRPC server on listenAddr secured with serverCreds and
// returns a Transport ready to Register a local raft.RPCHandler and dial
// peers resolver knows about using clientCreds. Both credential sets are
// typically built from the same pkg/raftsecurity node certificate and
// cluster CA, via ServerTLSConfig/ClientTLSConfig respectively — the
// tls.Config shapes differ (ClientCAs vs RootCAs) even though the
// underlying certificate and trust root are shared.
func New(listenAddr string, serverCreds, clientCreds credentials.TransportCredentials, resolver Resolver, ser raft.Serializer) (*Transport, error) {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: listen %s: %w", listenAddr, err)
	}

	t := &Transport{
		ser:         ser,
		resolver:    resolver,
		clientCreds: clientCreds,
		listener:    lis,
		conns:       make(map[raft.NodeID]*grpc.ClientConn),
	}

	t.grpcServer = grpc.NewServer(grpc.Creds(serverCreds))
	t.grpcServer.RegisterService(&serviceDesc, &rpcServer{t: t})
	go t.grpcServer.Serve(lis)

	return t, nil
}

func (t *Transport) Addr() string { return t.listener.Addr().String() }

// Close stops the server and tears down every pooled client connection.
func (t *Transport) Close() {
	t.grpcServer.GracefulStop()
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
}

func (t *Transport) Register(id raft.NodeID, handler raft.RPCHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *Transport) Deregister(id raft.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = nil
}

func (t *Transport) localHandler() (raft.RPCHandler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler, t.handler != nil
}

func (t *Transport) connFor(target raft.NodeID) (*grpc.ClientConn, error) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if conn, ok := t.conns[target]; ok {
		return conn, nil
	}
	addr, err := t.resolver.ResolveAddr(target)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(t.clientCreds))
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", addr, err)
	}
	t.conns[target] = conn
	return conn, nil
}

func (t *Transport) invoke(ctx context.Context, target raft.NodeID, method string, args interface{}) ([]byte, error) {
	conn, err := t.connFor(target)
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	payload, err := t.ser.Marshal(args)
	if err != nil {
		return nil, raft.ErrProtocolSentinel
	}
	var reply []byte
	err = conn.Invoke(ctx, method, &payload, &reply, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	return reply, nil
}

func (t *Transport) SendRequestVote(ctx context.Context, target raft.NodeID, args raft.RequestVoteArgs) (raft.RequestVoteReply, error) {
	data, err := t.invoke(ctx, target, methodRequestVote, args)
	if err != nil {
		return raft.RequestVoteReply{}, err
	}
	var out raft.RequestVoteReply
	if err := t.ser.Unmarshal(data, &out); err != nil {
		return raft.RequestVoteReply{}, raft.ErrProtocolSentinel
	}
	return out, nil
}

func (t *Transport) SendAppendEntries(ctx context.Context, target raft.NodeID, args raft.AppendEntriesArgs) (raft.AppendEntriesReply, error) {
	data, err := t.invoke(ctx, target, methodAppendEntries, args)
	if err != nil {
		return raft.AppendEntriesReply{}, err
	}
	var out raft.AppendEntriesReply
	if err := t.ser.Unmarshal(data, &out); err != nil {
		return raft.AppendEntriesReply{}, raft.ErrProtocolSentinel
	}
	return out, nil
}

func (t *Transport) SendInstallSnapshot(ctx context.Context, target raft.NodeID, args raft.InstallSnapshotArgs) (raft.InstallSnapshotReply, error) {
	data, err := t.invoke(ctx, target, methodInstallSnapshot, args)
	if err != nil {
		return raft.InstallSnapshotReply{}, err
	}
	var out raft.InstallSnapshotReply
	if err := t.ser.Unmarshal(data, &out); err != nil {
		return raft.InstallSnapshotReply{}, raft.ErrProtocolSentinel
	}
	return out, nil
}

func wrapTransportErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return raft.ErrTimeoutSentinel
	case errors.Is(err, context.Canceled):
		return raft.ErrTimeoutSentinel
	default:
		return fmt.Errorf("%w: %v", raft.ErrNetworkSentinel, err)
	}
}

var _ raft.Transport = (*Transport)(nil)
