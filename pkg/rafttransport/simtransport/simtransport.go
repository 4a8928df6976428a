// Package simtransport implements raft.Transport over pkg/sim's
// connectionless API: every RPC is one envelope sent to the peer's
// simulated address and one envelope sent back in reply, so the
// transport inherits the simulator's latency, loss, and ordering
// semantics exactly (§4.2, §6 "Transport contract").
package simtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/cuemby/raftsim/pkg/sim"
)

type envelopeKind uint8

const (
	kindRequestVote envelopeKind = iota
	kindAppendEntries
	kindInstallSnapshot
)

type envelope struct {
	Kind    envelopeKind
	ReqID   uint64
	IsReply bool
	Failed  bool
	Payload []byte
}

// Transport is one node's handle onto the shared simulated network. One
// Transport is created per raft.Node; all Transports for a cluster share
// the same *sim.Network so their messages interact through one topology.
type Transport struct {
	node *sim.Node
	ser  raft.Serializer

	mu       sync.RWMutex
	handlers map[raft.NodeID]raft.RPCHandler

	pendingMu sync.Mutex
	pending   map[uint64]chan envelope
	nextReqID uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New binds a Transport to addr on net and starts the inbound dispatch
// loop. addr is conventionally the owning raft.NodeID's string form.
func New(net *sim.Network, addr raft.NodeID, ser raft.Serializer) *Transport {
	t := &Transport{
		node:     net.RegisterNode(string(addr)),
		ser:      ser,
		handlers: make(map[raft.NodeID]raft.RPCHandler),
		pending:  make(map[uint64]chan envelope),
		stopCh:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.dispatchLoop()
	return t
}

func (t *Transport) Close() {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	t.wg.Wait()
}

func (t *Transport) Register(id raft.NodeID, handler raft.RPCHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[id] = handler
}

func (t *Transport) Deregister(id raft.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, id)
}

func (t *Transport) dispatchLoop() {
	defer t.wg.Done()
	for {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-t.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		msg, err := t.node.Receive(ctx).MustGet()
		cancel()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				continue
			}
		}
		go t.handleMessage(msg)
	}
}

func (t *Transport) handleMessage(msg sim.Message) {
	var env envelope
	if err := t.ser.Unmarshal(msg.Payload, &env); err != nil {
		return
	}
	if env.IsReply {
		t.pendingMu.Lock()
		ch, ok := t.pending[env.ReqID]
		if ok {
			delete(t.pending, env.ReqID)
		}
		t.pendingMu.Unlock()
		if ok {
			ch <- env
		}
		return
	}
	t.serveRequest(msg.From, env)
}

func (t *Transport) serveRequest(from string, env envelope) {
	// A Transport is bound to a single simulated address, owned by
	// exactly one raft.Node, so exactly one handler is ever registered
	// here regardless of which peer the request arrived from.
	var handler raft.RPCHandler
	var ok bool
	t.mu.RLock()
	for _, h := range t.handlers {
		handler, ok = h, true
		break
	}
	t.mu.RUnlock()
	if !ok {
		return
	}

	ctx := context.Background()
	reply := envelope{Kind: env.Kind, ReqID: env.ReqID, IsReply: true}
	var payload []byte
	var err error

	switch env.Kind {
	case kindRequestVote:
		var args raft.RequestVoteArgs
		if uerr := t.ser.Unmarshal(env.Payload, &args); uerr != nil {
			return
		}
		var reply0 raft.RequestVoteReply
		reply0, err = handler.HandleRequestVote(ctx, args)
		if err == nil {
			payload, err = t.ser.Marshal(reply0)
		}
	case kindAppendEntries:
		var args raft.AppendEntriesArgs
		if uerr := t.ser.Unmarshal(env.Payload, &args); uerr != nil {
			return
		}
		var reply0 raft.AppendEntriesReply
		reply0, err = handler.HandleAppendEntries(ctx, args)
		if err == nil {
			payload, err = t.ser.Marshal(reply0)
		}
	case kindInstallSnapshot:
		var args raft.InstallSnapshotArgs
		if uerr := t.ser.Unmarshal(env.Payload, &args); uerr != nil {
			return
		}
		var reply0 raft.InstallSnapshotReply
		reply0, err = handler.HandleInstallSnapshot(ctx, args)
		if err == nil {
			payload, err = t.ser.Marshal(reply0)
		}
	default:
		return
	}

	if err != nil {
		reply.Failed = true
	} else {
		reply.Payload = payload
	}
	data, err := t.ser.Marshal(reply)
	if err != nil {
		return
	}
	t.node.Send(ctx, from, data)
}

func (t *Transport) roundTrip(ctx context.Context, target raft.NodeID, kind envelopeKind, args interface{}) (envelope, error) {
	payload, err := t.ser.Marshal(args)
	if err != nil {
		return envelope{}, raft.ErrProtocolSentinel
	}
	reqID := atomic.AddUint64(&t.nextReqID, 1)
	env := envelope{Kind: kind, ReqID: reqID, Payload: payload}
	data, err := t.ser.Marshal(env)
	if err != nil {
		return envelope{}, raft.ErrProtocolSentinel
	}

	replyCh := make(chan envelope, 1)
	t.pendingMu.Lock()
	t.pending[reqID] = replyCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, reqID)
		t.pendingMu.Unlock()
	}()

	accepted, err := t.node.Send(ctx, string(target), data).Get(ctx)
	if err != nil {
		return envelope{}, mapErr(err)
	}
	if !accepted {
		return envelope{}, raft.ErrNetworkSentinel
	}

	select {
	case reply := <-replyCh:
		if reply.Failed {
			return envelope{}, raft.ErrProtocolSentinel
		}
		return reply, nil
	case <-ctx.Done():
		return envelope{}, raft.ErrTimeoutSentinel
	}
}

func (t *Transport) SendRequestVote(ctx context.Context, target raft.NodeID, args raft.RequestVoteArgs) (raft.RequestVoteReply, error) {
	reply, err := t.roundTrip(ctx, target, kindRequestVote, args)
	if err != nil {
		return raft.RequestVoteReply{}, err
	}
	var out raft.RequestVoteReply
	if err := t.ser.Unmarshal(reply.Payload, &out); err != nil {
		return raft.RequestVoteReply{}, raft.ErrProtocolSentinel
	}
	return out, nil
}

func (t *Transport) SendAppendEntries(ctx context.Context, target raft.NodeID, args raft.AppendEntriesArgs) (raft.AppendEntriesReply, error) {
	reply, err := t.roundTrip(ctx, target, kindAppendEntries, args)
	if err != nil {
		return raft.AppendEntriesReply{}, err
	}
	var out raft.AppendEntriesReply
	if err := t.ser.Unmarshal(reply.Payload, &out); err != nil {
		return raft.AppendEntriesReply{}, raft.ErrProtocolSentinel
	}
	return out, nil
}

func (t *Transport) SendInstallSnapshot(ctx context.Context, target raft.NodeID, args raft.InstallSnapshotArgs) (raft.InstallSnapshotReply, error) {
	reply, err := t.roundTrip(ctx, target, kindInstallSnapshot, args)
	if err != nil {
		return raft.InstallSnapshotReply{}, err
	}
	var out raft.InstallSnapshotReply
	if err := t.ser.Unmarshal(reply.Payload, &out); err != nil {
		return raft.InstallSnapshotReply{}, raft.ErrProtocolSentinel
	}
	return out, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, sim.ErrTimeoutSentinel):
		return raft.ErrTimeoutSentinel
	case errors.Is(err, sim.ErrNetworkSentinel):
		return raft.ErrNetworkSentinel
	case errors.Is(err, sim.ErrConnectionClosedSentinel):
		return raft.ErrConnectionClosedSentinel
	default:
		return fmt.Errorf("simtransport: %w", err)
	}
}

var _ raft.Transport = (*Transport)(nil)
