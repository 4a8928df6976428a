package sim

import (
	"context"

	"github.com/cuemby/raftsim/pkg/futures"
)

type listenerKey struct {
	addr string
	port int
}

// pendingHandshake is exchanged between a connecting Node and the
// Listener it targets. It rides the Listener's bounded pending queue
// exactly like any other piece of simulator state, so whichever of
// Connect/Accept is issued first, the other's arrival completes the
// handshake — the queue IS the rendezvous point (§4.2 "Concurrent
// accept/connect").
type pendingHandshake struct {
	remoteAddr string
	remotePort int
	result     chan *Conn
}

// Listener reserves a (address, port) endpoint and hands out completed
// inbound handshakes in FIFO order.
type Listener struct {
	node    *Node
	port    int
	pending chan *pendingHandshake
	closeCh chan struct{}
}

// Bind reserves (n.Address(), port). Binding an already-bound port fails.
func (n *Node) Bind(port int) (*Listener, error) {
	key := listenerKey{addr: n.addr, port: port}
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if _, exists := n.net.listener[key]; exists {
		return nil, &Error{Kind: ErrNetwork, Msg: "port already bound"}
	}
	l := &Listener{
		node:    n,
		port:    port,
		pending: make(chan *pendingHandshake, 64),
		closeCh: make(chan struct{}),
	}
	n.net.listener[key] = l
	return l, nil
}

func (l *Listener) Close() {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	l.node.net.mu.Lock()
	delete(l.node.net.listener, listenerKey{addr: l.node.addr, port: l.port})
	l.node.net.mu.Unlock()
}

// Accept yields the next incoming completed handshake, a fair FIFO over
// the listener's pending queue.
func (l *Listener) Accept(ctx context.Context) *futures.Future[*Conn] {
	f, r := futures.New[*Conn]()
	go func() {
		select {
		case p, ok := <-l.pending:
			if !ok {
				r.Fail(ErrConnectionClosedSentinel)
				return
			}
			serverSide, clientSide := newConnPair(
				Endpoint{Addr: l.node.addr, Port: l.port},
				Endpoint{Addr: p.remoteAddr, Port: p.remotePort},
				l.node.net,
			)
			p.result <- clientSide
			r.Resolve(serverSide)
		case <-l.closeCh:
			r.Fail(ErrConnectionClosedSentinel)
		case <-ctx.Done():
			r.Fail(ErrTimeoutSentinel)
		}
	}()
	return f
}

// Connect performs the three-step handshake of §4.2 over the
// connectionless channel: the SYN (this call) travels through the
// network's latency/reliability model exactly like any other simulated
// message, so a lossy or partitioned link makes Connect fail the same
// way Send would.
func (n *Node) Connect(ctx context.Context, remoteAddr string, remotePort, localPort int) *futures.Future[*Conn] {
	f, r := futures.New[*Conn]()

	key := listenerKey{addr: remoteAddr, port: remotePort}
	n.net.mu.Lock()
	l, ok := n.net.listener[key]
	n.net.mu.Unlock()
	if !ok {
		r.Fail(ErrNetworkSentinel)
		return f
	}

	handshake := &pendingHandshake{remoteAddr: n.addr, remotePort: localPort, result: make(chan *Conn, 1)}
	accepted := n.net.transmit(n.addr, remoteAddr, func() {
		select {
		case l.pending <- handshake:
		default:
			// listener's backlog is full: the SYN is effectively dropped,
			// Connect will time out waiting below.
		}
	})
	if !accepted {
		r.Fail(ErrNetworkSentinel)
		return f
	}

	go func() {
		select {
		case conn := <-handshake.result:
			r.Resolve(conn)
		case <-ctx.Done():
			r.Fail(ErrTimeoutSentinel)
		}
	}()
	return f
}

// ConnectPooled reuses a pooled, open connection to (remoteAddr,
// remotePort) when one is available, otherwise it dials and the result
// becomes eligible for pooling once the caller calls ReturnConnection.
func (n *Node) ConnectPooled(ctx context.Context, remoteAddr string, remotePort, localPort int) *futures.Future[*Conn] {
	if conn, ok := n.pool.take(poolKey{remoteAddr, remotePort}); ok {
		return futures.Resolved(conn)
	}
	return n.Connect(ctx, remoteAddr, remotePort, localPort)
}

// ReturnConnection hands conn back to this node's pool iff it is still
// open; closed or faulted connections are evicted instead of cached.
func (n *Node) ReturnConnection(conn *Conn) {
	n.pool.put(poolKey{conn.remote.Addr, conn.remote.Port}, conn)
}
