package sim

import (
	"context"
	"sync"

	"github.com/cuemby/raftsim/pkg/futures"
)

// Endpoint is an (address, port) pair, reported by a Conn for both ends.
type Endpoint struct {
	Addr string
	Port int
}

// Conn is one established, connection-oriented stream. Frames written on
// one side are delivered to the other side's Read, subject to the same
// latency and reliability as the connectionless API, since a Conn rides
// the same simulated link between its two endpoints.
type Conn struct {
	local  Endpoint
	remote Endpoint
	net    *Network
	peer   *Conn

	recv chan []byte

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// newConnPair builds the two matched, mutually-referencing Conn objects
// produced by a completed handshake: serverSide is returned to the
// Listener's Accept, clientSide to the connecting Node's Connect.
func newConnPair(serverLocal, serverRemote Endpoint, net *Network) (serverSide, clientSide *Conn) {
	serverSide = &Conn{local: serverLocal, remote: serverRemote, net: net, recv: make(chan []byte, 64), closeCh: make(chan struct{})}
	clientSide = &Conn{local: serverRemote, remote: serverLocal, net: net, recv: make(chan []byte, 64), closeCh: make(chan struct{})}
	serverSide.peer = clientSide
	clientSide.peer = serverSide
	return serverSide, clientSide
}

func (c *Conn) LocalEndpoint() Endpoint  { return c.local }
func (c *Conn) RemoteEndpoint() Endpoint { return c.remote }

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closeCh)
}

// Write sends payload to the peer. The returned future resolves true
// once the frame is accepted for transmission; it resolves false on
// timeout and fails with ErrConnectionClosedSentinel once Close has
// occurred (§4.2 "Failure semantics").
func (c *Conn) Write(ctx context.Context, payload []byte) *futures.Future[bool] {
	f, r := futures.New[bool]()
	if !c.IsOpen() {
		r.Fail(ErrConnectionClosedSentinel)
		return f
	}
	peer := c.peer
	go func() {
		accepted := c.net.transmit(c.local.Addr, c.remote.Addr, func() {
			select {
			case peer.recv <- payload:
			default:
			}
		})
		select {
		case <-ctx.Done():
			r.Resolve(false)
		default:
			r.Resolve(accepted)
		}
	}()
	return f
}

// Read yields the next whole delivered payload on this stream.
func (c *Conn) Read(ctx context.Context) *futures.Future[[]byte] {
	f, r := futures.New[[]byte]()
	go func() {
		select {
		case payload := <-c.recv:
			r.Resolve(payload)
		case <-c.closeCh:
			r.Fail(ErrConnectionClosedSentinel)
		case <-ctx.Done():
			r.Fail(ErrTimeoutSentinel)
		}
	}()
	return f
}
