package sim

import (
	"context"
	"time"

	"github.com/cuemby/raftsim/pkg/futures"
)

// Message is one delivered connectionless payload (§4.2 "Connectionless
// API").
type Message struct {
	From    string
	To      string
	Payload []byte
}

// Node is one simulated endpoint's connectionless API, plus the
// connection-oriented bind/connect surface and its pooled connections.
type Node struct {
	addr string
	net  *Network

	inbox chan Message

	// sendSlots bounds how many concurrent Send submissions this node
	// will accept; acquiring a slot under timeout is what makes "queue
	// not full" observable as a Send timeout rather than an unbounded
	// goroutine pile-up.
	sendSlots chan struct{}

	pool *Pool
}

func (n *Node) Address() string { return n.addr }

// Send transmits payload to the named address. The returned future
// resolves true once the message is accepted for transmission (link
// exists and the submission queue had room) — acceptance does not imply
// delivery (§4.2).
func (n *Node) Send(ctx context.Context, to string, payload []byte) *futures.Future[bool] {
	f, r := futures.New[bool]()
	go func() {
		select {
		case n.sendSlots <- struct{}{}:
		case <-ctx.Done():
			r.Resolve(false)
			return
		}
		defer func() { <-n.sendSlots }()

		target := n.net.lookupNode(to)
		accepted := n.net.transmit(n.addr, to, func() {
			if target == nil {
				return
			}
			select {
			case target.inbox <- Message{From: n.addr, To: to, Payload: payload}:
			default:
				// destination inbox saturated: message is lost, same as a
				// dropped-on-the-wire send from the caller's perspective.
			}
		})
		r.Resolve(accepted)
	}()
	return f
}

// Receive yields the next delivered message destined for this node. On
// ctx expiry the future resolves in an error state carrying
// ErrTimeoutSentinel.
func (n *Node) Receive(ctx context.Context) *futures.Future[Message] {
	f, r := futures.New[Message]()
	go func() {
		select {
		case msg := <-n.inbox:
			r.Resolve(msg)
		case <-ctx.Done():
			r.Fail(ErrTimeoutSentinel)
		}
	}()
	return f
}

func timeoutCtx(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (n *Network) lookupNode(addr string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[addr]
}
