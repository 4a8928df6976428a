// Package sim implements the deterministic, in-process network fabric
// that drives the Raft transport under test (§4.2): a directed topology
// of latency/reliability edges, a seedable delivery scheduler, and both
// connectionless and connection-oriented per-node APIs.
package sim

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

// Network is the simulator core: topology, message queueing, delivery
// scheduling, and pseudo-random loss. Loss is drawn from one seeded
// source on the sending call; delivery runs on a single scheduler
// goroutine, so delivery order is reproducible for a fixed seed and a
// fixed event-submission order.
type Network struct {
	topo  *Topology
	clock Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	seq      uint64
	queue    deliveryHeap
	nodes    map[string]*Node
	listener map[listenerKey]*Listener

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNetwork constructs a Network over topo, seeded for reproducibility,
// using clock as its time source (RealClock for live runs, a VirtualClock
// driven by Advance for deterministic tests).
func NewNetwork(topo *Topology, seed int64, clock Clock) *Network {
	n := &Network{
		topo:     topo,
		clock:    clock,
		rng:      rand.New(rand.NewSource(seed)),
		nodes:    make(map[string]*Node),
		listener: make(map[listenerKey]*Listener),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *Network) Topology() *Topology { return n.topo }

// Close stops the scheduler goroutine. In-flight scheduled deliveries are
// abandoned.
func (n *Network) Close() {
	select {
	case <-n.stopCh:
	default:
		close(n.stopCh)
	}
	n.wg.Wait()
}

// RegisterNode creates the connectionless endpoint for addr. Registering
// the same address twice returns the existing Node.
func (n *Network) RegisterNode(addr string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.nodes[addr]; ok {
		return existing
	}
	node := &Node{
		addr:      addr,
		net:       n,
		inbox:     make(chan Message, 256),
		sendSlots: make(chan struct{}, 256),
		pool:      newPool(),
	}
	n.nodes[addr] = node
	return node
}

type scheduledItem struct {
	deliverAt nanoTime
	seq       uint64
	deliver   func()
}

// nanoTime avoids importing time.Time comparisons into the heap ordering
// so ties break purely on sequence number, matching the spec's "delivered
// in send order" guarantee for a fixed pair of endpoints.
type nanoTime int64

type deliveryHeap []*scheduledItem

func (h deliveryHeap) Len() int { return len(h) }
func (h deliveryHeap) Less(i, j int) bool {
	if h[i].deliverAt != h[j].deliverAt {
		return h[i].deliverAt < h[j].deliverAt
	}
	return h[i].seq < h[j].seq
}
func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *deliveryHeap) Push(x interface{}) { *h = append(*h, x.(*scheduledItem)) }
func (h *deliveryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// transmit is the single entry point used by both the connectionless Node
// API and Conn's framed reads/writes: it looks up the edge, draws the
// pseudo-random delivery decision, and if the draw survives, schedules
// deliver to run on the scheduler goroutine after the edge's latency.
// Returns whether the message was accepted for transmission (link
// exists) — acceptance is independent of, and precedes, the drop
// decision (§4.2 "Accepted != delivered").
func (n *Network) transmit(from, to string, deliver func()) bool {
	edge, ok := n.topo.GetEdge(from, to)
	if !ok {
		return false
	}
	n.rngMu.Lock()
	u := n.rng.Float64()
	n.rngMu.Unlock()
	if u >= edge.Reliability {
		return true // accepted, then dropped
	}
	at := nanoTime(n.clock.Now().Add(edge.Latency).UnixNano())

	n.mu.Lock()
	n.seq++
	heap.Push(&n.queue, &scheduledItem{deliverAt: at, seq: n.seq, deliver: deliver})
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	return true
}

// run is the single delivery-scheduling task (§5): it drains the
// priority queue in deliverAt order, sleeping between items.
func (n *Network) run() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		var timerC <-chan time.Time
		if n.queue.Len() > 0 {
			next := n.queue[0]
			dueIn := time.Duration(int64(next.deliverAt) - n.clock.Now().UnixNano())
			if dueIn < 0 {
				dueIn = 0
			}
			timerC = n.clock.After(dueIn)
		}
		n.mu.Unlock()

		select {
		case <-n.stopCh:
			return
		case <-n.wake:
			continue
		case <-timerC:
			n.deliverDue()
		}
	}
}

// deliverDue pops and runs every item whose deliverAt has arrived.
func (n *Network) deliverDue() {
	now := nanoTime(n.clock.Now().UnixNano())
	for {
		n.mu.Lock()
		if n.queue.Len() == 0 || n.queue[0].deliverAt > now {
			n.mu.Unlock()
			return
		}
		item := heap.Pop(&n.queue).(*scheduledItem)
		n.mu.Unlock()
		item.deliver()
	}
}
