package raft

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/raftsim/pkg/futures"
)

// Notifier receives diagnostic notifications about role and configuration
// changes. It is never on the commit path — a slow or panicking Notifier
// must not affect correctness. pkg/raftevents supplies a real
// implementation; NopNotifier is valid.
type Notifier interface {
	RoleChanged(id NodeID, role Role, term Term)
	LeaderElected(id NodeID, leader NodeID, term Term)
	ConfigurationChanged(id NodeID, cfg Configuration)
	SnapshotInstalled(id NodeID, lastIncludedIndex Index)
}

type NopNotifier struct{}

func (NopNotifier) RoleChanged(NodeID, Role, Term)             {}
func (NopNotifier) LeaderElected(NodeID, NodeID, Term)         {}
func (NopNotifier) ConfigurationChanged(NodeID, Configuration) {}
func (NopNotifier) SnapshotInstalled(NodeID, Index)            {}

// Status is a read-only, lock-protected snapshot of a Node's volatile
// state, safe to read from any goroutine (§5 "read-only views may be
// lock-protected snapshots").
type Status struct {
	Role        Role
	Term        Term
	LeaderHint  NodeID
	CommitIndex Index
	LastApplied Index
}

// Node is one Raft cluster member. All mutations to its role/term/log
// bookkeeping happen on the single goroutine started by Start (the "raft
// task" of §5); every other goroutine — RPC dispatch, per-peer
// replicators, the apply loop, timers — communicates with it by posting
// events onto an internal channel and waiting for a reply on a
// caller-owned channel.
type Node struct {
	id         NodeID
	storage    Storage
	sm         StateMachine
	transport  Transport
	membership Membership
	cfg        Config
	logger     Logger
	metrics    Metrics
	notifier   Notifier
	serializer Serializer

	events  chan nodeEvent
	stopCh  chan struct{}
	stopped chan struct{}

	started          int32
	stopOnce         sync.Once
	closeStoppedOnce sync.Once

	// single-writer-from-run(), read by other goroutines via atomic ops.
	commitIndex atomic.Uint64
	lastApplied atomic.Uint64

	statusMu sync.RWMutex
	status   Status

	applySignal chan struct{}

	replicatorsMu sync.Mutex
	replicators   map[NodeID]*replicatorHandle

	wg sync.WaitGroup
}

// Option configures optional collaborators on NewNode.
type Option func(*Node)

func WithLogger(l Logger) Option         { return func(n *Node) { n.logger = l } }
func WithMetrics(m Metrics) Option       { return func(n *Node) { n.metrics = m } }
func WithNotifier(nt Notifier) Option    { return func(n *Node) { n.notifier = nt } }
func WithSerializer(s Serializer) Option { return func(n *Node) { n.serializer = s } }

// NewNode constructs a Node in the follower role. It does not start any
// goroutines or register with the transport until Start is called.
func NewNode(id NodeID, storage Storage, sm StateMachine, transport Transport, membership Membership, cfg Config, opts ...Option) *Node {
	cfg.Validate()
	n := &Node{
		id:               id,
		storage:          storage,
		sm:               sm,
		transport:        transport,
		membership:       membership,
		cfg:              cfg,
		logger:           NopLogger{},
		metrics:          NopMetrics{},
		notifier:         NopNotifier{},
		serializer:       JSONSerializer{},
		events:           make(chan nodeEvent, 256),
		stopCh:           make(chan struct{}),
		stopped:          make(chan struct{}),
		applySignal:      make(chan struct{}, 1),
		replicators:      make(map[NodeID]*replicatorHandle),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.status = Status{Role: RoleFollower}
	return n
}

// ID returns this node's identifier.
func (n *Node) ID() NodeID { return n.id }

// GetStatus returns a snapshot of the node's volatile state.
func (n *Node) GetStatus() Status {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()
	return n.status
}

func (n *Node) IsLeader() bool            { return n.GetStatus().Role == RoleLeader }
func (n *Node) GetCurrentTerm() Term      { return n.GetStatus().Term }
func (n *Node) CurrentLeaderHint() NodeID { return n.GetStatus().LeaderHint }

func (n *Node) setStatus(mutate func(*Status)) {
	n.statusMu.Lock()
	mutate(&n.status)
	n.statusMu.Unlock()
}

// Start registers the node with its transport and begins the role-timer
// loop, the RPC handler dispatch, and the apply loop (§2 "three
// concurrent activities per node").
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.started, 0, 1) {
		return nil
	}

	term, votedFor, err := n.storage.LoadTermAndVote()
	if err != nil {
		return wrapErr(ErrStorage, "load term/vote on start", err)
	}

	snap, hasSnap, err := n.storage.LoadSnapshot()
	if err != nil {
		return wrapErr(ErrStorage, "load snapshot on start", err)
	}

	st := &runState{
		currentTerm:   term,
		votedFor:      votedFor,
		role:          RoleFollower,
		pendingClients: make(map[Index]*futures.Resolver[[]byte]),
		currentConfig:  Configuration{Members: []NodeID{n.id}},
	}
	if hasSnap {
		st.commitIndex = snap.LastIncludedIndex
		st.lastApplied = snap.LastIncludedIndex
		st.currentConfig = snap.Configuration
		st.snapshotLastIndex = snap.LastIncludedIndex
		st.snapshotLastTerm = snap.LastIncludedTerm
		n.commitIndex.Store(uint64(snap.LastIncludedIndex))
		n.lastApplied.Store(uint64(snap.LastIncludedIndex))
	}
	// Recover the active configuration from the latest configuration
	// entry in the log, per the design note: "current configuration" is
	// the latest entry in the log, not the last committed one.
	if cfg, ok := n.latestConfigInLog(); ok {
		st.currentConfig = cfg
	}

	n.transport.Register(n.id, n)

	n.setStatus(func(s *Status) {
		s.Role = RoleFollower
		s.Term = st.currentTerm
		s.CommitIndex = st.commitIndex
		s.LastApplied = st.lastApplied
	})

	n.wg.Add(2)
	go n.run(st)
	go n.applyLoop()

	return nil
}

// latestConfigInLog scans backward from the log tail for the most recent
// configuration entry. Called only before the run loop starts; afterwards
// run() tracks currentConfig incrementally as entries are appended.
func (n *Node) latestConfigInLog() (Configuration, bool) {
	last, err := n.storage.LastLogIndex()
	if err != nil || last == 0 {
		return Configuration{}, false
	}
	for i := last; i >= 1; i-- {
		e, ok, err := n.storage.GetLogEntry(i)
		if err != nil || !ok {
			break
		}
		if e.Kind == EntryConfiguration {
			var cfg Configuration
			if err := n.serializer.Unmarshal(e.Command, &cfg); err == nil {
				return cfg, true
			}
		}
		if i == 1 {
			break
		}
	}
	return Configuration{}, false
}

// initiateShutdown begins the shutdown sequence exactly once, whether
// triggered by an explicit Stop() or by an internal fatal error.
func (n *Node) initiateShutdown() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.transport.Deregister(n.id)
	})
}

// Stop cancels all outstanding futures with ErrShutdown and tears down the
// node's goroutines and transport registration.
func (n *Node) Stop() {
	n.initiateShutdown()
	n.wg.Wait()
	n.closeStoppedOnce.Do(func() { close(n.stopped) })
}

// Done returns a channel closed once Stop has fully completed.
func (n *Node) Done() <-chan struct{} { return n.stopped }

func (n *Node) log(level, msg string, kv ...interface{}) {
	n.logger.Log(level, fmt.Sprintf("[%s] %s", n.id, msg), kv...)
}

func randomElectionTimeout(cfg Config) time.Duration {
	span := cfg.ElectionTimeoutMax - cfg.ElectionTimeoutMin
	if span <= 0 {
		return cfg.ElectionTimeoutMin
	}
	return cfg.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}
