package raft

import (
	"time"

	"github.com/cuemby/raftsim/pkg/futures"
)

// runState is the mutable state owned exclusively by the goroutine
// running Node.run. Nothing outside that goroutine may touch it; all
// access from other goroutines goes through nodeEvent values on
// Node.events.
type runState struct {
	currentTerm Term
	votedFor    NodeID
	role        Role

	commitIndex Index
	lastApplied Index

	currentConfig Configuration
	leaderHint    NodeID

	// Compaction boundary: the highest index (and its term) folded into
	// the most recently taken or installed snapshot. Entries at or below
	// this index are no longer guaranteed to be present in the log.
	snapshotLastIndex Index
	snapshotLastTerm  Term

	// Leader-only. Reset whenever the node becomes leader.
	nextIndex  map[NodeID]Index
	matchIndex map[NodeID]Index

	// Candidate-only.
	votesReceived map[NodeID]bool

	electionTimer *time.Timer

	heartbeatTicker *time.Ticker

	pendingClients map[Index]*futures.Resolver[[]byte]

	// Membership changes are strictly serialized: at most one is ever in
	// flight, tracked here rather than in a map.
	configInFlight   bool
	configResolver   *futures.Resolver[struct{}]
	configJointIndex Index
	configFinalIndex Index
	configRemoving   NodeID

	// Leader-only, per in-flight InstallSnapshot target: next byte offset
	// to send. Absence means no snapshot transfer is in progress to that
	// peer.
	snapshotOffset map[NodeID]int

	// Follower-only: chunk assembly buffer for an in-progress
	// InstallSnapshot from the current leader.
	snapshotAssembly *snapshotAssembly
}

type snapshotAssembly struct {
	leaderID          NodeID
	lastIncludedIndex Index
	lastIncludedTerm  Term
	buf               []byte
}

// nodeEvent is the sum type of everything that can perturb a Node's
// runState. Values are dispatched by Node.handleEvent via a type switch.
type nodeEvent interface{}

type requestVoteEvent struct {
	args  RequestVoteArgs
	reply chan RequestVoteReply
}

type appendEntriesEvent struct {
	args  AppendEntriesArgs
	reply chan AppendEntriesReply
}

type installSnapshotEvent struct {
	args  InstallSnapshotArgs
	reply chan InstallSnapshotReply
}

// submitCommandEvent carries a client-submitted normal-entry command.
type submitCommandEvent struct {
	command  []byte
	resolver *futures.Resolver[[]byte]
}

// addNodeEvent/removeNodeEvent drive a joint-consensus membership change.
type addNodeEvent struct {
	id       NodeID
	resolver *futures.Resolver[struct{}]
}

type removeNodeEvent struct {
	id       NodeID
	resolver *futures.Resolver[struct{}]
}

// appendEntriesResultEvent is posted by a peer replicator goroutine after
// an AppendEntries RPC completes (success, rejection, or transport error).
type appendEntriesResultEvent struct {
	peer         NodeID
	sentTerm     Term
	prevLogIndex Index
	numEntries   int
	reply        AppendEntriesReply
	err          error
}

// installSnapshotResultEvent is posted by a peer replicator goroutine
// after an InstallSnapshot chunk RPC completes.
type installSnapshotResultEvent struct {
	peer              NodeID
	sentTerm          Term
	lastIncludedIndex Index
	lastIncludedTerm  Term
	done              bool
	chunkLen          int
	reply             InstallSnapshotReply
	err               error
}

// snapshotTakenEvent notifies run() that applyLoop has persisted a new
// snapshot, advancing the compaction boundary used by log-matching checks
// and by buildReplicateInstruction's decision to switch a lagging peer to
// a snapshot transfer.
type snapshotTakenEvent struct {
	index Index
	term  Term
}

type requestVoteResultEvent struct {
	peer     NodeID
	sentTerm Term
	reply    RequestVoteReply
	err      error
}

// replicateWorkEvent is how a per-peer replicator goroutine asks run() for
// its next unit of work (either an AppendEntries or a snapshot chunk), and
// is answered synchronously so the replicator never observes torn state.
type replicateWorkEvent struct {
	peer  NodeID
	reply chan replicateInstruction
}

type replicateInstruction struct {
	stop bool // true: peer is no longer a replication target, exit.

	useSnapshot bool
	snap        Snapshot
	payload     []byte
	offset      int

	term         Term
	prevLogIndex Index
	prevLogTerm  Term
	entries      []LogEntry
	leaderCommit Index
}

// appliedEvent is posted by applyLoop once it has driven the state
// machine forward to a given index, so run() can resolve pending client
// futures and advance lastApplied bookkeeping consistently.
type appliedEvent struct {
	index  Index
	result []byte
	err    error
	isConf bool
	cfg    Configuration
}
