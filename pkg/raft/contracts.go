package raft

import "context"

// Storage is the durable store of term, vote, log entries and latest
// snapshot (§4.1). Implementations must make writes durable before
// returning; the node treats a failing write it has already promised to
// remember as fatal to the affected operation.
type Storage interface {
	// SaveTermAndVote atomically persists the current term and, if
	// non-empty, the vote cast in that term.
	SaveTermAndVote(term Term, votedFor NodeID) error
	LoadTermAndVote() (term Term, votedFor NodeID, err error)

	// AppendLogEntries appends at the current tail. It fails if any
	// entry's index is not last_index+1.
	AppendLogEntries(entries []LogEntry) error
	// TruncateLogFrom removes entries at index >= from. Callers never
	// invoke this at or below the commit index.
	TruncateLogFrom(from Index) error
	GetLogEntry(index Index) (LogEntry, bool, error)
	LastLogIndex() (Index, error)
	LastLogTerm() (Term, error)
	// DeleteLogEntriesBefore removes entries at index < before, used for
	// compaction after a snapshot is saved.
	DeleteLogEntriesBefore(before Index) error

	SaveSnapshot(snap Snapshot) error
	LoadSnapshot() (Snapshot, bool, error)
}

// StateMachine is the deterministic, pluggable apply target (§6).
// Apply must be a pure function of its argument history and idempotent
// with respect to index: calling it twice with the same index must
// produce the same result and must not double-apply side effects.
type StateMachine interface {
	Apply(command []byte, index Index) (result []byte, err error)
	Snapshot() ([]byte, error)
	Restore(state []byte, lastIncludedIndex Index) error
}

// Membership gates admission and removal of nodes and builds joint
// configurations (§6, §4.3).
type Membership interface {
	ValidateNewNode(id NodeID) bool
	AuthenticateNode(id NodeID) bool
	CreateJointConfiguration(old, new []NodeID) Configuration
	IsNodeInConfiguration(id NodeID, cfg Configuration) bool
	HandleNodeRemoval(id NodeID)
}

// RequestVoteArgs/Reply, AppendEntriesArgs/Reply and
// InstallSnapshotArgs/Reply are the three RPC record pairs of §4.3.
type RequestVoteArgs struct {
	Term         Term
	CandidateID  NodeID
	LastLogIndex Index
	LastLogTerm  Term
}

type RequestVoteReply struct {
	Term        Term
	VoteGranted bool
}

type AppendEntriesArgs struct {
	Term         Term
	LeaderID     NodeID
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit Index
}

type ConflictHint struct {
	ConflictTerm         Term
	FirstIndexOfConflict Index
}

type AppendEntriesReply struct {
	Term    Term
	Success bool
	Hint    *ConflictHint
}

type InstallSnapshotArgs struct {
	Term              Term
	LeaderID          NodeID
	LastIncludedIndex Index
	LastIncludedTerm  Term
	Offset            int
	Data              []byte
	Done              bool
}

type InstallSnapshotReply struct {
	Term Term
}

// Transport sends the three RPCs to a named peer with a per-call timeout
// (§6). Implementations live outside this package (pkg/rafttransport/*).
type Transport interface {
	SendRequestVote(ctx context.Context, target NodeID, args RequestVoteArgs) (RequestVoteReply, error)
	SendAppendEntries(ctx context.Context, target NodeID, args AppendEntriesArgs) (AppendEntriesReply, error)
	SendInstallSnapshot(ctx context.Context, target NodeID, args InstallSnapshotArgs) (InstallSnapshotReply, error)

	// Register/Deregister let a transport dispatch inbound RPCs back to a
	// specific node by ID without the transport holding a hard reference
	// to the node itself (§9's handle-based registry pattern); the node
	// drops its handle on Stop.
	Register(id NodeID, handler RPCHandler)
	Deregister(id NodeID)
}

// RPCHandler is implemented by Node and invoked by a Transport when an
// inbound RPC for that node's ID arrives.
type RPCHandler interface {
	HandleRequestVote(ctx context.Context, args RequestVoteArgs) (RequestVoteReply, error)
	HandleAppendEntries(ctx context.Context, args AppendEntriesArgs) (AppendEntriesReply, error)
	HandleInstallSnapshot(ctx context.Context, args InstallSnapshotArgs) (InstallSnapshotReply, error)
}

// Logger and Metrics are the ambient no-op-valid collaborators of §6.
// pkg/log and pkg/metrics supply real implementations; raft itself only
// depends on these narrow interfaces.
type Logger interface {
	Log(level string, message string, kv ...interface{})
}

type Metrics interface {
	SetMetricName(name string)
	AddDimension(key, value string)
	AddCount(n int64)
	AddDuration(d int64)
	AddValue(v float64)
	Emit()
}

// NopLogger and NopMetrics are valid no-op implementations.
type NopLogger struct{}

func (NopLogger) Log(string, string, ...interface{}) {}

type NopMetrics struct{}

func (NopMetrics) SetMetricName(string)    {}
func (NopMetrics) AddDimension(string, string) {}
func (NopMetrics) AddCount(int64)          {}
func (NopMetrics) AddDuration(int64)       {}
func (NopMetrics) AddValue(float64)        {}
func (NopMetrics) Emit()                   {}
