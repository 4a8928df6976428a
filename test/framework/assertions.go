package framework

import (
	"reflect"

	"github.com/cuemby/raftsim/pkg/raft"
)

// Assertions provides raft-cluster-specific test assertion helpers.
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// ExactlyOneLeader asserts that exactly one node in cluster currently
// believes itself leader, and returns it (§8 S2).
func (a *Assertions) ExactlyOneLeader(cluster *Cluster) *raft.Node {
	a.t.Helper()

	var leaders []*raft.Node
	for _, node := range cluster.Nodes() {
		if node.IsLeader() {
			leaders = append(leaders, node)
		}
	}
	if len(leaders) != 1 {
		a.t.Fatalf("expected exactly one leader, found %d", len(leaders))
		return nil
	}
	return leaders[0]
}

// LogEntriesMatch asserts that every node in cluster has the same Term
// and Command at index idx, ignoring any node whose log is not yet
// that long (§8 S3, S4, S6: "applied sequence matches on every node").
func (a *Assertions) LogEntriesMatch(cluster *Cluster, idx raft.Index) {
	a.t.Helper()

	var want *raft.LogEntry
	for _, node := range cluster.Nodes() {
		store := cluster.Store(node.ID())
		if store == nil {
			continue
		}
		entry, ok, err := store.GetLogEntry(idx)
		if err != nil {
			a.t.Fatalf("node %s: read log entry %d: %v", node.ID(), idx, err)
			return
		}
		if !ok {
			continue
		}
		if want == nil {
			want = &entry
			continue
		}
		if entry.Term != want.Term || !reflect.DeepEqual(entry.Command, want.Command) {
			a.t.Fatalf("log entry %d diverges: node %s has term=%d command=%q, expected term=%d command=%q",
				idx, node.ID(), entry.Term, entry.Command, want.Term, want.Command)
		}
	}
}

// CommitIndexAtLeast asserts node's commit index has reached at least idx.
func (a *Assertions) CommitIndexAtLeast(node *raft.Node, idx raft.Index) {
	a.t.Helper()

	status := node.GetStatus()
	if status.CommitIndex < idx {
		a.t.Fatalf("node %s commit index is %d, expected at least %d", node.ID(), status.CommitIndex, idx)
	}
}

// TermAtLeast asserts node's current term has reached at least term.
func (a *Assertions) TermAtLeast(node *raft.Node, term raft.Term) {
	a.t.Helper()

	got := node.GetCurrentTerm()
	if got < term {
		a.t.Fatalf("node %s term is %d, expected at least %d", node.ID(), got, term)
	}
}

// NoError fails the test immediately if err is non-nil.
func (a *Assertions) NoError(err error, context string) {
	a.t.Helper()
	if err != nil {
		a.t.Fatalf("%s: %v", context, err)
	}
}
