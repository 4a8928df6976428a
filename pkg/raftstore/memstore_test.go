package raftstore

import (
	"testing"

	"github.com/cuemby/raftsim/pkg/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreAppendAndRead(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.AppendLogEntries([]raft.LogEntry{
		{Index: 1, Term: 1, Kind: raft.EntryNormal, Command: []byte("a")},
		{Index: 2, Term: 1, Kind: raft.EntryNormal, Command: []byte("b")},
	}))

	last, err := s.LastLogIndex()
	require.NoError(t, err)
	assert.Equal(t, raft.Index(2), last)

	entry, ok, err := s.GetLogEntry(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), entry.Command)

	assert.Error(t, s.AppendLogEntries([]raft.LogEntry{{Index: 4, Term: 1}}))
}

func TestMemStoreTruncateFrom(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.AppendLogEntries([]raft.LogEntry{
		{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 2},
	}))
	require.NoError(t, s.TruncateLogFrom(2))
	last, _ := s.LastLogIndex()
	assert.Equal(t, raft.Index(1), last)
}

func TestMemStoreSnapshotRoundTrip(t *testing.T) {
	s := NewMemStore()
	snap := raft.Snapshot{LastIncludedIndex: 5, LastIncludedTerm: 2, State: []byte("state")}
	require.NoError(t, s.SaveSnapshot(snap))

	got, ok, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestMemStoreTermAndVotePersist(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.SaveTermAndVote(3, "n2"))
	term, votedFor, err := s.LoadTermAndVote()
	require.NoError(t, err)
	assert.Equal(t, raft.Term(3), term)
	assert.Equal(t, raft.NodeID("n2"), votedFor)
}
