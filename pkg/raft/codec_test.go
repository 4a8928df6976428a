package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, s Serializer) {
	t.Helper()

	rv := RequestVoteArgs{Term: 4, CandidateID: "n2", LastLogIndex: 17, LastLogTerm: 3}
	data, err := s.Marshal(rv)
	require.NoError(t, err)
	var rv2 RequestVoteArgs
	require.NoError(t, s.Unmarshal(data, &rv2))
	assert.Equal(t, rv, rv2)

	ae := AppendEntriesArgs{
		Term:         5,
		LeaderID:     "n1",
		PrevLogIndex: 10,
		PrevLogTerm:  4,
		LeaderCommit: 9,
		Entries: []LogEntry{
			{Index: 11, Term: 5, Kind: EntryNormal, Command: []byte("cmd-a")},
			{Index: 12, Term: 5, Kind: EntryConfiguration, Command: []byte("cfg")},
		},
	}
	data, err = s.Marshal(ae)
	require.NoError(t, err)
	var ae2 AppendEntriesArgs
	require.NoError(t, s.Unmarshal(data, &ae2))
	assert.Equal(t, ae, ae2)

	is := InstallSnapshotArgs{
		Term: 5, LeaderID: "n1", LastIncludedIndex: 100, LastIncludedTerm: 4,
		Offset: 4096, Data: []byte{1, 2, 3, 4}, Done: true,
	}
	data, err = s.Marshal(is)
	require.NoError(t, err)
	var is2 InstallSnapshotArgs
	require.NoError(t, s.Unmarshal(data, &is2))
	assert.Equal(t, is, is2)
}

// TestJSONSerializerRoundTrips exercises RT1: serialize then deserialize
// is the identity, for each RPC record.
func TestJSONSerializerRoundTrips(t *testing.T) {
	roundTrip(t, JSONSerializer{})
}

func TestGobSerializerRoundTrips(t *testing.T) {
	roundTrip(t, GobSerializer{})
}
