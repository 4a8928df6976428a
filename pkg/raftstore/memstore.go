package raftstore

import (
	"fmt"
	"sync"

	"github.com/cuemby/raftsim/pkg/raft"
)

// MemStore is an in-memory raft.Storage, used by the simulator-driven
// test harness where a process-local BoltDB file would only add
// unnecessary I/O to a deterministic run.
type MemStore struct {
	mu        sync.Mutex
	term      raft.Term
	votedFor  raft.NodeID
	log       []raft.LogEntry // log[i] holds the entry at Index baseIndex+1+i
	baseIndex raft.Index      // index of the last entry compacted away before log[0]; 0 means log[0] is index 1
	snapshot  raft.Snapshot
	hasSnap   bool
}

func NewMemStore() *MemStore {
	return &MemStore{baseIndex: 0}
}

func (s *MemStore) SaveTermAndVote(term raft.Term, votedFor raft.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	s.votedFor = votedFor
	return nil
}

func (s *MemStore) LoadTermAndVote() (raft.Term, raft.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, nil
}

func (s *MemStore) lastIndexLocked() raft.Index {
	if len(s.log) == 0 {
		return s.baseIndex
	}
	return s.log[len(s.log)-1].Index
}

func (s *MemStore) AppendLogEntries(entries []raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.Index != s.lastIndexLocked()+1 {
			return fmt.Errorf("raftstore: append at index %d, expected %d", e.Index, s.lastIndexLocked()+1)
		}
		s.log = append(s.log, e)
	}
	return nil
}

func (s *MemStore) TruncateLogFrom(from raft.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cut := len(s.log)
	for i, e := range s.log {
		if e.Index >= from {
			cut = i
			break
		}
	}
	s.log = s.log[:cut]
	return nil
}

func (s *MemStore) GetLogEntry(index raft.Index) (raft.LogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.log {
		if e.Index == index {
			return e, true, nil
		}
	}
	return raft.LogEntry{}, false, nil
}

func (s *MemStore) LastLogIndex() (raft.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndexLocked(), nil
}

func (s *MemStore) LastLogTerm() (raft.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.log) == 0 {
		return 0, nil
	}
	return s.log[len(s.log)-1].Term, nil
}

func (s *MemStore) DeleteLogEntriesBefore(before raft.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cut := 0
	for i, e := range s.log {
		if e.Index >= before {
			cut = i
			break
		}
		cut = i + 1
	}
	s.log = s.log[cut:]
	if before > s.baseIndex {
		s.baseIndex = before - 1
	}
	return nil
}

func (s *MemStore) SaveSnapshot(snap raft.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.hasSnap = true
	return nil
}

func (s *MemStore) LoadSnapshot() (raft.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.hasSnap, nil
}

var _ raft.Storage = (*MemStore)(nil)
