// Package raftstore implements raft.Storage on top of BoltDB: a durable,
// single-file key-structured store of term, vote, log entries, and the
// latest snapshot (§4.1).
package raftstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/raftsim/pkg/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta     = []byte("meta")
	bucketLog      = []byte("log")
	bucketSnapshot = []byte("snapshot")

	keyCurrentTerm = []byte("current_term")
	keyVotedFor    = []byte("voted_for")
	keySnapshot    = []byte("snapshot")
)

// BoltStore implements raft.Storage using BoltDB, grounded on the
// teacher's own per-bucket, JSON-encoded BoltDB usage.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir
// named after nodeID, so multiple simulated nodes in the same process can
// share a data directory without clobbering each other.
func NewBoltStore(dataDir, nodeID string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, fmt.Sprintf("raft-%s.db", nodeID))
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("raftstore: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketLog, bucketSnapshot} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) SaveTermAndVote(term raft.Term, votedFor raft.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		var termBytes [8]byte
		binary.BigEndian.PutUint64(termBytes[:], uint64(term))
		if err := b.Put(keyCurrentTerm, termBytes[:]); err != nil {
			return err
		}
		return b.Put(keyVotedFor, []byte(votedFor))
	})
}

func (s *BoltStore) LoadTermAndVote() (raft.Term, raft.NodeID, error) {
	var term raft.Term
	var votedFor raft.NodeID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if data := b.Get(keyCurrentTerm); data != nil {
			term = raft.Term(binary.BigEndian.Uint64(data))
		}
		if data := b.Get(keyVotedFor); data != nil {
			votedFor = raft.NodeID(data)
		}
		return nil
	})
	return term, votedFor, err
}

func logKey(idx raft.Index) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(idx))
	return k[:]
}

func (s *BoltStore) AppendLogEntries(entries []raft.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		last := lastKeyIndex(b)
		for _, e := range entries {
			if e.Index != last+1 {
				return fmt.Errorf("raftstore: append at index %d, expected %d", e.Index, last+1)
			}
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(logKey(e.Index), data); err != nil {
				return err
			}
			last = e.Index
		}
		return nil
	})
}

func lastKeyIndex(b *bolt.Bucket) raft.Index {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0
	}
	return raft.Index(binary.BigEndian.Uint64(k))
}

func (s *BoltStore) TruncateLogFrom(from raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		c := b.Cursor()
		for k, _ := c.Seek(logKey(from)); k != nil; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetLogEntry(index raft.Index) (raft.LogEntry, bool, error) {
	var entry raft.LogEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		data := b.Get(logKey(index))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	return entry, found, err
}

func (s *BoltStore) LastLogIndex() (raft.Index, error) {
	var idx raft.Index
	err := s.db.View(func(tx *bolt.Tx) error {
		idx = lastKeyIndex(tx.Bucket(bucketLog))
		return nil
	})
	return idx, err
}

func (s *BoltStore) LastLogTerm() (raft.Term, error) {
	idx, err := s.LastLogIndex()
	if err != nil || idx == 0 {
		return 0, err
	}
	entry, ok, err := s.GetLogEntry(idx)
	if err != nil || !ok {
		return 0, err
	}
	return entry.Term, nil
}

func (s *BoltStore) DeleteLogEntriesBefore(before raft.Index) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if raft.Index(binary.BigEndian.Uint64(k)) >= before {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SaveSnapshot(snap raft.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshot)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put(keySnapshot, data)
	})
}

func (s *BoltStore) LoadSnapshot() (raft.Snapshot, bool, error) {
	var snap raft.Snapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshot).Get(keySnapshot)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	return snap, found, err
}

var _ raft.Storage = (*BoltStore)(nil)
