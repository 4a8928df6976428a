package raft

import (
	"fmt"
	"time"
)

// Config holds the tunables of spec.md §6.
type Config struct {
	ElectionTimeoutMin  time.Duration
	ElectionTimeoutMax  time.Duration
	HeartbeatInterval   time.Duration
	MaxEntriesPerAppend int
	SnapshotThreshold   int
	SnapshotChunkSize   int
}

// DefaultConfig returns sane values for tests and small clusters.
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin:  150 * time.Millisecond,
		ElectionTimeoutMax:  300 * time.Millisecond,
		HeartbeatInterval:   50 * time.Millisecond,
		MaxEntriesPerAppend: 64,
		SnapshotThreshold:   1000,
		SnapshotChunkSize:   32 * 1024,
	}
}

// Validate panics on a programmer error in static configuration, mirroring
// the teacher's use of log.Fatal for unrecoverable startup misconfiguration
// rather than propagating a runtime error for something only a bad deploy
// config can cause.
func (c Config) Validate() {
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		panic(fmt.Sprintf("raft: election_timeout_max (%s) must exceed election_timeout_min (%s)", c.ElectionTimeoutMax, c.ElectionTimeoutMin))
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		panic(fmt.Sprintf("raft: heartbeat_interval (%s) must be below election_timeout_min (%s)", c.HeartbeatInterval, c.ElectionTimeoutMin))
	}
	if c.MaxEntriesPerAppend <= 0 {
		panic("raft: max_entries_per_append must be positive")
	}
	if c.SnapshotThreshold <= 0 {
		panic("raft: snapshot_threshold_entries must be positive")
	}
	if c.SnapshotChunkSize <= 0 {
		panic("raft: snapshot_chunk_size must be positive")
	}
}
