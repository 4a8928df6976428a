// Package examples provides small raft.StateMachine implementations used
// by tests and the raftd binary's demo mode.
package examples

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cuemby/raftsim/pkg/raft"
)

// ErrMalformedCommand is returned by Apply when the command payload
// doesn't match the "+" + 8-byte-delta form.
var ErrMalformedCommand = errors.New("examples: malformed counter command")

// CounterMachine applies two command forms: "+" followed by an 8-byte
// big-endian delta adds to the running total; any other payload is
// rejected. Snapshot/Restore round-trip the total as 8 bytes. Apply is
// idempotent per index: a command at an index at or below the last one
// applied (or restored) leaves the total unchanged.
type CounterMachine struct {
	mu        sync.Mutex
	total     int64
	lastIndex raft.Index
}

func NewCounterMachine() *CounterMachine { return &CounterMachine{} }

func (c *CounterMachine) Apply(command []byte, index raft.Index) ([]byte, error) {
	if len(command) != 9 || command[0] != '+' {
		return nil, ErrMalformedCommand
	}
	delta := int64(binary.BigEndian.Uint64(command[1:]))

	c.mu.Lock()
	if index > c.lastIndex {
		c.total += delta
		c.lastIndex = index
	}
	total := c.total
	c.mu.Unlock()

	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(total))
	return out, nil
}

func (c *CounterMachine) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(c.total))
	return out, nil
}

func (c *CounterMachine) Restore(state []byte, lastIncludedIndex raft.Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastIndex = lastIncludedIndex
	if len(state) != 8 {
		c.total = 0
		return nil
	}
	c.total = int64(binary.BigEndian.Uint64(state))
	return nil
}

// Total returns the current accumulated value.
func (c *CounterMachine) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// EncodeAdd builds the command payload for adding delta to the counter.
func EncodeAdd(delta int64) []byte {
	out := make([]byte, 9)
	out[0] = '+'
	binary.BigEndian.PutUint64(out[1:], uint64(delta))
	return out
}

var _ raft.StateMachine = (*CounterMachine)(nil)
