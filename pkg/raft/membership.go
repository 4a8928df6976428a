package raft

import "sync"

// DefaultMembership is the built-in Membership implementation: it admits
// any node an operator asks it to admit (unless it was removed earlier)
// and leaves authentication to the authFn given to NewDefaultMembership.
// No package in this module passes a non-nil authFn or calls
// AuthenticateNode.
type DefaultMembership struct {
	mu       sync.Mutex
	authFn   func(NodeID) bool
	removed  map[NodeID]struct{}
}

// NewDefaultMembership builds a DefaultMembership. authFn is consulted by
// AuthenticateNode; a nil authFn authenticates everyone (suitable for
// pkg/sim-backed tests where the simulated topology is the trust
// boundary).
func NewDefaultMembership(authFn func(NodeID) bool) *DefaultMembership {
	return &DefaultMembership{authFn: authFn, removed: make(map[NodeID]struct{})}
}

func (m *DefaultMembership) ValidateNewNode(id NodeID) bool {
	if id == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, wasRemoved := m.removed[id]
	return !wasRemoved
}

func (m *DefaultMembership) AuthenticateNode(id NodeID) bool {
	if m.authFn == nil {
		return true
	}
	return m.authFn(id)
}

// CreateJointConfiguration builds C_old,new from the currently active
// member set (old) and the member set after the pending change (new).
func (m *DefaultMembership) CreateJointConfiguration(old, new []NodeID) Configuration {
	return Configuration{
		Members: append([]NodeID(nil), new...),
		Old:     append([]NodeID(nil), old...),
	}
}

func (m *DefaultMembership) IsNodeInConfiguration(id NodeID, cfg Configuration) bool {
	return cfg.Contains(id)
}

func (m *DefaultMembership) HandleNodeRemoval(id NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed[id] = struct{}{}
}

// majority reports whether votes, a set of nodes that granted something
// (a vote, or match_index >= N), forms a majority of members.
func majority(members []NodeID, votes map[NodeID]bool) bool {
	if len(members) == 0 {
		return false
	}
	count := 0
	for _, m := range members {
		if votes[m] {
			count++
		}
	}
	return count*2 > len(members)
}

// hasQuorum reports whether votes satisfies cfg's quorum requirement: a
// single majority normally, or both the old and new sub-configuration
// majorities during joint consensus (§4.3 "two majorities").
func hasQuorum(cfg Configuration, votes map[NodeID]bool) bool {
	if !majority(cfg.Members, votes) {
		return false
	}
	if cfg.IsJoint() && !majority(cfg.Old, votes) {
		return false
	}
	return true
}
