package raft

import (
	"context"

	"github.com/cuemby/raftsim/pkg/futures"
)

// SubmitCommand replicates command through the cluster and returns the
// state machine's result once a majority has durably stored it and the
// local apply loop has driven it through Apply (§ client surface). It
// returns ErrNotLeader with a leader hint if this node does not believe
// itself to be leader.
func (n *Node) SubmitCommand(ctx context.Context, command []byte) ([]byte, error) {
	if !n.IsLeader() {
		return nil, notLeaderErr(n.CurrentLeaderHint())
	}
	f, resolver := futures.New[[]byte]()
	if err := n.post(ctx, submitCommandEvent{command: command, resolver: resolver}); err != nil {
		return nil, err
	}
	return f.Get(ctx)
}

// AddNode admits a new member via joint consensus (§4.3): it appends
// C_old,new and, once that commits, automatically appends C_new. The
// returned error resolves only once C_new has committed.
func (n *Node) AddNode(ctx context.Context, id NodeID) error {
	if !n.membership.ValidateNewNode(id) {
		return newErr(ErrProtocol, "node rejected by membership policy")
	}
	f, resolver := futures.New[struct{}]()
	if err := n.post(ctx, addNodeEvent{id: id, resolver: resolver}); err != nil {
		return err
	}
	_, err := f.Get(ctx)
	return err
}

// RemoveNode retires a member via the same joint-consensus path as
// AddNode.
func (n *Node) RemoveNode(ctx context.Context, id NodeID) error {
	f, resolver := futures.New[struct{}]()
	if err := n.post(ctx, removeNodeEvent{id: id, resolver: resolver}); err != nil {
		return err
	}
	_, err := f.Get(ctx)
	return err
}

func (n *Node) handleSubmitCommand(st *runState, e submitCommandEvent) {
	if st.role != RoleLeader {
		e.resolver.Fail(notLeaderErr(st.leaderHint))
		return
	}
	idx, err := n.appendEntryLocked(st, EntryNormal, e.command)
	if err != nil {
		e.resolver.Fail(wrapErr(ErrStorage, "append command failed", err))
		return
	}
	st.pendingClients[idx] = e.resolver
}

func (n *Node) handleAddNode(st *runState, e addNodeEvent) {
	if !n.beginConfigChange(st, e.resolver) {
		return
	}
	newMembers := append(append([]NodeID(nil), st.currentConfig.Members...), e.id)
	n.startConfigChange(st, newMembers, "")
}

func (n *Node) handleRemoveNode(st *runState, e removeNodeEvent) {
	if !n.beginConfigChange(st, e.resolver) {
		return
	}
	newMembers := make([]NodeID, 0, len(st.currentConfig.Members))
	for _, m := range st.currentConfig.Members {
		if m != e.id {
			newMembers = append(newMembers, m)
		}
	}
	n.startConfigChange(st, newMembers, e.id)
}

func (n *Node) beginConfigChange(st *runState, resolver *futures.Resolver[struct{}]) bool {
	if st.role != RoleLeader {
		resolver.Fail(notLeaderErr(st.leaderHint))
		return false
	}
	if st.configInFlight || st.currentConfig.IsJoint() {
		resolver.Fail(ErrConfigurationInFlightSentinel)
		return false
	}
	st.configResolver = resolver
	return true
}

func (n *Node) startConfigChange(st *runState, newMembers []NodeID, removing NodeID) {
	jointCfg := n.membership.CreateJointConfiguration(st.currentConfig.Members, newMembers)
	data, err := n.serializer.Marshal(jointCfg)
	if err != nil {
		return
	}
	idx, err := n.appendEntryLocked(st, EntryConfiguration, data)
	if err != nil {
		return
	}
	st.configInFlight = true
	st.configJointIndex = idx
	st.configFinalIndex = 0
	st.configRemoving = removing
}

// handleApplied reacts to applyLoop's notification that the entry at
// e.index has been driven through the state machine: it resolves the
// matching pending client future and, for configuration entries, advances
// the two-phase joint-consensus membership change.
func (n *Node) handleApplied(st *runState, e appliedEvent) {
	if r, ok := st.pendingClients[e.index]; ok {
		if e.err != nil {
			r.Fail(wrapErr(ErrProtocol, "state machine apply failed", e.err))
		} else {
			r.Resolve(e.result)
		}
		delete(st.pendingClients, e.index)
	}
	n.publishStatus(st)

	if !e.isConf {
		return
	}

	switch {
	case st.configInFlight && e.index == st.configJointIndex:
		if st.role != RoleLeader {
			return
		}
		finalCfg := Configuration{Members: append([]NodeID(nil), e.cfg.Members...)}
		data, err := n.serializer.Marshal(finalCfg)
		if err != nil {
			if st.configResolver != nil {
				st.configResolver.Fail(wrapErr(ErrProtocol, "encode final configuration failed", err))
				st.configResolver = nil
			}
			st.configInFlight = false
			return
		}
		idx, err := n.appendEntryLocked(st, EntryConfiguration, data)
		if err != nil {
			if st.configResolver != nil {
				st.configResolver.Fail(wrapErr(ErrStorage, "append final configuration failed", err))
				st.configResolver = nil
			}
			st.configInFlight = false
			return
		}
		st.configFinalIndex = idx

	case st.configInFlight && e.index == st.configFinalIndex:
		if st.configRemoving != "" {
			n.membership.HandleNodeRemoval(st.configRemoving)
		}
		n.notifier.ConfigurationChanged(n.id, e.cfg)
		if st.configResolver != nil {
			st.configResolver.Resolve(struct{}{})
			st.configResolver = nil
		}
		st.configInFlight = false
		st.configJointIndex = 0
		st.configFinalIndex = 0
		st.configRemoving = ""
	}
}
