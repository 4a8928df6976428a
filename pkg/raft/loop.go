package raft

import (
	"time"
)

// run is the single actor goroutine owning all of a Node's term/role/log
// bookkeeping. Every other goroutine touches that state only indirectly,
// by posting a nodeEvent and waiting for its reply.
func (n *Node) run(st *runState) {
	defer n.wg.Done()

	st.electionTimer = time.NewTimer(randomElectionTimeout(n.cfg))
	defer st.electionTimer.Stop()

	for {
		var hbC <-chan time.Time
		if st.heartbeatTicker != nil {
			hbC = st.heartbeatTicker.C
		}

		select {
		case <-n.stopCh:
			n.stopReplicators(st)
			n.failAllPending(st, ErrShutdownSentinel)
			return

		case ev := <-n.events:
			if n.handleEvent(st, ev) {
				n.stopReplicators(st)
				n.failAllPending(st, ErrShutdownSentinel)
				return
			}

		case <-st.electionTimer.C:
			n.onElectionTimeout(st)

		case <-hbC:
			n.sendHeartbeats(st)
		}
	}
}

func (n *Node) handleEvent(st *runState, ev nodeEvent) (fatalStop bool) {
	switch e := ev.(type) {
	case requestVoteEvent:
		e.reply <- n.handleRequestVote(st, e.args)
	case appendEntriesEvent:
		e.reply <- n.handleAppendEntries(st, e.args)
	case installSnapshotEvent:
		e.reply <- n.handleInstallSnapshot(st, e.args)
	case requestVoteResultEvent:
		n.handleRequestVoteResult(st, e)
	case appendEntriesResultEvent:
		return n.handleAppendEntriesResult(st, e)
	case installSnapshotResultEvent:
		return n.handleInstallSnapshotResult(st, e)
	case replicateWorkEvent:
		e.reply <- n.buildReplicateInstruction(st, e.peer)
	case submitCommandEvent:
		n.handleSubmitCommand(st, e)
	case addNodeEvent:
		n.handleAddNode(st, e)
	case removeNodeEvent:
		n.handleRemoveNode(st, e)
	case appliedEvent:
		n.handleApplied(st, e)
	case snapshotTakenEvent:
		n.handleSnapshotTaken(st, e)
	default:
		n.log("warn", "unknown event type dropped")
	}
	return false
}

// resetElectionTimer safely reschedules the single-consumer election
// timer. Only run() ever reads st.electionTimer.C, so the drain-before-
// reset dance recommended by the time package is sufficient; no
// generation counter is needed.
func (n *Node) resetElectionTimer(st *runState) {
	if !st.electionTimer.Stop() {
		select {
		case <-st.electionTimer.C:
		default:
		}
	}
	st.electionTimer.Reset(randomElectionTimeout(n.cfg))
}

// stepDownIfNewer steps down to follower and adopts term if term is newer
// than st.currentTerm. Returns true if it did so. This is the single
// choke point for "a node observes a term beyond its own" (§4.2).
func (n *Node) stepDownIfNewer(st *runState, term Term) bool {
	if term <= st.currentTerm {
		return false
	}
	wasLeader := st.role == RoleLeader
	st.currentTerm = term
	st.votedFor = ""
	st.role = RoleFollower
	st.leaderHint = ""
	n.persistTermVote(st)
	if wasLeader {
		n.stopReplicators(st)
		n.failAllPending(st, ErrSteppedDownSentinel)
	}
	n.resetElectionTimer(st)
	n.publishStatus(st)
	n.notifier.RoleChanged(n.id, RoleFollower, st.currentTerm)
	return true
}

// persistTermVote durably saves term/vote. A failure here is fatal: the
// node cannot safely continue having already changed its in-memory vote
// without being able to remember it on restart.
func (n *Node) persistTermVote(st *runState) bool {
	if err := n.storage.SaveTermAndVote(st.currentTerm, st.votedFor); err != nil {
		n.log("error", "persist term/vote failed, aborting node", "err", err)
		n.initiateShutdown()
		return true
	}
	return false
}

func (n *Node) publishStatus(st *runState) {
	n.setStatus(func(s *Status) {
		s.Role = st.role
		s.Term = st.currentTerm
		s.LeaderHint = st.leaderHint
		s.CommitIndex = st.commitIndex
		s.LastApplied = Index(n.lastApplied.Load())
	})
}

func (n *Node) failAllPending(st *runState, err error) {
	for idx, r := range st.pendingClients {
		r.Fail(err)
		delete(st.pendingClients, idx)
	}
	if st.configResolver != nil {
		st.configResolver.Fail(err)
		st.configResolver = nil
	}
	st.configInFlight = false
	st.configJointIndex = 0
	st.configFinalIndex = 0
	st.configRemoving = ""
}

// advanceCommitIndex recomputes st.commitIndex from matchIndex under the
// commitment restriction (§4.3): a leader may only commit by counting
// replicas once it has replicated at least one entry from its own current
// term; entries from prior terms are carried along but never committed on
// replication count alone.
func (n *Node) advanceCommitIndex(st *runState) {
	if st.role != RoleLeader {
		return
	}
	last, err := n.storage.LastLogIndex()
	if err != nil {
		return
	}
	for idx := last; idx > st.commitIndex; idx-- {
		entry, ok, err := n.storage.GetLogEntry(idx)
		if err != nil || !ok {
			continue
		}
		if entry.Term != st.currentTerm {
			// Older-term entries can only be committed as a side effect
			// of committing a later current-term entry; stop here and
			// continue if a later index already qualifies.
			continue
		}
		votes := map[NodeID]bool{n.id: true}
		for peer, mi := range st.matchIndex {
			if mi >= Index(idx) {
				votes[peer] = true
			}
		}
		if hasQuorum(st.currentConfig, votes) {
			n.commitAt(st, Index(idx))
			return
		}
	}
}

func (n *Node) commitAt(st *runState, idx Index) {
	if idx <= st.commitIndex {
		return
	}
	st.commitIndex = idx
	n.commitIndex.Store(uint64(idx))
	n.signalApply()
	n.publishStatus(st)
}

func (n *Node) signalApply() {
	select {
	case n.applySignal <- struct{}{}:
	default:
	}
}
