package raft

import "context"

// onElectionTimeout fires when a follower or candidate has heard nothing
// from a leader for a full randomized timeout (§4.2): it starts a new
// election.
func (n *Node) onElectionTimeout(st *runState) {
	if st.role == RoleLeader {
		// Leaders never arm the election timer themselves in this
		// implementation's steady state, but a defensive ignore keeps a
		// stray fire harmless.
		return
	}
	if !st.currentConfig.Contains(n.id) {
		// A node removed from its own configuration stops contesting
		// elections but keeps serving reads of its last known state.
		n.resetElectionTimer(st)
		return
	}

	st.role = RoleCandidate
	st.currentTerm++
	st.votedFor = n.id
	st.leaderHint = ""
	st.votesReceived = map[NodeID]bool{n.id: true}
	if n.persistTermVote(st) {
		return
	}
	n.resetElectionTimer(st)
	n.publishStatus(st)
	n.notifier.RoleChanged(n.id, RoleCandidate, st.currentTerm)
	n.metrics.SetMetricName("raft.election.started")
	n.metrics.AddCount(1)
	n.metrics.Emit()

	lastIndex, _ := n.storage.LastLogIndex()
	lastTerm, _ := n.storage.LastLogTerm()
	args := RequestVoteArgs{
		Term:         st.currentTerm,
		CandidateID:  n.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	for _, peer := range allVoters(st.currentConfig) {
		if peer == n.id {
			continue
		}
		peer, term := peer, st.currentTerm
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ElectionTimeoutMin)
			defer cancel()
			reply, err := n.transport.SendRequestVote(ctx, peer, args)
			select {
			case n.events <- requestVoteResultEvent{peer: peer, sentTerm: term, reply: reply, err: err}:
			case <-n.stopCh:
			}
		}()
	}
}

// allVoters returns the deduplicated member set that may cast votes: the
// union of both halves of a joint configuration.
func allVoters(cfg Configuration) []NodeID {
	seen := make(map[NodeID]struct{}, len(cfg.Members)+len(cfg.Old))
	out := make([]NodeID, 0, len(cfg.Members)+len(cfg.Old))
	for _, id := range cfg.Members {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range cfg.Old {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// handleRequestVote answers an inbound vote request (§4.2's granting
// rules): reject stale terms, step down on newer ones, and grant at most
// one vote per term to a candidate whose log is at least as up to date.
func (n *Node) handleRequestVote(st *runState, args RequestVoteArgs) RequestVoteReply {
	if args.Term < st.currentTerm {
		return RequestVoteReply{Term: st.currentTerm, VoteGranted: false}
	}
	if args.Term > st.currentTerm {
		n.stepDownIfNewer(st, args.Term)
	}

	lastIndex, _ := n.storage.LastLogIndex()
	lastTerm, _ := n.storage.LastLogTerm()
	logOK := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	canVote := st.votedFor == "" || st.votedFor == args.CandidateID
	if canVote && logOK {
		st.votedFor = args.CandidateID
		if n.persistTermVote(st) {
			return RequestVoteReply{Term: st.currentTerm, VoteGranted: false}
		}
		n.resetElectionTimer(st)
		return RequestVoteReply{Term: st.currentTerm, VoteGranted: true}
	}
	return RequestVoteReply{Term: st.currentTerm, VoteGranted: false}
}

func (n *Node) handleRequestVoteResult(st *runState, e requestVoteResultEvent) {
	if e.err != nil {
		return
	}
	if n.stepDownIfNewer(st, e.reply.Term) {
		return
	}
	if st.role != RoleCandidate || e.sentTerm != st.currentTerm {
		return
	}
	if !e.reply.VoteGranted {
		return
	}
	st.votesReceived[e.peer] = true
	if hasQuorum(st.currentConfig, st.votesReceived) {
		n.becomeLeader(st)
	}
}
