package raft

import (
	"context"
	"time"
)

// replicatorHandle tracks the per-peer goroutine a leader runs to keep
// that peer's log caught up.
type replicatorHandle struct {
	cancel context.CancelFunc
	wake   chan struct{}
}

// becomeLeader transitions a candidate that has won an election into the
// leader role: it seeds per-peer progress tracking, appends a no-op entry
// for the new term (so the commitment restriction can be satisfied
// quickly), and starts replication.
func (n *Node) becomeLeader(st *runState) {
	st.role = RoleLeader
	st.leaderHint = n.id
	st.votesReceived = nil

	lastIndex, _ := n.storage.LastLogIndex()
	st.nextIndex = make(map[NodeID]Index)
	st.matchIndex = make(map[NodeID]Index)
	for _, peer := range allVoters(st.currentConfig) {
		if peer == n.id {
			continue
		}
		st.nextIndex[peer] = lastIndex + 1
		st.matchIndex[peer] = 0
	}

	if !st.electionTimer.Stop() {
		select {
		case <-st.electionTimer.C:
		default:
		}
	}

	st.heartbeatTicker = time.NewTicker(n.cfg.HeartbeatInterval)

	n.appendEntryLocked(st, EntryNoOp, nil)
	n.startReplicators(st)

	n.publishStatus(st)
	n.notifier.RoleChanged(n.id, RoleLeader, st.currentTerm)
	n.notifier.LeaderElected(n.id, n.id, st.currentTerm)
	n.metrics.SetMetricName("raft.leader.elected")
	n.metrics.AddCount(1)
	n.metrics.Emit()
}

// appendEntryLocked appends a new entry at the log tail under the current
// term, tracking configuration-entry effects immediately on append per
// the design note that the active configuration is the latest logged one,
// not the latest committed one. Caller must be run()'s goroutine.
func (n *Node) appendEntryLocked(st *runState, kind EntryKind, command []byte) (Index, error) {
	last, err := n.storage.LastLogIndex()
	if err != nil {
		return 0, err
	}
	entry := LogEntry{Index: last + 1, Term: st.currentTerm, Kind: kind, Command: command}
	if err := n.storage.AppendLogEntries([]LogEntry{entry}); err != nil {
		return 0, err
	}
	if kind == EntryConfiguration {
		var cfg Configuration
		if err := n.serializer.Unmarshal(command, &cfg); err == nil {
			st.currentConfig = cfg
			n.ensureReplicatorsMatchConfig(st)
		}
	}
	n.wakeReplicators()
	if len(allVoters(st.currentConfig)) == 1 {
		n.advanceCommitIndex(st)
	}
	return entry.Index, nil
}

func (n *Node) wakeReplicators() {
	n.replicatorsMu.Lock()
	defer n.replicatorsMu.Unlock()
	for _, h := range n.replicators {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
}

// sendHeartbeats is the handler for the leader's heartbeat ticker: it
// wakes every replicator so idle peers get an AppendEntries (possibly
// empty) before the follower-side election timeout could fire.
func (n *Node) sendHeartbeats(st *runState) {
	if st.role != RoleLeader {
		return
	}
	n.wakeReplicators()
}

// startReplicators ensures exactly one goroutine is running per current
// voting peer (other than self), adding any missing from a configuration
// change and relying on buildReplicateInstruction's stop signal to retire
// ones no longer needed.
func (n *Node) startReplicators(st *runState) {
	n.ensureReplicatorsMatchConfig(st)
}

func (n *Node) ensureReplicatorsMatchConfig(st *runState) {
	if st.role != RoleLeader {
		return
	}
	want := make(map[NodeID]struct{})
	for _, peer := range allVoters(st.currentConfig) {
		if peer == n.id {
			continue
		}
		want[peer] = struct{}{}
		if _, ok := st.nextIndex[peer]; !ok {
			last, _ := n.storage.LastLogIndex()
			st.nextIndex[peer] = last + 1
			st.matchIndex[peer] = 0
		}
	}

	n.replicatorsMu.Lock()
	defer n.replicatorsMu.Unlock()
	for peer := range want {
		if _, exists := n.replicators[peer]; exists {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		h := &replicatorHandle{cancel: cancel, wake: make(chan struct{}, 1)}
		n.replicators[peer] = h
		go n.replicatorLoop(ctx, peer, h.wake)
	}
	for peer, h := range n.replicators {
		if _, stillWanted := want[peer]; !stillWanted {
			h.cancel()
			delete(n.replicators, peer)
		}
	}
}

func (n *Node) stopReplicators(st *runState) {
	if st.heartbeatTicker != nil {
		st.heartbeatTicker.Stop()
		st.heartbeatTicker = nil
	}
	n.replicatorsMu.Lock()
	defer n.replicatorsMu.Unlock()
	for peer, h := range n.replicators {
		h.cancel()
		delete(n.replicators, peer)
	}
}

// replicatorLoop is the per-peer goroutine a leader runs. It repeatedly
// asks run() for the current unit of work via replicateWorkEvent, sends
// the resulting RPC, and reports the outcome back as an event; run()
// serializes all of this so the replicator never reasons about runState
// directly.
func (n *Node) replicatorLoop(ctx context.Context, peer NodeID, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(n.cfg.HeartbeatInterval):
		}

		reply := make(chan replicateInstruction, 1)
		select {
		case n.events <- replicateWorkEvent{peer: peer, reply: reply}:
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		}

		var instr replicateInstruction
		select {
		case instr = <-reply:
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		}
		if instr.stop {
			return
		}

		rpcCtx, cancel := context.WithTimeout(ctx, n.cfg.HeartbeatInterval*4)
		if instr.useSnapshot {
			data := instr.payload
			end := instr.offset + n.cfg.SnapshotChunkSize
			done := end >= len(data)
			if end > len(data) {
				end = len(data)
			}
			chunk := data[instr.offset:end]
			args := InstallSnapshotArgs{
				Term:              instr.term,
				LeaderID:          n.id,
				LastIncludedIndex: instr.snap.LastIncludedIndex,
				LastIncludedTerm:  instr.snap.LastIncludedTerm,
				Offset:            instr.offset,
				Data:              chunk,
				Done:              done,
			}
			rep, err := n.transport.SendInstallSnapshot(rpcCtx, peer, args)
			cancel()
			ev := installSnapshotResultEvent{
				peer: peer, sentTerm: instr.term,
				lastIncludedIndex: instr.snap.LastIncludedIndex,
				lastIncludedTerm:  instr.snap.LastIncludedTerm,
				done:              done, chunkLen: len(chunk), reply: rep, err: err,
			}
			select {
			case n.events <- ev:
			case <-ctx.Done():
				return
			case <-n.stopCh:
				return
			}
			continue
		}

		args := AppendEntriesArgs{
			Term:         instr.term,
			LeaderID:     n.id,
			PrevLogIndex: instr.prevLogIndex,
			PrevLogTerm:  instr.prevLogTerm,
			Entries:      instr.entries,
			LeaderCommit: instr.leaderCommit,
		}
		rep, err := n.transport.SendAppendEntries(rpcCtx, peer, args)
		cancel()
		ev := appendEntriesResultEvent{
			peer: peer, sentTerm: instr.term, prevLogIndex: instr.prevLogIndex,
			numEntries: len(instr.entries), reply: rep, err: err,
		}
		select {
		case n.events <- ev:
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		}
	}
}

// buildReplicateInstruction computes, synchronously inside run(), the
// next unit of work for peer: either an AppendEntries (possibly empty,
// for a heartbeat) or the next InstallSnapshot chunk if the peer has
// fallen behind the log's retained prefix.
func (n *Node) buildReplicateInstruction(st *runState, peer NodeID) replicateInstruction {
	if st.role != RoleLeader || !allVotersContains(st.currentConfig, peer) {
		return replicateInstruction{stop: true}
	}

	nextIdx := st.nextIndex[peer]
	if nextIdx == 0 {
		nextIdx = 1
	}

	if nextIdx <= st.snapshotLastIndex {
		snap, ok, err := n.storage.LoadSnapshot()
		if err != nil || !ok {
			return replicateInstruction{stop: true}
		}
		payload, err := n.serializer.Marshal(snap)
		if err != nil {
			return replicateInstruction{stop: true}
		}
		offset := 0
		if st.snapshotOffset == nil {
			st.snapshotOffset = make(map[NodeID]int)
		}
		if off, tracking := st.snapshotOffset[peer]; tracking {
			offset = off
		} else {
			st.snapshotOffset[peer] = 0
		}
		return replicateInstruction{term: st.currentTerm, useSnapshot: true, snap: snap, payload: payload, offset: offset}
	}

	var prevTerm Term
	if nextIdx-1 == st.snapshotLastIndex {
		prevTerm = st.snapshotLastTerm
	} else if nextIdx > 1 {
		e, ok, err := n.storage.GetLogEntry(nextIdx - 1)
		if err == nil && ok {
			prevTerm = e.Term
		}
	}

	last, _ := n.storage.LastLogIndex()
	var entries []LogEntry
	max := nextIdx + Index(n.cfg.MaxEntriesPerAppend) - 1
	if max > last {
		max = last
	}
	for i := nextIdx; i <= max; i++ {
		e, ok, err := n.storage.GetLogEntry(i)
		if err != nil || !ok {
			break
		}
		entries = append(entries, e)
	}

	return replicateInstruction{
		term:         st.currentTerm,
		prevLogIndex: nextIdx - 1,
		prevLogTerm:  prevTerm,
		entries:      entries,
		leaderCommit: st.commitIndex,
	}
}

func allVotersContains(cfg Configuration, id NodeID) bool {
	for _, v := range allVoters(cfg) {
		if v == id {
			return true
		}
	}
	return false
}

func (n *Node) handleAppendEntriesResult(st *runState, e appendEntriesResultEvent) bool {
	if e.err != nil {
		return false
	}
	if n.stepDownIfNewer(st, e.reply.Term) {
		return false
	}
	if st.role != RoleLeader || e.sentTerm != st.currentTerm {
		return false
	}
	if e.reply.Success {
		newMatch := e.prevLogIndex + Index(e.numEntries)
		if newMatch > st.matchIndex[e.peer] {
			st.matchIndex[e.peer] = newMatch
		}
		if st.nextIndex[e.peer] < newMatch+1 {
			st.nextIndex[e.peer] = newMatch + 1
		}
		n.advanceCommitIndex(st)
		return false
	}
	if e.reply.Hint != nil {
		st.nextIndex[e.peer] = n.resolveConflict(*e.reply.Hint, e.prevLogIndex)
	} else if st.nextIndex[e.peer] > 1 {
		st.nextIndex[e.peer]--
	}
	return false
}

func (n *Node) resolveConflict(hint ConflictHint, prevLogIndex Index) Index {
	if hint.ConflictTerm == 0 {
		if hint.FirstIndexOfConflict > 0 {
			return hint.FirstIndexOfConflict
		}
		return 1
	}
	for i := prevLogIndex; i >= 1; i-- {
		e, ok, err := n.storage.GetLogEntry(i)
		if err != nil || !ok {
			break
		}
		if e.Term == hint.ConflictTerm {
			return i + 1
		}
		if e.Term < hint.ConflictTerm {
			break
		}
	}
	if hint.FirstIndexOfConflict > 0 {
		return hint.FirstIndexOfConflict
	}
	return 1
}

// handleAppendEntries is the follower-side receiver for the leader's
// AppendEntries RPC (§4.2/§4.3's log-matching and consistency checks).
func (n *Node) handleAppendEntries(st *runState, args AppendEntriesArgs) AppendEntriesReply {
	if args.Term < st.currentTerm {
		return AppendEntriesReply{Term: st.currentTerm, Success: false}
	}

	if args.Term > st.currentTerm {
		st.currentTerm = args.Term
		st.votedFor = ""
		if n.persistTermVote(st) {
			return AppendEntriesReply{Term: st.currentTerm, Success: false}
		}
	}
	wasLeader := st.role == RoleLeader
	st.role = RoleFollower
	st.leaderHint = args.LeaderID
	if wasLeader {
		n.stopReplicators(st)
		n.failAllPending(st, ErrSteppedDownSentinel)
	}
	n.resetElectionTimer(st)

	if args.PrevLogIndex > 0 {
		if args.PrevLogIndex < st.snapshotLastIndex {
			// Already compacted away; trust the snapshot prefix.
		} else if args.PrevLogIndex == st.snapshotLastIndex {
			if args.PrevLogTerm != st.snapshotLastTerm {
				return AppendEntriesReply{Term: st.currentTerm, Success: false,
					Hint: &ConflictHint{FirstIndexOfConflict: st.snapshotLastIndex + 1}}
			}
		} else {
			e, ok, err := n.storage.GetLogEntry(args.PrevLogIndex)
			if err != nil || !ok {
				last, _ := n.storage.LastLogIndex()
				return AppendEntriesReply{Term: st.currentTerm, Success: false,
					Hint: &ConflictHint{FirstIndexOfConflict: last + 1}}
			}
			if e.Term != args.PrevLogTerm {
				first := n.firstIndexOfTerm(e.Term)
				return AppendEntriesReply{Term: st.currentTerm, Success: false,
					Hint: &ConflictHint{ConflictTerm: e.Term, FirstIndexOfConflict: first}}
			}
		}
	}

	nextIdx := args.PrevLogIndex + 1
	truncated := false
	for i, e := range args.Entries {
		idx := nextIdx + Index(i)
		existing, ok, err := n.storage.GetLogEntry(idx)
		if err == nil && ok {
			if existing.Term == e.Term {
				continue
			}
			if err := n.storage.TruncateLogFrom(idx); err != nil {
				n.log("error", "truncate log failed", "err", err)
				return AppendEntriesReply{Term: st.currentTerm, Success: false}
			}
			truncated = true
		}
		if err := n.storage.AppendLogEntries([]LogEntry{e}); err != nil {
			n.log("error", "append log entry failed", "err", err)
			return AppendEntriesReply{Term: st.currentTerm, Success: false}
		}
		if e.Kind == EntryConfiguration {
			var cfg Configuration
			if err := n.serializer.Unmarshal(e.Command, &cfg); err == nil {
				st.currentConfig = cfg
			}
		}
	}
	if truncated {
		n.recomputeCurrentConfig(st)
	}

	lastNew := args.PrevLogIndex + Index(len(args.Entries))
	if args.LeaderCommit > st.commitIndex {
		newCommit := args.LeaderCommit
		if lastNew < newCommit {
			newCommit = lastNew
		}
		n.commitAt(st, newCommit)
	}

	n.publishStatus(st)
	return AppendEntriesReply{Term: st.currentTerm, Success: true}
}

func (n *Node) firstIndexOfTerm(term Term) Index {
	last, err := n.storage.LastLogIndex()
	if err != nil {
		return 1
	}
	first := Index(1)
	for i := last; i >= 1; i-- {
		e, ok, err := n.storage.GetLogEntry(i)
		if err != nil || !ok {
			break
		}
		if e.Term == term {
			first = i
		} else if e.Term < term {
			break
		}
		if i == 1 {
			break
		}
	}
	return first
}

// recomputeCurrentConfig rescans the log tail for the latest
// configuration entry after a truncation, falling back to the snapshot's
// configuration (or the single-member bootstrap configuration) if none
// remains in the log.
func (n *Node) recomputeCurrentConfig(st *runState) {
	last, err := n.storage.LastLogIndex()
	if err != nil {
		return
	}
	for i := last; i >= 1; i-- {
		e, ok, err := n.storage.GetLogEntry(i)
		if err != nil || !ok {
			break
		}
		if e.Kind == EntryConfiguration {
			var cfg Configuration
			if err := n.serializer.Unmarshal(e.Command, &cfg); err == nil {
				st.currentConfig = cfg
				return
			}
		}
		if i == 1 {
			break
		}
	}
	if snap, ok, err := n.storage.LoadSnapshot(); err == nil && ok {
		st.currentConfig = snap.Configuration
	}
}
