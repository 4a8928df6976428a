package raft

// handleInstallSnapshot is the follower-side receiver for a leader's
// chunked InstallSnapshot RPC (§4.4, chunking scheme resolved in the
// expanded design doc): chunks are assembled in order and the whole
// transferred payload — which carries the state machine's serialized
// state together with the configuration in effect at the snapshot's
// index — is restored only once the final chunk arrives.
func (n *Node) handleInstallSnapshot(st *runState, args InstallSnapshotArgs) InstallSnapshotReply {
	if args.Term < st.currentTerm {
		return InstallSnapshotReply{Term: st.currentTerm}
	}
	if args.Term > st.currentTerm {
		st.currentTerm = args.Term
		st.votedFor = ""
		if n.persistTermVote(st) {
			return InstallSnapshotReply{Term: st.currentTerm}
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

	if args.Offset == 0 || st.snapshotAssembly == nil ||
		st.snapshotAssembly.leaderID != args.LeaderID ||
		st.snapshotAssembly.lastIncludedIndex != args.LastIncludedIndex {
		st.snapshotAssembly = &snapshotAssembly{
			leaderID:          args.LeaderID,
			lastIncludedIndex: args.LastIncludedIndex,
			lastIncludedTerm:  args.LastIncludedTerm,
		}
	}
	if args.Offset == len(st.snapshotAssembly.buf) {
		st.snapshotAssembly.buf = append(st.snapshotAssembly.buf, args.Data...)
	}

	if !args.Done {
		return InstallSnapshotReply{Term: st.currentTerm}
	}

	var snap Snapshot
	if err := n.serializer.Unmarshal(st.snapshotAssembly.buf, &snap); err != nil {
		n.log("error", "failed to decode assembled snapshot", "err", err)
		st.snapshotAssembly = nil
		return InstallSnapshotReply{Term: st.currentTerm}
	}
	st.snapshotAssembly = nil

	if snap.LastIncludedIndex <= Index(n.lastApplied.Load()) {
		// Stale transfer, already caught up by normal replication.
		return InstallSnapshotReply{Term: st.currentTerm}
	}

	if err := n.sm.Restore(snap.State, snap.LastIncludedIndex); err != nil {
		n.log("error", "state machine restore failed", "err", err)
		return InstallSnapshotReply{Term: st.currentTerm}
	}
	if err := n.storage.SaveSnapshot(snap); err != nil {
		n.log("error", "persist installed snapshot failed", "err", err)
		return InstallSnapshotReply{Term: st.currentTerm}
	}

	if entry, ok, _ := n.storage.GetLogEntry(snap.LastIncludedIndex); !ok || entry.Term != snap.LastIncludedTerm {
		_ = n.storage.TruncateLogFrom(snap.LastIncludedIndex + 1)
	}
	_ = n.storage.DeleteLogEntriesBefore(snap.LastIncludedIndex + 1)

	st.currentConfig = snap.Configuration
	st.snapshotLastIndex = snap.LastIncludedIndex
	st.snapshotLastTerm = snap.LastIncludedTerm
	if snap.LastIncludedIndex > st.commitIndex {
		st.commitIndex = snap.LastIncludedIndex
		n.commitIndex.Store(uint64(snap.LastIncludedIndex))
	}
	// The one write of lastApplied from run(): the restored snapshot
	// already covers every entry up to LastIncludedIndex.
	n.lastApplied.Store(uint64(snap.LastIncludedIndex))

	n.notifier.SnapshotInstalled(n.id, snap.LastIncludedIndex)
	n.publishStatus(st)
	return InstallSnapshotReply{Term: st.currentTerm}
}

// handleInstallSnapshotResult is the leader-side bookkeeping after one
// chunk of an InstallSnapshot transfer completes.
func (n *Node) handleInstallSnapshotResult(st *runState, e installSnapshotResultEvent) bool {
	if e.err != nil {
		return false
	}
	if n.stepDownIfNewer(st, e.reply.Term) {
		return false
	}
	if st.role != RoleLeader || e.sentTerm != st.currentTerm {
		return false
	}
	if e.done {
		if st.snapshotOffset != nil {
			delete(st.snapshotOffset, e.peer)
		}
		if st.nextIndex[e.peer] < e.lastIncludedIndex+1 {
			st.nextIndex[e.peer] = e.lastIncludedIndex + 1
		}
		if st.matchIndex[e.peer] < e.lastIncludedIndex {
			st.matchIndex[e.peer] = e.lastIncludedIndex
		}
		n.advanceCommitIndex(st)
		return false
	}
	if st.snapshotOffset == nil {
		st.snapshotOffset = make(map[NodeID]int)
	}
	st.snapshotOffset[e.peer] += e.chunkLen
	return false
}

func (n *Node) handleSnapshotTaken(st *runState, e snapshotTakenEvent) {
	if e.index > st.snapshotLastIndex {
		st.snapshotLastIndex = e.index
		st.snapshotLastTerm = e.term
	}
}

// configAsOfIndex scans the log backward from idx for the nearest
// configuration entry, used when building a snapshot so its recorded
// Configuration matches the state actually reflected at that index
// instead of whatever is active when the snapshot happens to run.
func configAsOfIndex(storage Storage, ser Serializer, idx Index, fallback Configuration) Configuration {
	for i := idx; i >= 1; i-- {
		e, ok, err := storage.GetLogEntry(i)
		if err != nil || !ok {
			break
		}
		if e.Kind == EntryConfiguration {
			var cfg Configuration
			if err := ser.Unmarshal(e.Command, &cfg); err == nil {
				return cfg
			}
		}
		if i == 1 {
			break
		}
	}
	return fallback
}
