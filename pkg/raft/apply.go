package raft

import (
	"time"
)

// applyLoop is the second long-lived goroutine per Node. It drains
// committed-but-unapplied entries strictly in index order and drives the
// pluggable StateMachine, decoupled from the run() goroutine so a slow
// Apply call never stalls RPC handling or elections. lastApplied is the
// single field this goroutine owns as a writer; run() only ever reads it
// (via Node.lastApplied, an atomic.Uint64) except for the one deliberate
// fast-forward on InstallSnapshot, documented where it happens.
func (n *Node) applyLoop() {
	defer n.wg.Done()

	lastSnapshotIndex := Index(0)
	if snap, ok, err := n.storage.LoadSnapshot(); err == nil && ok {
		lastSnapshotIndex = snap.LastIncludedIndex
	}

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.applySignal:
		case <-ticker.C:
		}

		for {
			applied := Index(n.lastApplied.Load())
			commit := Index(n.commitIndex.Load())
			if applied >= commit {
				break
			}
			next := applied + 1
			entry, ok, err := n.storage.GetLogEntry(next)
			if err != nil || !ok {
				break
			}

			var result []byte
			var applyErr error
			isConf := entry.Kind == EntryConfiguration
			switch entry.Kind {
			case EntryNormal:
				result, applyErr = n.sm.Apply(entry.Command, next)
			case EntryNoOp, EntryConfiguration:
				// No state-machine side effect; configuration entries
				// already took effect on append (§ design note).
			}

			n.lastApplied.Store(uint64(next))

			var cfg Configuration
			if isConf {
				_ = n.serializer.Unmarshal(entry.Command, &cfg)
			}

			select {
			case n.events <- appliedEvent{index: next, result: result, err: applyErr, isConf: isConf, cfg: cfg}:
			case <-n.stopCh:
				return
			}
		}

		if lastSnapshotIndex == 0 {
			if snap, ok, err := n.storage.LoadSnapshot(); err == nil && ok {
				lastSnapshotIndex = snap.LastIncludedIndex
			}
		}
		applied := Index(n.lastApplied.Load())
		if int(applied-lastSnapshotIndex) >= n.cfg.SnapshotThreshold {
			if idx, term, ok := n.takeSnapshot(applied, lastSnapshotIndex); ok {
				lastSnapshotIndex = idx
				select {
				case n.events <- snapshotTakenEvent{index: idx, term: term}:
				case <-n.stopCh:
					return
				}
			}
		}
	}
}

// takeSnapshot asks the state machine for its current serialized state,
// pairs it with the log term and configuration in effect at lastApplied,
// persists the result, and compacts the log prefix it supersedes.
func (n *Node) takeSnapshot(lastApplied, previousSnapshotIndex Index) (Index, Term, bool) {
	state, err := n.sm.Snapshot()
	if err != nil {
		n.log("error", "state machine snapshot failed", "err", err)
		return 0, 0, false
	}

	var term Term
	if entry, ok, err := n.storage.GetLogEntry(lastApplied); err == nil && ok {
		term = entry.Term
	}

	fallback := Configuration{}
	if prev, ok, err := n.storage.LoadSnapshot(); err == nil && ok {
		fallback = prev.Configuration
	}
	cfg := configAsOfIndex(n.storage, n.serializer, lastApplied, fallback)

	snap := Snapshot{
		LastIncludedIndex: lastApplied,
		LastIncludedTerm:  term,
		Configuration:     cfg,
		State:             state,
	}
	if err := n.storage.SaveSnapshot(snap); err != nil {
		n.log("error", "persist snapshot failed", "err", err)
		return 0, 0, false
	}
	if err := n.storage.DeleteLogEntriesBefore(lastApplied + 1); err != nil {
		n.log("error", "compact log after snapshot failed", "err", err)
	}
	n.metrics.SetMetricName("raft.snapshot.taken")
	n.metrics.AddCount(1)
	n.metrics.Emit()
	return lastApplied, term, true
}
