package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAdapterEmitRecordsCount(t *testing.T) {
	a := NewAdapter()
	before := testutil.ToFloat64(RaftEventsTotal.WithLabelValues("election.started"))

	a.SetMetricName("raft.election.started")
	a.AddCount(1)
	a.Emit()

	after := testutil.ToFloat64(RaftEventsTotal.WithLabelValues("election.started"))
	if after != before+1 {
		t.Errorf("expected election.started counter to advance by 1, got %v -> %v", before, after)
	}
}

func TestAdapterSequentialEmitsDoNotLeakState(t *testing.T) {
	a := NewAdapter()

	a.SetMetricName("raft.leader.elected")
	a.AddCount(1)
	a.Emit()

	a.SetMetricName("raft.snapshot.taken")
	a.AddCount(1)
	a.Emit()

	if a.name != "raft.snapshot.taken" {
		t.Errorf("expected last emission name to stick, got %q", a.name)
	}
	if a.count != 1 {
		t.Errorf("expected count reset by the second SetMetricName, leaving only the second AddCount (1), got %d", a.count)
	}
}
