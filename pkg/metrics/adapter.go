package metrics

import (
	"sync"
	"time"
)

// Adapter implements raft.Metrics as a small builder: SetMetricName opens
// an emission, AddCount/AddDuration/AddValue/AddDimension accumulate it,
// and Emit records it and closes the emission. raft.Node calls this
// sequence from more than one goroutine (the run loop and the apply
// loop), so SetMetricName acquires mu and Emit releases it — the
// emission is a critical section, not per-goroutine state. Callers must
// always finish a SetMetricName with a matching Emit.
type Adapter struct {
	mu         sync.Mutex
	name       string
	dimensions map[string]string
	count      int64
	duration   time.Duration
	value      float64
}

// NewAdapter returns an Adapter ready to pass to raft.WithMetrics.
func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) SetMetricName(name string) {
	a.mu.Lock()
	a.name = name
	a.dimensions = nil
	a.count = 0
	a.duration = 0
	a.value = 0
}

func (a *Adapter) AddDimension(key, value string) {
	if a.dimensions == nil {
		a.dimensions = make(map[string]string, 2)
	}
	a.dimensions[key] = value
}

func (a *Adapter) AddCount(n int64) { a.count += n }

func (a *Adapter) AddDuration(d int64) { a.duration += time.Duration(d) }

func (a *Adapter) AddValue(v float64) { a.value += v }

// Emit records the accumulated emission against the package counters and
// releases the lock SetMetricName took.
func (a *Adapter) Emit() {
	defer a.mu.Unlock()

	switch a.name {
	case "raft.election.started":
		RaftEventsTotal.WithLabelValues("election.started").Add(float64(max64(a.count, 1)))
	case "raft.leader.elected":
		RaftEventsTotal.WithLabelValues("leader.elected").Add(float64(max64(a.count, 1)))
	case "raft.snapshot.taken":
		RaftEventsTotal.WithLabelValues("snapshot.taken").Add(float64(max64(a.count, 1)))
	default:
		RaftEventsTotal.WithLabelValues(a.name).Add(float64(max64(a.count, 1)))
	}

	if a.duration > 0 {
		RaftOperationDuration.WithLabelValues(a.name).Observe(a.duration.Seconds())
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
