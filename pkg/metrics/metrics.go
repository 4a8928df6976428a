// Package metrics exposes the Prometheus gauges, counters and
// histograms raftd and pkg/raft's Metrics collaborator report through,
// plus the HTTP handlers that serve them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RaftLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftsim_raft_is_leader",
		Help: "Whether this node believes itself leader (1) or not (0)",
	})

	RaftTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftsim_raft_current_term",
		Help: "Current Raft term",
	})

	RaftPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftsim_raft_peers_total",
		Help: "Number of voting members in the current configuration",
	})

	RaftCommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftsim_raft_commit_index",
		Help: "Highest log index known to be committed",
	})

	RaftAppliedIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftsim_raft_applied_index",
		Help: "Highest log index applied to the state machine",
	})

	RaftEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raftsim_raft_events_total",
		Help: "Count of named raft.Metrics events (election started, leader elected, snapshot taken)",
	}, []string{"event"})

	ClientRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raftsim_client_requests_total",
		Help: "Total client submissions by outcome",
	}, []string{"outcome"})

	ClientRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftsim_client_request_duration_seconds",
		Help:    "End-to-end SubmitCommand latency",
		Buckets: prometheus.DefBuckets,
	})

	RaftOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "raftsim_raft_operation_duration_seconds",
		Help: "Duration of named internal raft.Node operations reported via raft.Metrics",
	}, []string{"operation"})

	SimMessagesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftsim_sim_messages_accepted_total",
		Help: "Messages accepted by the simulated network (queued for delivery or drop)",
	})

	SimMessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftsim_sim_messages_dropped_total",
		Help: "Messages the simulated network silently dropped per its reliability model",
	})
)

func init() {
	prometheus.MustRegister(
		RaftLeader,
		RaftTerm,
		RaftPeers,
		RaftCommitIndex,
		RaftAppliedIndex,
		RaftEventsTotal,
		ClientRequestsTotal,
		ClientRequestDuration,
		RaftOperationDuration,
		SimMessagesAccepted,
		SimMessagesDropped,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later recording against a
// histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
