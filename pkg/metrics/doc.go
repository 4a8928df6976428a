// Package metrics exposes raftsim's Prometheus instrumentation: gauges
// tracking a node's current role/term/commit state, counters for
// notification and client-request volume, and histograms for client
// request latency, plus the health/readiness/liveness HTTP handlers a
// raftd process serves alongside /metrics.
//
// # Metrics catalog
//
// raftsim_raft_is_leader: gauge, 1 when this node currently believes
// itself leader.
//
// raftsim_raft_current_term: gauge, the node's current Raft term.
//
// raftsim_raft_peers_total: gauge, voting members in the current
// configuration, updated from configuration.changed notifications.
//
// raftsim_raft_commit_index / raftsim_raft_applied_index: gauges
// tracking log replication progress.
//
// raftsim_raft_events_total{event}: counter of raftevents.Broker
// notifications by type (role.changed, leader.elected,
// configuration.changed, snapshot.installed), also incremented by
// Adapter for the raft.Metrics names it emits.
//
// raftsim_client_requests_total{outcome}: counter of raftclient
// submissions by outcome (ok, not_leader, timeout, ...).
//
// raftsim_client_request_duration_seconds: histogram of end-to-end
// SubmitCommand latency.
//
// raftsim_sim_messages_accepted_total / raftsim_sim_messages_dropped_total:
// counters registered for pkg/sim's delivery and drop decisions; no
// package in this module increments them.
//
// # Usage
//
//	collector := metrics.NewCollector(node, broker)
//	collector.Start()
//	defer collector.Stop()
//
//	http.Handle("/metrics", metrics.Handler())
//	http.HandleFunc("/health", metrics.HealthHandler())
//	http.HandleFunc("/ready", metrics.ReadyHandler())
//	http.HandleFunc("/live", metrics.LivenessHandler())
package metrics
