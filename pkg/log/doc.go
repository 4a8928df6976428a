/*
Package log provides structured logging for raftd using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and a raft.Logger adapter so
pkg/raft's own diagnostic log lines flow through the same sink as everything else.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("grpctransport")           │          │
	│  │  - WithNodeID("node-1")                     │          │
	│  │  - WithPeerID("node-2")                     │          │
	│  │  - WithTerm(7)                              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           RaftLogger Adapter                │          │
	│  │  - Implements raft.Logger                   │          │
	│  │  - Maps Log(level, msg, kv...) to zerolog   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	nodeLog := log.WithNodeID("node-1")
	nodeLog.Info().Msg("node started")

	node := raft.NewNode(id, storage, sm, transport, membership, cfg,
		raft.WithLogger(log.NewRaftLogger(log.WithComponent("raft"))))

# JSON Format

	{"level":"info","component":"raft","node_id":"node-1","time":"2026-07-31T10:30:00Z","message":"became leader"}

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance, initialized once at startup,
    accessible from all packages without passing a reference around.

Context Logger Pattern:
  - Create child loggers carrying fixed fields (component, node_id, peer_id,
    term) and pass those down instead of re-specifying fields everywhere.

# Troubleshooting

No Log Output:
  - Check log.Init() was called before any logging and the level is not
    filtering the lines you expect.

Missing Context Fields:
  - Use WithComponent/WithNodeID/WithPeerID instead of the bare global Logger
    when the call site has that context available.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
