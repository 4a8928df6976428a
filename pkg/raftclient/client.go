// Package raftclient wraps a cluster of raft.Node handles with the
// not_leader-hint-following retry loop the client surface's own contract
// asks callers to implement (§4.4, §7 "client command failures"): a
// submission against the wrong node fails fast with a hint, and the
// client should retry against that hint rather than surface the failure.
package raftclient

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/raftsim/pkg/metrics"
	"github.com/cuemby/raftsim/pkg/raft"
)

// Config tunes the retry loop.
type Config struct {
	RetryBackoff time.Duration
	MaxAttempts  int
}

func DefaultConfig() Config {
	return Config{RetryBackoff: 20 * time.Millisecond, MaxAttempts: 10}
}

// Client submits commands and membership changes to whichever node in
// nodes currently believes itself leader, following not_leader hints
// across attempts and falling back to round-robin when no hint is known.
type Client struct {
	cfg   Config
	mu    sync.Mutex
	nodes map[raft.NodeID]*raft.Node
	order []raft.NodeID
	guess raft.NodeID
}

func New(nodes map[raft.NodeID]*raft.Node, cfg Config) *Client {
	order := make([]raft.NodeID, 0, len(nodes))
	for id := range nodes {
		order = append(order, id)
	}
	return &Client{cfg: cfg, nodes: nodes, order: order}
}

func (c *Client) targetLocked() raft.NodeID {
	if c.guess != "" {
		if _, ok := c.nodes[c.guess]; ok {
			return c.guess
		}
	}
	if len(c.order) == 0 {
		return ""
	}
	return c.order[0]
}

func (c *Client) rotateLocked() {
	if len(c.order) == 0 {
		return
	}
	c.order = append(c.order[1:], c.order[0])
}

func (c *Client) setGuess(id raft.NodeID) {
	c.mu.Lock()
	c.guess = id
	c.mu.Unlock()
}

// SubmitCommand retries against the hinted leader until the command is
// applied, ctx expires, or MaxAttempts is exhausted.
func (c *Client) SubmitCommand(ctx context.Context, command []byte) ([]byte, error) {
	timer := metrics.NewTimer()
	result, err := c.submitCommand(ctx, command)
	timer.ObserveDuration(metrics.ClientRequestDuration)
	metrics.ClientRequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return result, err
}

func (c *Client) submitCommand(ctx context.Context, command []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		c.mu.Lock()
		target := c.targetLocked()
		node, ok := c.nodes[target]
		c.mu.Unlock()
		if !ok {
			return nil, raft.ErrShutdownSentinel
		}

		result, err := node.SubmitCommand(ctx, command)
		if err == nil {
			c.setGuess(target)
			return result, nil
		}
		lastErr = err
		if !c.redirect(err, target) {
			return nil, err
		}
		if waitErr := c.backoff(ctx); waitErr != nil {
			return nil, waitErr
		}
	}
	return nil, lastErr
}

// outcomeLabel maps an error returned by submitCommand to the bounded
// label set ClientRequestsTotal is keyed on.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	rerr, ok := err.(*raft.Error)
	if !ok {
		return "error"
	}
	switch rerr.Kind {
	case raft.ErrNotLeader:
		return "not_leader"
	case raft.ErrTimeout:
		return "timeout"
	case raft.ErrSteppedDown:
		return "stepped_down"
	default:
		return "error"
	}
}

// AddNode submits a membership addition, retrying the same way as
// SubmitCommand.
func (c *Client) AddNode(ctx context.Context, id raft.NodeID) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		c.mu.Lock()
		target := c.targetLocked()
		node, ok := c.nodes[target]
		c.mu.Unlock()
		if !ok {
			return raft.ErrShutdownSentinel
		}
		err := node.AddNode(ctx, id)
		if err == nil {
			c.setGuess(target)
			return nil
		}
		lastErr = err
		if !c.redirect(err, target) {
			return err
		}
		if waitErr := c.backoff(ctx); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

// RemoveNode submits a membership removal, retrying the same way as
// SubmitCommand.
func (c *Client) RemoveNode(ctx context.Context, id raft.NodeID) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		c.mu.Lock()
		target := c.targetLocked()
		node, ok := c.nodes[target]
		c.mu.Unlock()
		if !ok {
			return raft.ErrShutdownSentinel
		}
		err := node.RemoveNode(ctx, id)
		if err == nil {
			c.setGuess(target)
			return nil
		}
		lastErr = err
		if !c.redirect(err, target) {
			return err
		}
		if waitErr := c.backoff(ctx); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

// redirect inspects err and points the next attempt at the hinted leader,
// or rotates to the next known node when no hint is available. It
// returns false when the caller should give up instead of retrying.
func (c *Client) redirect(err error, tried raft.NodeID) bool {
	rerr, ok := err.(*raft.Error)
	if !ok {
		return false
	}
	switch rerr.Kind {
	case raft.ErrNotLeader:
		c.mu.Lock()
		if rerr.Hint != "" {
			c.guess = rerr.Hint
		} else {
			c.guess = ""
			c.rotateLocked()
		}
		c.mu.Unlock()
		return true
	case raft.ErrSteppedDown, raft.ErrTimeout:
		c.mu.Lock()
		c.guess = ""
		c.rotateLocked()
		c.mu.Unlock()
		return true
	default:
		return false
	}
}

func (c *Client) backoff(ctx context.Context) error {
	select {
	case <-time.After(c.cfg.RetryBackoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
