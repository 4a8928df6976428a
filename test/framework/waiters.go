package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/raftsim/pkg/raft"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter with sensible defaults (5s timeout, 10ms interval).
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 10*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForLeader waits until some node in cluster believes itself
// leader and returns the first such node in member order; it does not
// check that no other node also believes itself leader (§8 S1/S2).
func (w *Waiter) WaitForLeader(ctx context.Context, cluster *Cluster) (*raft.Node, error) {
	var leader *raft.Node
	err := w.WaitFor(ctx, func() bool {
		l, ok := cluster.Leader()
		if !ok {
			return false
		}
		leader = l
		return true
	}, "a leader to be elected")
	return leader, err
}

// WaitForCommitIndex waits for node's commit index to reach at least idx.
func (w *Waiter) WaitForCommitIndex(ctx context.Context, node *raft.Node, idx raft.Index) error {
	return w.WaitFor(ctx, func() bool {
		return node.GetStatus().CommitIndex >= idx
	}, fmt.Sprintf("commit index to reach %d", idx))
}

// WaitForTerm waits for node's current term to reach at least term.
func (w *Waiter) WaitForTerm(ctx context.Context, node *raft.Node, term raft.Term) error {
	return w.WaitFor(ctx, func() bool {
		return node.GetCurrentTerm() >= term
	}, fmt.Sprintf("term to reach %d", term))
}

// PollUntil polls a condition until it returns true or context is cancelled
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = delay * 2
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}
