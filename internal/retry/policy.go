// Package retry holds the pure retry/rotation decision logic shared by the
// registration and farming tasks. The policy itself never sleeps or touches
// proxies; callers act on the returned decision.
package retry

import (
	"context"
	"time"

	"github.com/solazh/hivefarm/internal/domain"
)

// Action is the policy's verdict for one failed attempt.
type Action int

const (
	// RetrySameProxy retries after the configured delay, keeping the proxy.
	RetrySameProxy Action = iota

	// RotateProxy switches to the next proxy, then retries after the delay.
	RotateProxy

	// Abandon stops retrying on the current proxy. The task layers its own
	// proxy-exhaustion handling on top: rotate and reset the attempt
	// counter until the pool itself is exhausted.
	Abandon
)

// String returns the log-friendly name of the action.
func (a Action) String() string {
	switch a {
	case RetrySameProxy:
		return "retry_same_proxy"
	case RotateProxy:
		return "rotate_proxy"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// Policy decides what to do after a failed attempt. A Policy is immutable and
// safe for concurrent use; registration and farming each build their own from
// configuration (independent attempt ceilings, shared delay and rotation flag).
type Policy struct {
	// MaxAttempts is the per-proxy attempt ceiling. Attempt numbers start
	// at 1; an attempt number at or past the ceiling abandons.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// RotationEnabled mirrors retry.proxy_rotation: when false, connection
	// failures retry on the same proxy instead of rotating.
	RotationEnabled bool
}

// Decide returns the action for the given attempt number and failure kind.
// attempt starts at 1 for the first try.
func (p Policy) Decide(attempt int, kind domain.FailureKind) Action {
	if !kind.Retriable() {
		return Abandon
	}
	if attempt >= p.MaxAttempts {
		return Abandon
	}
	if kind.ProxyRelated() && p.RotationEnabled {
		return RotateProxy
	}
	return RetrySameProxy
}

// Wait blocks for the configured inter-attempt delay, returning early with
// ctx.Err() if the context is cancelled first.
func (p Policy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
