package domain

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for the failure kinds the engine distinguishes. Collaborators
// (API client, mail verifier) wrap their errors with one of these so the retry
// policy can classify outcomes without understanding transport details.
var (
	// ErrConnection marks network/proxy-level failures: retriable and
	// proxy-rotatable.
	ErrConnection = errors.New("connection failure")

	// ErrAuth marks invalid credentials or an expired token. The farming
	// cycle re-authenticates before retrying.
	ErrAuth = errors.New("authentication failure")

	// ErrVerificationTimeout marks an email verification code that did not
	// arrive in time. Retriable.
	ErrVerificationTimeout = errors.New("verification code timed out")

	// ErrRateLimited marks a server-side rate limit. Retriable after the
	// configured delay and proxy-rotatable.
	ErrRateLimited = errors.New("rate limited")

	// ErrTerminal marks failures that no retry can fix, such as a banned or
	// duplicate account. The account is marked failed immediately.
	ErrTerminal = errors.New("terminal API failure")

	// ErrDeviceTimeout marks a single device task that exceeded its timeout.
	// Scoped to the device; never fails the account's cycle.
	ErrDeviceTimeout = errors.New("device task timed out")

	// ErrConfiguration marks a failure caused by missing or invalid local
	// configuration, such as an email domain absent from the IMAP server
	// map. Not retriable: retrying cannot change the configuration.
	ErrConfiguration = errors.New("configuration error")
)

// FailureKind classifies a task failure for the retry policy.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureConnection
	FailureAuth
	FailureVerificationTimeout
	FailureRateLimited
	FailureTerminal
	FailureDeviceTimeout
	FailureConfiguration
)

// String returns the log-friendly name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureConnection:
		return "connection"
	case FailureAuth:
		return "auth"
	case FailureVerificationTimeout:
		return "verification_timeout"
	case FailureRateLimited:
		return "rate_limited"
	case FailureTerminal:
		return "terminal"
	case FailureDeviceTimeout:
		return "device_timeout"
	case FailureConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Retriable reports whether another attempt may succeed.
func (k FailureKind) Retriable() bool {
	switch k {
	case FailureTerminal, FailureConfiguration:
		return false
	default:
		return true
	}
}

// ProxyRelated reports whether switching proxies is a plausible fix.
func (k FailureKind) ProxyRelated() bool {
	return k == FailureConnection || k == FailureRateLimited
}

// Classify maps an error onto a FailureKind by unwrapping sentinels first and
// falling back to transport-level heuristics. Unknown errors classify as
// FailureUnknown, which the policy treats as retriable but not proxy-related.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureUnknown
	case errors.Is(err, ErrTerminal):
		return FailureTerminal
	case errors.Is(err, ErrConfiguration):
		return FailureConfiguration
	case errors.Is(err, ErrAuth):
		return FailureAuth
	case errors.Is(err, ErrVerificationTimeout):
		return FailureVerificationTimeout
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrDeviceTimeout):
		return FailureDeviceTimeout
	case errors.Is(err, ErrConnection):
		return FailureConnection
	}

	// Transport errors that reach us unwrapped still count as connection
	// failures: timeouts, refused connections, DNS problems.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureConnection
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureConnection
	}

	return FailureUnknown
}
