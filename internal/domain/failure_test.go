package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "nil error", err: nil, want: FailureUnknown},
		{name: "connection sentinel", err: ErrConnection, want: FailureConnection},
		{name: "auth sentinel", err: ErrAuth, want: FailureAuth},
		{name: "verification timeout sentinel", err: ErrVerificationTimeout, want: FailureVerificationTimeout},
		{name: "rate limited sentinel", err: ErrRateLimited, want: FailureRateLimited},
		{name: "terminal sentinel", err: ErrTerminal, want: FailureTerminal},
		{name: "device timeout sentinel", err: ErrDeviceTimeout, want: FailureDeviceTimeout},
		{name: "configuration sentinel", err: ErrConfiguration, want: FailureConfiguration},
		{name: "wrapped sentinel", err: fmt.Errorf("register: %w", ErrRateLimited), want: FailureRateLimited},
		{name: "doubly wrapped sentinel", err: fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrAuth)), want: FailureAuth},
		{name: "net.Error falls back to connection", err: &net.DNSError{Err: "no such host", IsTimeout: true}, want: FailureConnection},
		{name: "context deadline falls back to connection", err: context.DeadlineExceeded, want: FailureConnection},
		{name: "arbitrary error is unknown", err: errors.New("something odd"), want: FailureUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyPrefersSentinelOverTransport(t *testing.T) {
	// An error chain carrying both a sentinel and a deadline must classify by
	// the sentinel; the verification timeout wrapper wraps DeadlineExceeded.
	err := fmt.Errorf("%w: %w", ErrVerificationTimeout, context.DeadlineExceeded)
	assert.Equal(t, FailureVerificationTimeout, Classify(err))
}

func TestFailureKindRetriable(t *testing.T) {
	assert.True(t, FailureConnection.Retriable())
	assert.True(t, FailureAuth.Retriable())
	assert.True(t, FailureVerificationTimeout.Retriable())
	assert.True(t, FailureRateLimited.Retriable())
	assert.True(t, FailureDeviceTimeout.Retriable())
	assert.True(t, FailureUnknown.Retriable())

	assert.False(t, FailureTerminal.Retriable())
	assert.False(t, FailureConfiguration.Retriable())
}

func TestFailureKindProxyRelated(t *testing.T) {
	assert.True(t, FailureConnection.ProxyRelated())
	assert.True(t, FailureRateLimited.ProxyRelated())

	assert.False(t, FailureAuth.ProxyRelated())
	assert.False(t, FailureVerificationTimeout.ProxyRelated())
	assert.False(t, FailureTerminal.ProxyRelated())
	assert.False(t, FailureUnknown.ProxyRelated())
}

func TestFailureKindString(t *testing.T) {
	assert.Equal(t, "connection", FailureConnection.String())
	assert.Equal(t, "terminal", FailureTerminal.String())
	assert.Equal(t, "unknown", FailureUnknown.String())
	assert.Equal(t, "unknown", FailureKind(99).String())
}
