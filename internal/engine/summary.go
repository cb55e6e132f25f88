package engine

import (
	"log/slog"
	"sync"

	"github.com/solazh/hivefarm/internal/domain"
)

// Summary accumulates terminal per-account outcomes across a pool run.
// It is safe for concurrent use by multiple workers.
type Summary struct {
	mu        sync.Mutex
	succeeded []string
	failed    map[string]domain.FailureKind
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{
		failed: make(map[string]domain.FailureKind),
	}
}

// RecordSuccess marks the account as having completed its operation.
func (s *Summary) RecordSuccess(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = append(s.succeeded, email)
}

// RecordFailure marks the account as terminally failed with the given kind.
func (s *Summary) RecordFailure(email string, kind domain.FailureKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[email] = kind
}

// Succeeded returns the number of accounts that completed successfully.
func (s *Summary) Succeeded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.succeeded)
}

// Failed returns the number of accounts that terminally failed.
func (s *Summary) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed)
}

// Total returns the number of accounts with a recorded outcome.
func (s *Summary) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.succeeded) + len(s.failed)
}

// Failures returns a copy of the per-account failure kinds.
func (s *Summary) Failures() map[string]domain.FailureKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.FailureKind, len(s.failed))
	for email, kind := range s.failed {
		out[email] = kind
	}
	return out
}

// Log writes a structured end-of-run report.
func (s *Summary) Log(logger *slog.Logger, operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Info("operation finished",
		"operation", operation,
		"succeeded", len(s.succeeded),
		"failed", len(s.failed))

	for email, kind := range s.failed {
		logger.Warn("account failed",
			"operation", operation,
			"email", email,
			"failure_kind", kind.String())
	}
}
