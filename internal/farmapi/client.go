// Package farmapi talks to the remote point-farming API. The engine depends
// only on the Client interface and on the failure kinds its errors classify
// into; request/response shapes stay private to this package.
package farmapi

import (
	"context"

	"github.com/solazh/hivefarm/internal/domain"
)

// LoginResult is the outcome of exchanging a verification session for an
// auth token.
type LoginResult struct {
	Token          string
	SignupRequired bool
}

// Job is one unit of remote work handed to a device. A nil *Job from
// RequestJob means no work is available right now.
type Job struct {
	ID             string
	TargetURL      string
	Rules          string
	TimeoutSeconds int
}

// Client is the engine's view of the remote API. Implementations wrap every
// error with one of the domain failure sentinels so domain.Classify can drive
// the retry policy.
type Client interface {
	// Register submits a registration for the email, triggering the
	// verification mail.
	Register(ctx context.Context, email string) error

	// Verify exchanges the emailed confirmation code for a session token.
	Verify(ctx context.Context, code string) (string, error)

	// Login exchanges a session token for an auth token.
	Login(ctx context.Context, sessionToken string) (LoginResult, error)

	// CompleteSignUp finishes registration, optionally with a referral
	// code. An empty code signs up without one.
	CompleteSignUp(ctx context.Context, authToken, referralCode string) error

	// OwnReferralCode fetches the referral code the server issued to this
	// account.
	OwnReferralCode(ctx context.Context, authToken string) (string, error)

	// RefreshToken re-authenticates with an expired or rejected token and
	// returns a fresh one.
	RefreshToken(ctx context.Context, authToken string) (string, error)

	// Ping reports the device as alive.
	Ping(ctx context.Context, authToken string, device *domain.Device) error

	// RequestJob asks for work for the device. Returns nil when no job is
	// available.
	RequestJob(ctx context.Context, authToken string, device *domain.Device) (*Job, error)

	// CompleteJob submits the result payload for a finished job.
	CompleteJob(ctx context.Context, authToken string, device *domain.Device, jobID string, result map[string]any) error
}

// Factory builds a Client bound to one proxy for the duration of one attempt.
// An empty proxyURL means a direct connection.
type Factory func(proxyURL string) (Client, error)
