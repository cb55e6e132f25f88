package store

import (
	"context"
	"database/sql"

	"github.com/solazh/hivefarm/internal/domain"
)

// AccountStore defines the interface for account persistence. The engine
// treats it as the single durable record of registration and login progress:
// every state transition is written through it, and a restart resumes from
// whatever it holds.
type AccountStore interface {
	// GetByEmail retrieves an account by its email address.
	// Returns ErrAccountNotFound if the account does not exist.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// ListLoggedIn retrieves all accounts that hold an auth token and are
	// therefore eligible for farming.
	ListLoggedIn(ctx context.Context) ([]*domain.Account, error)

	// Upsert writes the account keyed by email, creating it if absent and
	// overwriting mutable fields if present. The write is idempotent:
	// replaying it with identical data leaves the record identical to a
	// single successful write.
	Upsert(ctx context.Context, account *domain.Account) error

	// UpdateStatus sets only the status of the account identified by email.
	// Returns ErrAccountNotFound if the account does not exist.
	UpdateStatus(ctx context.Context, email string, status domain.AccountStatus) error

	// UpdateProxy sets the sticky proxy assignment of the account.
	// Returns ErrAccountNotFound if the account does not exist.
	UpdateProxy(ctx context.Context, email, proxy string) error

	// RandomReferralCode returns a referral code owned by any account in the
	// store, chosen at random. Returns ErrNoReferralCodes when none exists.
	RandomReferralCode(ctx context.Context) (string, error)

	// WithTx returns a new AccountStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) AccountStore
}
