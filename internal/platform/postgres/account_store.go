package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/platform/logger"
	"github.com/solazh/hivefarm/internal/store"
)

// PostgresAccountStore implements the store.AccountStore interface
// using a PostgreSQL database as the storage backend.
type PostgresAccountStore struct {
	db store.DBTX
}

// NewPostgresAccountStore creates a new PostgreSQL implementation of the
// AccountStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
func NewPostgresAccountStore(db store.DBTX) *PostgresAccountStore {
	return &PostgresAccountStore{
		db: db,
	}
}

// Ensure PostgresAccountStore implements store.AccountStore interface
var _ store.AccountStore = (*PostgresAccountStore)(nil)

// accountColumns is the SELECT column list shared by all account reads.
const accountColumns = `id, email, password, imap_host, auth_token, referral_code,
	used_referral_code, proxy, status, created_at, updated_at`

// GetByEmail implements store.AccountStore.GetByEmail
func (s *PostgresAccountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by email: %w", MapError(err))
	}
	return account, nil
}

// ListLoggedIn implements store.AccountStore.ListLoggedIn
func (s *PostgresAccountStore) ListLoggedIn(ctx context.Context) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE auth_token <> '' ORDER BY email`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list logged-in accounts: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", MapError(err))
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account rows: %w", MapError(err))
	}
	return accounts, nil
}

// Upsert implements store.AccountStore.Upsert. The write is keyed by email;
// replaying it with identical data leaves the row identical to a single
// successful write.
func (s *PostgresAccountStore) Upsert(ctx context.Context, account *domain.Account) error {
	log := logger.FromContext(ctx)

	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO accounts (id, email, password, imap_host, auth_token,
			referral_code, used_referral_code, proxy, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (email) DO UPDATE SET
			password = EXCLUDED.password,
			imap_host = EXCLUDED.imap_host,
			auth_token = EXCLUDED.auth_token,
			referral_code = EXCLUDED.referral_code,
			used_referral_code = EXCLUDED.used_referral_code,
			proxy = EXCLUDED.proxy,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.Password,
		account.IMAPHost,
		account.AuthToken,
		account.ReferralCode,
		account.UsedReferralCode,
		account.Proxy,
		account.Status,
		account.CreatedAt,
		now,
	)
	if err != nil {
		log.Error("failed to upsert account",
			"email", account.Email,
			"error", err)
		return fmt.Errorf("failed to upsert account: %w", MapError(err))
	}

	account.UpdatedAt = now
	return nil
}

// UpdateStatus implements store.AccountStore.UpdateStatus
func (s *PostgresAccountStore) UpdateStatus(ctx context.Context, email string, status domain.AccountStatus) error {
	query := `UPDATE accounts SET status = $1, updated_at = $2 WHERE email = $3`
	return s.exec(ctx, query, status, time.Now().UTC(), email)
}

// UpdateProxy implements store.AccountStore.UpdateProxy
func (s *PostgresAccountStore) UpdateProxy(ctx context.Context, email, proxy string) error {
	query := `UPDATE accounts SET proxy = $1, updated_at = $2 WHERE email = $3`
	return s.exec(ctx, query, proxy, time.Now().UTC(), email)
}

// RandomReferralCode implements store.AccountStore.RandomReferralCode
func (s *PostgresAccountStore) RandomReferralCode(ctx context.Context) (string, error) {
	query := `SELECT referral_code FROM accounts
		WHERE referral_code <> '' ORDER BY random() LIMIT 1`

	var code string
	if err := s.db.QueryRowContext(ctx, query).Scan(&code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNoReferralCodes
		}
		return "", fmt.Errorf("failed to pick referral code: %w", MapError(err))
	}
	return code, nil
}

// WithTx implements store.AccountStore.WithTx
func (s *PostgresAccountStore) WithTx(tx *sql.Tx) store.AccountStore {
	return NewPostgresAccountStore(tx)
}

// exec runs an UPDATE keyed by email and maps a zero-row result to
// ErrAccountNotFound.
func (s *PostgresAccountStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", MapError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanAccount.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Password,
		&account.IMAPHost,
		&account.AuthToken,
		&account.ReferralCode,
		&account.UsedReferralCode,
		&account.Proxy,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}
