package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors
var (
	ErrEmptyAccountID = errors.New("account ID cannot be empty")
	ErrEmptyEmail     = errors.New("email cannot be empty")
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrEmptyPassword  = errors.New("password cannot be empty")
	ErrInvalidStatus  = errors.New("invalid account status")
)

// AccountStatus represents where an account is in its lifecycle.
type AccountStatus string

// Possible account status values. An account moves forward through these as
// registration and login succeed; Failed is terminal for a single run but a
// later run may retry the account.
const (
	AccountStatusNew        AccountStatus = "new"
	AccountStatusRegistered AccountStatus = "registered"
	AccountStatusVerified   AccountStatus = "verified"
	AccountStatusLoggedIn   AccountStatus = "logged_in"
	AccountStatusFarming    AccountStatus = "farming"
	AccountStatusFailed     AccountStatus = "failed"
)

// validAccountStatuses is used by Validate to reject unknown statuses.
var validAccountStatuses = map[AccountStatus]bool{
	AccountStatusNew:        true,
	AccountStatusRegistered: true,
	AccountStatusVerified:   true,
	AccountStatusLoggedIn:   true,
	AccountStatusFarming:    true,
	AccountStatusFailed:     true,
}

// Account represents one managed service account: the identity it registers
// with, the credentials needed to read its verification mail, and the state
// accumulated by successful registration and farming steps.
//
// Every state transition is persisted so that a restart resumes rather than
// repeats completed work.
type Account struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"-"` // mailbox password, needed verbatim for IMAP login

	// IMAPHost is the fixed mail host for this account, if one was given in
	// the input file. Empty means "resolve from the configured domain map".
	IMAPHost string `json:"imap_host,omitempty"`

	// AuthToken is set after a successful login and empty before it.
	AuthToken string `json:"-"`

	// ReferralCode is the code this account owns, returned by the server
	// after registration. UsedReferralCode is the code it signed up with.
	ReferralCode     string `json:"referral_code,omitempty"`
	UsedReferralCode string `json:"used_referral_code,omitempty"`

	// Proxy is the sticky proxy assignment for this account, persisted so
	// later runs reuse the same exit address.
	Proxy string `json:"proxy,omitempty"`

	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewAccount creates an Account in status "new" from input-file fields.
// Returns an error if validation fails.
func NewAccount(email, password, imapHost string) (*Account, error) {
	account := &Account{
		ID:        uuid.New(),
		Email:     strings.TrimSpace(email),
		Password:  password,
		IMAPHost:  strings.TrimSpace(imapHost),
		Status:    AccountStatusNew,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := account.Validate(); err != nil {
		return nil, err
	}

	return account, nil
}

// Validate checks that the Account carries usable data.
func (a *Account) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyAccountID
	}
	if a.Email == "" {
		return ErrEmptyEmail
	}
	if !validEmailFormat(a.Email) {
		return ErrInvalidEmail
	}
	if a.Password == "" {
		return ErrEmptyPassword
	}
	if !validAccountStatuses[a.Status] {
		return ErrInvalidStatus
	}
	return nil
}

// LoggedIn reports whether the account holds an auth token and is therefore
// eligible for farming.
func (a *Account) LoggedIn() bool {
	return a.AuthToken != ""
}

// EmailDomain returns the part of the email after '@', or "" if the email is
// malformed.
func (a *Account) EmailDomain() string {
	at := strings.LastIndex(a.Email, "@")
	if at < 0 || at == len(a.Email)-1 {
		return ""
	}
	return a.Email[at+1:]
}

// validEmailFormat performs a minimal structural check: one '@' with
// non-empty local part and a domain containing a dot.
func validEmailFormat(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t")
}
