package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	t.Run("creates account in status new", func(t *testing.T) {
		account, err := NewAccount("user@example.com", "secret", "")
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, account.ID)
		assert.Equal(t, "user@example.com", account.Email)
		assert.Equal(t, "secret", account.Password)
		assert.Equal(t, AccountStatusNew, account.Status)
		assert.Empty(t, account.AuthToken)
		assert.False(t, account.CreatedAt.IsZero())
	})

	t.Run("trims email and imap host", func(t *testing.T) {
		account, err := NewAccount("  user@example.com ", "secret", " imap.example.com ")
		require.NoError(t, err)

		assert.Equal(t, "user@example.com", account.Email)
		assert.Equal(t, "imap.example.com", account.IMAPHost)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		tests := []struct {
			name     string
			email    string
			password string
			wantErr  error
		}{
			{name: "empty email", email: "", password: "secret", wantErr: ErrEmptyEmail},
			{name: "missing at sign", email: "user.example.com", password: "secret", wantErr: ErrInvalidEmail},
			{name: "missing local part", email: "@example.com", password: "secret", wantErr: ErrInvalidEmail},
			{name: "missing domain", email: "user@", password: "secret", wantErr: ErrInvalidEmail},
			{name: "domain without dot", email: "user@localhost", password: "secret", wantErr: ErrInvalidEmail},
			{name: "embedded space", email: "us er@example.com", password: "secret", wantErr: ErrInvalidEmail},
			{name: "empty password", email: "user@example.com", password: "", wantErr: ErrEmptyPassword},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := NewAccount(tc.email, tc.password, "")
				assert.ErrorIs(t, err, tc.wantErr)
			})
		}
	})
}

func TestAccountValidate(t *testing.T) {
	valid := func() *Account {
		return &Account{
			ID:       uuid.New(),
			Email:    "user@example.com",
			Password: "secret",
			Status:   AccountStatusNew,
		}
	}

	t.Run("accepts valid account", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects nil ID", func(t *testing.T) {
		a := valid()
		a.ID = uuid.Nil
		assert.ErrorIs(t, a.Validate(), ErrEmptyAccountID)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		a := valid()
		a.Status = AccountStatus("banned")
		assert.ErrorIs(t, a.Validate(), ErrInvalidStatus)
	})
}

func TestAccountLoggedIn(t *testing.T) {
	a := &Account{Email: "user@example.com"}
	assert.False(t, a.LoggedIn())

	a.AuthToken = "token"
	assert.True(t, a.LoggedIn())
}

func TestAccountEmailDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{email: "user@example.com", want: "example.com"},
		{email: "user@sub.example.com", want: "sub.example.com"},
		{email: `"odd@local"@example.com`, want: "example.com"},
		{email: "no-at-sign", want: ""},
		{email: "trailing@", want: ""},
		{email: "", want: ""},
	}

	for _, tc := range tests {
		a := &Account{Email: tc.email}
		assert.Equal(t, tc.want, a.EmailDomain(), "email %q", tc.email)
	}
}
