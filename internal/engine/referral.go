package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/solazh/hivefarm/internal/config"
	"github.com/solazh/hivefarm/internal/store"
)

// referralPlaceholder is the value shipped in the sample config; treating it
// as "no code" stops copy-paste configs from burning signups on a bogus code.
const referralPlaceholder = "invite_code"

// ReferralCodeSource yields the referral code a new signup should apply.
// The strategy is fixed at startup; Pick is called once per account.
type ReferralCodeSource interface {
	// Pick returns the code to use, or "" when signups should proceed
	// without one.
	Pick(ctx context.Context) (string, error)
}

// NewReferralCodeSource selects the configured strategy: a static code from
// config, or a code drawn at random from already-registered accounts.
func NewReferralCodeSource(cfg config.ReferralConfig, accounts store.AccountStore) ReferralCodeSource {
	if cfg.UseRandomFromDB {
		return &StoreReferralSource{accounts: accounts}
	}
	return &StaticReferralSource{code: cfg.StaticReferralCode}
}

// StaticReferralSource always returns the same configured code.
type StaticReferralSource struct {
	code string
}

// Pick implements ReferralCodeSource.
func (s *StaticReferralSource) Pick(_ context.Context) (string, error) {
	code := strings.TrimSpace(s.code)
	if code == "" || strings.EqualFold(code, referralPlaceholder) {
		return "", nil
	}
	return code, nil
}

// StoreReferralSource draws a referral code at random from accounts that
// already completed registration, spreading referrals across the fleet.
type StoreReferralSource struct {
	accounts store.AccountStore
}

// Pick implements ReferralCodeSource. An empty store is not an error: the
// first accounts of a fresh run simply sign up without a code.
func (s *StoreReferralSource) Pick(ctx context.Context) (string, error) {
	code, err := s.accounts.RandomReferralCode(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoReferralCodes) {
			return "", nil
		}
		return "", fmt.Errorf("failed to pick referral code: %w", err)
	}
	return code, nil
}
