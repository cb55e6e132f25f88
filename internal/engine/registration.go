package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/farmapi"
	"github.com/solazh/hivefarm/internal/mailcheck"
	"github.com/solazh/hivefarm/internal/proxy"
	"github.com/solazh/hivefarm/internal/retry"
	"github.com/solazh/hivefarm/internal/store"
)

// RegistrarConfig collects the tunables for the registration task.
type RegistrarConfig struct {
	Policy retry.Policy

	// StartDelayMin/Max bound the random stagger before each account's first
	// attempt.
	StartDelayMin time.Duration
	StartDelayMax time.Duration

	// VerificationTimeout bounds the wait for the emailed code.
	VerificationTimeout time.Duration

	// UseProxyForIMAP routes the mailbox fetch through the same proxy as the
	// API attempt.
	UseProxyForIMAP bool
}

// Registrar executes the registration state machine for one account at a
// time: register, fetch the emailed code, verify, log in, complete signup
// with a referral code, and persist the resulting session.
type Registrar struct {
	cfg       RegistrarConfig
	accounts  store.AccountStore
	clients   farmapi.Factory
	verifier  mailcheck.Verifier
	resolver  *mailcheck.HostResolver
	referrals ReferralCodeSource
	pool      *proxy.Pool
	logger    *slog.Logger
}

// NewRegistrar wires the registration task's collaborators.
func NewRegistrar(
	cfg RegistrarConfig,
	accounts store.AccountStore,
	clients farmapi.Factory,
	verifier mailcheck.Verifier,
	resolver *mailcheck.HostResolver,
	referrals ReferralCodeSource,
	pool *proxy.Pool,
	logger *slog.Logger,
) *Registrar {
	return &Registrar{
		cfg:       cfg,
		accounts:  accounts,
		clients:   clients,
		verifier:  verifier,
		resolver:  resolver,
		referrals: referrals,
		pool:      pool,
		logger:    logger,
	}
}

// Register runs the full registration flow for one account. It retries under
// the policy on the current proxy and, when attempts on a proxy are
// exhausted, rotates to the next proxy with a fresh attempt counter, until
// the pool itself is exhausted. Terminal failures persist status "failed" and
// return the causing error.
func (r *Registrar) Register(ctx context.Context, account *domain.Account) error {
	logger := r.logger.With("email", account.Email)

	// A previous run may have finished this account already.
	existing, err := r.accounts.GetByEmail(ctx, account.Email)
	switch {
	case err == nil && existing.LoggedIn():
		logger.Info("account already registered, skipping")
		return nil
	case err != nil && !errors.Is(err, store.ErrAccountNotFound):
		return fmt.Errorf("failed to check existing account: %w", err)
	}

	if err := sleepJitter(ctx, r.cfg.StartDelayMin, r.cfg.StartDelayMax); err != nil {
		return err
	}

	referral, err := r.referrals.Pick(ctx)
	if err != nil {
		return err
	}
	if referral != "" {
		logger.Debug("signing up with referral code", "referral_code", referral)
	}

	current := r.pool.Acquire()
	if current != nil {
		logger.Debug("assigned proxy", "proxy", current.Addr())
	}

	// Each element of the outer loop is one proxy's worth of attempts; its
	// bound is the pool size so a full rotation through dead proxies
	// terminates. With no proxies at all we get a single direct-connection
	// pass.
	maxRotations := r.pool.Len()
	if maxRotations == 0 {
		maxRotations = 1
	}

	var lastErr error
	for rotation := 0; rotation < maxRotations; rotation++ {
		current, lastErr = r.attemptsOnProxy(ctx, logger, account, current, referral)
		if lastErr == nil {
			r.pool.Release(current, false)
			return nil
		}
		if ctx.Err() != nil {
			r.pool.Release(current, true)
			return lastErr
		}

		kind := domain.Classify(lastErr)
		if !kind.Retriable() {
			break
		}

		next := r.pool.Rotate(current)
		if next == nil {
			// Rotate already counted the failure and released current;
			// nothing is left to give back.
			current = nil
			break
		}
		if next == current {
			// Sole usable proxy; its failure is already counted, so give it
			// back clean.
			r.pool.Release(current, false)
			current = nil
			break
		}
		logger.Warn("proxy exhausted its attempts, rotating",
			"old_proxy", proxyAddr(current),
			"new_proxy", next.Addr(),
			"failure_kind", kind.String())
		current = next
	}

	r.pool.Release(current, true)
	r.markFailed(ctx, logger, account)
	return lastErr
}

// attemptsOnProxy drives the inner retry loop on a single proxy assignment,
// consulting the policy after each failure. RotateProxy decisions swap the
// proxy mid-loop without resetting the attempt counter; Abandon hands the
// last error back to the outer rotation loop. The returned proxy is whichever
// one the loop ended on.
func (r *Registrar) attemptsOnProxy(ctx context.Context, logger *slog.Logger, account *domain.Account, current *proxy.Proxy, referral string) (*proxy.Proxy, error) {
	for attempt := 1; ; attempt++ {
		err := r.attempt(ctx, account, proxyURL(current), referral)
		if err == nil {
			logger.Info("registration complete", "attempts", attempt)
			return current, nil
		}
		if ctx.Err() != nil {
			return current, err
		}

		kind := domain.Classify(err)
		action := r.cfg.Policy.Decide(attempt, kind)
		logger.Warn("registration attempt failed",
			"attempt", attempt,
			"failure_kind", kind.String(),
			"action", action.String(),
			"error", err)

		switch action {
		case retry.Abandon:
			return current, err
		case retry.RotateProxy:
			if next := r.pool.Rotate(current); next != nil {
				logger.Debug("rotated proxy",
					"old_proxy", proxyAddr(current),
					"new_proxy", next.Addr())
				current = next
			}
		}

		if werr := r.cfg.Policy.Wait(ctx); werr != nil {
			return current, err
		}
	}
}

// attempt runs the state machine once, end to end, over one proxy. Every
// collaborator error is returned as-is so classification sees the original
// sentinel.
func (r *Registrar) attempt(ctx context.Context, account *domain.Account, proxyURL, referral string) error {
	host, err := r.resolver.Resolve(account)
	if err != nil {
		return err
	}

	client, err := r.clients(proxyURL)
	if err != nil {
		return fmt.Errorf("%w: building API client: %v", domain.ErrConfiguration, err)
	}

	if err := client.Register(ctx, account.Email); err != nil {
		return err
	}

	imapProxy := ""
	if r.cfg.UseProxyForIMAP {
		imapProxy = proxyURL
	}
	vctx, cancel := context.WithTimeout(ctx, r.cfg.VerificationTimeout)
	code, err := r.verifier.FetchVerificationCode(vctx, account, host, imapProxy)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", domain.ErrVerificationTimeout, err)
		}
		return err
	}

	session, err := client.Verify(ctx, code)
	if err != nil {
		return err
	}

	login, err := client.Login(ctx, session)
	if err != nil {
		return err
	}

	if login.SignupRequired {
		if err := client.CompleteSignUp(ctx, login.Token, referral); err != nil {
			return err
		}
	}

	own, err := client.OwnReferralCode(ctx, login.Token)
	if err != nil {
		return err
	}

	account.AuthToken = login.Token
	account.ReferralCode = own
	account.UsedReferralCode = referral
	account.Proxy = proxyURL
	account.Status = domain.AccountStatusLoggedIn
	account.UpdatedAt = time.Now().UTC()

	if err := r.accounts.Upsert(ctx, account); err != nil {
		return fmt.Errorf("failed to persist registered account: %w", err)
	}
	return nil
}

// markFailed records the terminal outcome; best-effort, the causing error
// is what the caller reports.
func (r *Registrar) markFailed(ctx context.Context, logger *slog.Logger, account *domain.Account) {
	account.Status = domain.AccountStatusFailed
	account.UpdatedAt = time.Now().UTC()
	if err := r.accounts.Upsert(ctx, account); err != nil {
		logger.Error("failed to persist failed status", "error", err)
	}
}

// proxyURL returns the URI for a possibly-nil proxy.
func proxyURL(p *proxy.Proxy) string {
	if p == nil {
		return ""
	}
	return p.URL()
}

// proxyAddr returns the loggable address for a possibly-nil proxy.
func proxyAddr(p *proxy.Proxy) string {
	if p == nil {
		return "direct"
	}
	return p.Addr()
}
