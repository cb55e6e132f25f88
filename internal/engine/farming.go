package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solazh/hivefarm/internal/devices"
	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/farmapi"
	"github.com/solazh/hivefarm/internal/proxy"
	"github.com/solazh/hivefarm/internal/retry"
	"github.com/solazh/hivefarm/internal/store"
)

// Scheduling intervals after a successful device action: pings land every two
// minutes, job requests every minute.
const (
	pingInterval = 2 * time.Minute
	jobInterval  = 1 * time.Minute
)

// tokenExpirySkew is how close to expiry a token may get before the cycle
// refreshes it preemptively.
const tokenExpirySkew = 30 * time.Second

// devicePrepConcurrency bounds the parallel device provisioning fan-out per
// account.
const devicePrepConcurrency = 4

// FarmerConfig collects the tunables for the farming task.
type FarmerConfig struct {
	Policy retry.Policy

	// DevicesMin/Max bound how many active devices each account keeps; the
	// target is drawn uniformly from the range once per run.
	DevicesMin int
	DevicesMax int

	// StartDelayMin/Max bound the random stagger before each account's run.
	StartDelayMin time.Duration
	StartDelayMax time.Duration

	// SweepInterval is the pause between scheduler passes while no device is
	// due.
	SweepInterval time.Duration
}

// Farmer keeps one logged-in account earning: it provisions the account's
// device fleet, then loops scheduler cycles over whichever devices are due
// until the context is cancelled. Account-level failures go through the retry
// policy, with re-authentication for expired tokens and proxy rotation for
// connection failures.
type Farmer struct {
	cfg       FarmerConfig
	accounts  store.AccountStore
	devStore  store.DeviceStore
	runTx     store.TxRunner
	factory   *devices.Factory
	clients   farmapi.Factory
	pool      *proxy.Pool
	scheduler *DeviceScheduler
	logger    *slog.Logger
}

// NewFarmer wires the farming task's collaborators.
func NewFarmer(
	cfg FarmerConfig,
	accounts store.AccountStore,
	devStore store.DeviceStore,
	runTx store.TxRunner,
	factory *devices.Factory,
	clients farmapi.Factory,
	pool *proxy.Pool,
	scheduler *DeviceScheduler,
	logger *slog.Logger,
) *Farmer {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Farmer{
		cfg:       cfg,
		accounts:  accounts,
		devStore:  devStore,
		runTx:     runTx,
		factory:   factory,
		clients:   clients,
		pool:      pool,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Farm runs the account until ctx is cancelled. Cancellation is the normal
// way a farming run ends and returns nil; a non-nil error means the account
// terminally failed and was marked as such.
func (f *Farmer) Farm(ctx context.Context, account *domain.Account) error {
	logger := f.logger.With("email", account.Email)

	if !account.LoggedIn() {
		return fmt.Errorf("%w: account has no auth token", domain.ErrAuth)
	}

	if err := sleepJitter(ctx, f.cfg.StartDelayMin, f.cfg.StartDelayMax); err != nil {
		return nil
	}

	if err := f.ensureProxy(ctx, account); err != nil {
		return err
	}

	fleet, err := f.ensureDevices(ctx, account)
	if err != nil {
		if !domain.Classify(err).Retriable() {
			f.markFailed(ctx, logger, account)
			return err
		}
		return err
	}
	logger.Info("farming started", "devices", len(fleet), "proxy", account.Proxy)

	f.updateStatus(ctx, logger, account, domain.AccountStatusFarming)

	for {
		select {
		case <-ctx.Done():
			logger.Info("farming stopped")
			return nil
		default:
		}

		if err := f.runCycle(ctx, logger, account, fleet); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.markFailed(ctx, logger, account)
			return err
		}

		if err := sleepFor(ctx, f.cfg.SweepInterval); err != nil {
			return nil
		}
	}
}

// runCycle retries cycleOnce under the policy. Auth failures trigger a token
// refresh instead of burning the proxy; connection failures rotate the
// account's sticky proxy.
func (f *Farmer) runCycle(ctx context.Context, logger *slog.Logger, account *domain.Account, fleet []*domain.Device) error {
	for attempt := 1; ; attempt++ {
		err := f.cycleOnce(ctx, logger, account, fleet)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		kind := domain.Classify(err)
		if kind == domain.FailureAuth {
			if rerr := f.reauthenticate(ctx, logger, account); rerr == nil {
				continue
			}
		}

		action := f.cfg.Policy.Decide(attempt, kind)
		logger.Warn("farming cycle failed",
			"attempt", attempt,
			"failure_kind", kind.String(),
			"action", action.String(),
			"error", err)

		switch action {
		case retry.Abandon:
			return err
		case retry.RotateProxy:
			f.rotateAccountProxy(ctx, logger, account)
		}

		if werr := f.cfg.Policy.Wait(ctx); werr != nil {
			return err
		}
	}
}

// cycleOnce runs a single scheduler pass over the devices that are currently
// due. An expired token is refreshed up front; per-device failures stay
// isolated unless every device failed with an auth error, which surfaces as
// an account-level auth failure.
func (f *Farmer) cycleOnce(ctx context.Context, logger *slog.Logger, account *domain.Account, fleet []*domain.Device) error {
	if farmapi.TokenExpired(account.AuthToken, tokenExpirySkew) {
		if err := f.reauthenticate(ctx, logger, account); err != nil {
			return err
		}
	}

	now := time.Now()
	due := make([]*domain.Device, 0, len(fleet))
	for _, device := range fleet {
		if device.Due(now) {
			due = append(due, device)
		}
	}
	if len(due) == 0 {
		return nil
	}

	result := f.scheduler.RunCycle(ctx, due, func(dctx context.Context, device *domain.Device) error {
		return f.farmDevice(dctx, account, device)
	})

	logger.Debug("cycle finished",
		"due", len(due),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"timed_out", result.TimedOut,
		"skipped", result.Skipped)

	// All-auth failure means the token is bad for every device: handle it at
	// the account level so runCycle refreshes once instead of each device
	// retrying into the same wall.
	if result.Succeeded == 0 && result.Failed > 0 && allAuthFailures(result.Errors) {
		return fmt.Errorf("%w: all devices rejected the token", domain.ErrAuth)
	}
	return nil
}

// farmDevice performs the due actions for one device: a ping when the ping is
// due, a job request (and completion) when a job is due, then persists the
// next due times.
func (f *Farmer) farmDevice(ctx context.Context, account *domain.Account, device *domain.Device) error {
	purl := device.Proxy
	if purl == "" {
		purl = account.Proxy
	}

	client, err := f.clients(purl)
	if err != nil {
		return fmt.Errorf("%w: building API client: %v", domain.ErrConfiguration, err)
	}

	now := time.Now()
	nextPing := device.NextPingAt
	nextJob := device.NextJobAt

	if device.PingDue(now) {
		if err := client.Ping(ctx, account.AuthToken, device); err != nil {
			f.markDeviceError(ctx, device)
			return err
		}
		nextPing = now.Add(pingInterval)
	}

	if device.JobDue(now) {
		job, err := client.RequestJob(ctx, account.AuthToken, device)
		if err != nil {
			f.markDeviceError(ctx, device)
			return err
		}
		if job != nil {
			result := map[string]any{
				"job_id":    job.ID,
				"completed": true,
			}
			if err := client.CompleteJob(ctx, account.AuthToken, device, job.ID, result); err != nil {
				f.markDeviceError(ctx, device)
				return err
			}
		}
		nextJob = now.Add(jobInterval)
	}

	// Schedule and status land together or not at all; a half-written device
	// would otherwise ping on one cadence and report another state.
	err = f.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ds := f.devStore.WithTx(tx)
		if err := ds.UpdateSchedule(ctx, device.DeviceID, nextPing, nextJob); err != nil {
			return err
		}
		if device.Status != domain.DeviceStatusFarming {
			return ds.UpdateStatus(ctx, device.DeviceID, domain.DeviceStatusFarming)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist device state: %w", err)
	}

	device.NextPingAt = nextPing
	device.NextJobAt = nextJob
	device.Status = domain.DeviceStatusFarming
	return nil
}

// ensureDevices brings the account's fleet up to a target size drawn from the
// configured range, reusing persisted devices first and provisioning the rest
// in parallel.
func (f *Farmer) ensureDevices(ctx context.Context, account *domain.Account) ([]*domain.Device, error) {
	target := f.cfg.DevicesMin
	if span := f.cfg.DevicesMax - f.cfg.DevicesMin; span > 0 {
		// Top-level rand is goroutine-safe; Farm runs on concurrent workers.
		target += rand.Intn(span + 1)
	}
	if target < 1 {
		target = 1
	}

	fleet, err := f.devStore.ListByAccount(ctx, account.ID, f.cfg.DevicesMax)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(fleet) >= target {
		return fleet, nil
	}

	missing := target - len(fleet)
	created := make([]*domain.Device, missing)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(devicePrepConcurrency)
	for i := 0; i < missing; i++ {
		i := i
		ordinal := len(fleet) + i
		g.Go(func() error {
			purl := account.Proxy
			if pr := f.pool.Acquire(); pr != nil {
				purl = pr.URL()
				// The assignment is the device's from here on; the pool
				// slot frees up for other tasks.
				f.pool.Release(pr, false)
			}
			// The fleet ordinal keeps identities distinct even when every
			// device falls back to the same proxy.
			device := f.factory.MakeDevice(account, purl, ordinal)
			if err := f.devStore.Upsert(gctx, device); err != nil {
				return fmt.Errorf("failed to persist device: %w", err)
			}
			created[i] = device
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append(fleet, created...), nil
}

// ensureProxy gives the account a sticky proxy if it has none yet.
func (f *Farmer) ensureProxy(ctx context.Context, account *domain.Account) error {
	if account.Proxy != "" || f.pool.Len() == 0 {
		return nil
	}
	pr := f.pool.Acquire()
	if pr == nil {
		return nil
	}
	account.Proxy = pr.URL()
	f.pool.Release(pr, false)
	if err := f.accounts.UpdateProxy(ctx, account.Email, account.Proxy); err != nil {
		return fmt.Errorf("failed to persist account proxy: %w", err)
	}
	return nil
}

// reauthenticate refreshes the account's token and persists it.
func (f *Farmer) reauthenticate(ctx context.Context, logger *slog.Logger, account *domain.Account) error {
	client, err := f.clients(account.Proxy)
	if err != nil {
		return fmt.Errorf("%w: building API client: %v", domain.ErrConfiguration, err)
	}

	token, err := client.RefreshToken(ctx, account.AuthToken)
	if err != nil {
		logger.Warn("token refresh failed", "error", err)
		return err
	}

	account.AuthToken = token
	account.UpdatedAt = time.Now().UTC()
	if err := f.accounts.Upsert(ctx, account); err != nil {
		return fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	logger.Info("token refreshed")
	return nil
}

// rotateAccountProxy swaps the account's sticky proxy for the next pool entry
// and persists the new assignment.
func (f *Farmer) rotateAccountProxy(ctx context.Context, logger *slog.Logger, account *domain.Account) {
	pr := f.pool.Acquire()
	if pr == nil {
		return
	}
	old := account.Proxy
	account.Proxy = pr.URL()
	f.pool.Release(pr, false)

	if err := f.accounts.UpdateProxy(ctx, account.Email, account.Proxy); err != nil {
		logger.Error("failed to persist rotated proxy", "error", err)
	}
	logger.Info("rotated account proxy", "old_proxy", old, "new_proxy", account.Proxy)
}

func (f *Farmer) markDeviceError(ctx context.Context, device *domain.Device) {
	device.Status = domain.DeviceStatusError
	// Best-effort; the action error is what the scheduler records.
	_ = f.devStore.UpdateStatus(ctx, device.DeviceID, domain.DeviceStatusError)
}

func (f *Farmer) markFailed(ctx context.Context, logger *slog.Logger, account *domain.Account) {
	if err := f.accounts.UpdateStatus(ctx, account.Email, domain.AccountStatusFailed); err != nil {
		logger.Error("failed to persist failed status", "error", err)
	}
}

func (f *Farmer) updateStatus(ctx context.Context, logger *slog.Logger, account *domain.Account, status domain.AccountStatus) {
	account.Status = status
	if err := f.accounts.UpdateStatus(ctx, account.Email, status); err != nil {
		logger.Error("failed to persist status", "status", string(status), "error", err)
	}
}

// allAuthFailures reports whether every recorded device error classifies as
// an auth failure.
func allAuthFailures(errs map[string]error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !errors.Is(err, domain.ErrAuth) {
			return false
		}
	}
	return true
}

// sleepFor blocks for d or until ctx is cancelled.
func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
