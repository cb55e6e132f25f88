package engine

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/farmapi"
	"github.com/solazh/hivefarm/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAccountStore is an in-memory AccountStore keyed by email.
type fakeAccountStore struct {
	mu         sync.Mutex
	accounts   map[string]*domain.Account
	upserts    int
	randomCode string
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]*domain.Account)}
}

func (s *fakeAccountStore) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[email]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *fakeAccountStore) ListLoggedIn(_ context.Context) ([]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Account
	for _, account := range s.accounts {
		if account.LoggedIn() {
			copied := *account
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeAccountStore) Upsert(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	copied := *account
	s.accounts[account.Email] = &copied
	return nil
}

func (s *fakeAccountStore) UpdateStatus(_ context.Context, email string, status domain.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[email]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Status = status
	return nil
}

func (s *fakeAccountStore) UpdateProxy(_ context.Context, email, proxy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[email]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Proxy = proxy
	return nil
}

func (s *fakeAccountStore) RandomReferralCode(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.randomCode == "" {
		return "", store.ErrNoReferralCodes
	}
	return s.randomCode, nil
}

func (s *fakeAccountStore) WithTx(_ *sql.Tx) store.AccountStore { return s }

func (s *fakeAccountStore) status(email string) domain.AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[email]; ok {
		return account.Status
	}
	return ""
}

// fakeDeviceStore is an in-memory DeviceStore keyed by DeviceID.
type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*domain.Device
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*domain.Device)}
}

func (s *fakeDeviceStore) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Device
	for _, device := range s.devices {
		if device.AccountID != accountID {
			continue
		}
		copied := *device
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeDeviceStore) Upsert(_ context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *device
	s.devices[device.DeviceID] = &copied
	return nil
}

func (s *fakeDeviceStore) UpdateSchedule(_ context.Context, deviceID string, nextPing, nextJob time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return store.ErrDeviceNotFound
	}
	device.NextPingAt = nextPing
	device.NextJobAt = nextJob
	return nil
}

func (s *fakeDeviceStore) UpdateProxy(_ context.Context, deviceID, proxy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return store.ErrDeviceNotFound
	}
	device.Proxy = proxy
	return nil
}

func (s *fakeDeviceStore) UpdateStatus(_ context.Context, deviceID string, status domain.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return store.ErrDeviceNotFound
	}
	device.Status = status
	return nil
}

func (s *fakeDeviceStore) WithTx(_ *sql.Tx) store.DeviceStore { return s }

func (s *fakeDeviceStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// fakeClient implements farmapi.Client via optional hooks; nil hooks succeed
// with zero-effort defaults.
type fakeClient struct {
	registerFn     func(ctx context.Context, email string) error
	verifyFn       func(ctx context.Context, code string) (string, error)
	loginFn        func(ctx context.Context, session string) (farmapi.LoginResult, error)
	completeFn     func(ctx context.Context, token, referral string) error
	ownReferralFn  func(ctx context.Context, token string) (string, error)
	refreshFn      func(ctx context.Context, token string) (string, error)
	pingFn         func(ctx context.Context, token string, device *domain.Device) error
	requestJobFn   func(ctx context.Context, token string, device *domain.Device) (*farmapi.Job, error)
	completeJobFn  func(ctx context.Context, token string, device *domain.Device, jobID string, result map[string]any) error
}

func (c *fakeClient) Register(ctx context.Context, email string) error {
	if c.registerFn != nil {
		return c.registerFn(ctx, email)
	}
	return nil
}

func (c *fakeClient) Verify(ctx context.Context, code string) (string, error) {
	if c.verifyFn != nil {
		return c.verifyFn(ctx, code)
	}
	return "session-token", nil
}

func (c *fakeClient) Login(ctx context.Context, session string) (farmapi.LoginResult, error) {
	if c.loginFn != nil {
		return c.loginFn(ctx, session)
	}
	return farmapi.LoginResult{Token: "auth-token", SignupRequired: true}, nil
}

func (c *fakeClient) CompleteSignUp(ctx context.Context, token, referral string) error {
	if c.completeFn != nil {
		return c.completeFn(ctx, token, referral)
	}
	return nil
}

func (c *fakeClient) OwnReferralCode(ctx context.Context, token string) (string, error) {
	if c.ownReferralFn != nil {
		return c.ownReferralFn(ctx, token)
	}
	return "own-code", nil
}

func (c *fakeClient) RefreshToken(ctx context.Context, token string) (string, error) {
	if c.refreshFn != nil {
		return c.refreshFn(ctx, token)
	}
	return "refreshed-token", nil
}

func (c *fakeClient) Ping(ctx context.Context, token string, device *domain.Device) error {
	if c.pingFn != nil {
		return c.pingFn(ctx, token, device)
	}
	return nil
}

func (c *fakeClient) RequestJob(ctx context.Context, token string, device *domain.Device) (*farmapi.Job, error) {
	if c.requestJobFn != nil {
		return c.requestJobFn(ctx, token, device)
	}
	return nil, nil
}

func (c *fakeClient) CompleteJob(ctx context.Context, token string, device *domain.Device, jobID string, result map[string]any) error {
	if c.completeJobFn != nil {
		return c.completeJobFn(ctx, token, device, jobID, result)
	}
	return nil
}

// recordingFactory returns a farmapi.Factory handing out client and recording
// the proxy URL of every build.
func recordingFactory(client farmapi.Client) (farmapi.Factory, *proxyRecorder) {
	rec := &proxyRecorder{}
	return func(proxyURL string) (farmapi.Client, error) {
		rec.add(proxyURL)
		return client, nil
	}, rec
}

type proxyRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (r *proxyRecorder) add(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, u)
}

func (r *proxyRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

// fakeVerifier returns a fixed code or error.
type fakeVerifier struct {
	code string
	err  error

	// block makes FetchVerificationCode wait for ctx to expire.
	block bool
}

func (v *fakeVerifier) FetchVerificationCode(ctx context.Context, _ *domain.Account, _ string, _ string) (string, error) {
	if v.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if v.err != nil {
		return "", v.err
	}
	return v.code, nil
}

func newTestAccount(email string) *domain.Account {
	account, err := domain.NewAccount(email, "password", "")
	if err != nil {
		panic(err)
	}
	return account
}
