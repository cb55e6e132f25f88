package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solazh/hivefarm/internal/devices"
	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/farmapi"
	"github.com/solazh/hivefarm/internal/proxy"
	"github.com/solazh/hivefarm/internal/retry"
	"github.com/solazh/hivefarm/internal/store"
)

func newTestFarmer(t *testing.T, accounts *fakeAccountStore, devStore *fakeDeviceStore, client farmapi.Client, proxies []string) (*Farmer, *proxyRecorder) {
	t.Helper()
	pool, err := proxy.NewPool(proxies, proxy.Options{FailureThreshold: 10})
	require.NoError(t, err)

	factory, rec := recordingFactory(client)
	farmer := NewFarmer(
		FarmerConfig{
			Policy:        retry.Policy{MaxAttempts: 3, Delay: time.Millisecond, RotationEnabled: true},
			DevicesMin:    2,
			DevicesMax:    2,
			SweepInterval: time.Millisecond,
		},
		accounts,
		devStore,
		fakeTxRunner,
		devices.NewFactory(),
		factory,
		pool,
		NewDeviceScheduler(10, 5, time.Second, testLogger()),
		testLogger(),
	)
	return farmer, rec
}

// fakeTxRunner executes the function without a real transaction; the fake
// stores ignore the nil *sql.Tx.
func fakeTxRunner(ctx context.Context, fn store.TxFn) error {
	return fn(ctx, nil)
}

func loggedInAccount(t *testing.T, accounts *fakeAccountStore, email string) *domain.Account {
	t.Helper()
	account := newTestAccount(email)
	account.AuthToken = "auth-token"
	account.Status = domain.AccountStatusLoggedIn
	require.NoError(t, accounts.Upsert(context.Background(), account))
	return account
}

// expiredJWT builds a token whose exp claim is already in the past.
func expiredJWT(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestFarmProvisionsDevicesAndPings(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()

	var pings int64
	client := &fakeClient{
		pingFn: func(_ context.Context, token string, _ *domain.Device) error {
			assert.Equal(t, "auth-token", token)
			atomic.AddInt64(&pings, 1)
			return nil
		},
	}
	farmer, _ := newTestFarmer(t, accounts, devStore, client, []string{"http://p1.example.com:8080"})
	account := loggedInAccount(t, accounts, "alice@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := farmer.Farm(ctx, account)
	require.NoError(t, err, "cancellation ends a farming run cleanly")

	assert.Equal(t, 2, devStore.count(), "fleet provisioned to the configured size")
	assert.GreaterOrEqual(t, atomic.LoadInt64(&pings), int64(2), "every device pinged at least once")
	assert.Equal(t, domain.AccountStatusFarming, accounts.status("alice@example.com"))
}

func TestFarmReschedulesDevicesAfterCycle(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()
	farmer, _ := newTestFarmer(t, accounts, devStore, &fakeClient{}, nil)
	account := loggedInAccount(t, accounts, "alice@example.com")

	fleet, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, fleet, 2)

	before := time.Now()
	require.NoError(t, farmer.cycleOnce(context.Background(), testLogger(), account, fleet))

	for _, device := range fleet {
		assert.False(t, device.PingDue(before.Add(time.Minute)), "ping pushed out past one minute")
		assert.True(t, device.PingDue(before.Add(3*time.Minute)), "ping due again after two minutes")
		assert.False(t, device.JobDue(before.Add(30*time.Second)))
		assert.True(t, device.JobDue(before.Add(2*time.Minute)))
	}
}

func TestFarmCompletesOfferedJobs(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()

	var completed int64
	client := &fakeClient{
		requestJobFn: func(_ context.Context, _ string, _ *domain.Device) (*farmapi.Job, error) {
			return &farmapi.Job{ID: "job-1", TargetURL: "https://target.example.com"}, nil
		},
		completeJobFn: func(_ context.Context, _ string, _ *domain.Device, jobID string, _ map[string]any) error {
			assert.Equal(t, "job-1", jobID)
			atomic.AddInt64(&completed, 1)
			return nil
		},
	}
	farmer, _ := newTestFarmer(t, accounts, devStore, client, nil)
	account := loggedInAccount(t, accounts, "alice@example.com")

	fleet, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, farmer.cycleOnce(context.Background(), testLogger(), account, fleet))

	assert.Equal(t, int64(2), atomic.LoadInt64(&completed))
}

func TestFarmRefreshesExpiredTokenBeforeCycle(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()

	var refreshed int64
	client := &fakeClient{
		refreshFn: func(_ context.Context, _ string) (string, error) {
			atomic.AddInt64(&refreshed, 1)
			return "fresh-token", nil
		},
		pingFn: func(_ context.Context, token string, _ *domain.Device) error {
			assert.Equal(t, "fresh-token", token, "cycle runs with the refreshed token")
			return nil
		},
	}
	farmer, _ := newTestFarmer(t, accounts, devStore, client, nil)

	account := loggedInAccount(t, accounts, "alice@example.com")
	account.AuthToken = expiredJWT(t)
	require.NoError(t, accounts.Upsert(context.Background(), account))

	fleet, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, farmer.cycleOnce(context.Background(), testLogger(), account, fleet))

	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshed))
	stored, err := accounts.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", stored.AuthToken, "refreshed token persisted")
}

func TestFarmReauthenticatesWhenAllDevicesRejectToken(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()

	var refreshed int64
	client := &fakeClient{
		pingFn: func(_ context.Context, token string, _ *domain.Device) error {
			if token == "auth-token" {
				return fmt.Errorf("%w: token rejected", domain.ErrAuth)
			}
			return nil
		},
		refreshFn: func(_ context.Context, _ string) (string, error) {
			atomic.AddInt64(&refreshed, 1)
			return "fresh-token", nil
		},
	}
	farmer, _ := newTestFarmer(t, accounts, devStore, client, nil)
	account := loggedInAccount(t, accounts, "alice@example.com")

	fleet, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, farmer.runCycle(context.Background(), testLogger(), account, fleet))

	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshed))
	assert.Equal(t, "fresh-token", account.AuthToken)
}

func TestFarmDeviceFailureDoesNotFailCycle(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()

	var calls int64
	client := &fakeClient{
		pingFn: func(_ context.Context, _ string, _ *domain.Device) error {
			if atomic.AddInt64(&calls, 1) == 1 {
				return fmt.Errorf("%w: proxy reset", domain.ErrConnection)
			}
			return nil
		},
	}
	farmer, _ := newTestFarmer(t, accounts, devStore, client, nil)
	account := loggedInAccount(t, accounts, "alice@example.com")

	fleet, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	err = farmer.cycleOnce(context.Background(), testLogger(), account, fleet)
	assert.NoError(t, err, "one failed device does not fail the cycle")
}

func TestFarmRejectsAccountWithoutToken(t *testing.T) {
	accounts := newFakeAccountStore()
	farmer, _ := newTestFarmer(t, accounts, newFakeDeviceStore(), &fakeClient{}, nil)

	err := farmer.Farm(context.Background(), newTestAccount("alice@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestFarmProvisionsFullFleetWithoutProxies(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()
	farmer, _ := newTestFarmer(t, accounts, devStore, &fakeClient{}, nil)
	account := loggedInAccount(t, accounts, "alice@example.com")

	// With no pool every device falls back to the same (empty) proxy; the
	// identities must stay distinct or upserts collapse the fleet.
	fleet, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, fleet, 2)

	assert.NotEqual(t, fleet[0].DeviceID, fleet[1].DeviceID,
		"devices sharing a proxy must not share an identity")
	assert.Equal(t, 2, devStore.count(), "every provisioned device persisted")
}

func TestFarmReusesPersistedDevices(t *testing.T) {
	accounts := newFakeAccountStore()
	devStore := newFakeDeviceStore()
	farmer, _ := newTestFarmer(t, accounts, devStore, &fakeClient{}, nil)
	account := loggedInAccount(t, accounts, "alice@example.com")

	first, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := farmer.ensureDevices(context.Background(), account)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Equal(t, 2, devStore.count(), "no extra devices created on reuse")
}
