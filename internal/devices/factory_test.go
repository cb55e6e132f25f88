package devices

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solazh/hivefarm/internal/domain"
)

func TestFactory_MakeDevice(t *testing.T) {
	factory := NewFactory()
	account := &domain.Account{ID: uuid.New(), Email: "a@x.com", Password: "pw", Status: domain.AccountStatusLoggedIn}

	device := factory.MakeDevice(account, "http://1.2.3.4:8080", 0)

	require.NoError(t, device.Validate())
	assert.Equal(t, account.ID, device.AccountID)
	assert.Equal(t, domain.DeviceStatusNew, device.Status)
	assert.Equal(t, "http://1.2.3.4:8080", device.Proxy)
	assert.NotEmpty(t, device.UserAgent)
	assert.NotEmpty(t, device.CPUModel)
	assert.Greater(t, device.CPUCount, 0)
}

func TestFactory_DeviceIDStable(t *testing.T) {
	factory := NewFactory()
	account := &domain.Account{ID: uuid.New(), Email: "a@x.com", Password: "pw", Status: domain.AccountStatusLoggedIn}

	d1 := factory.MakeDevice(account, "http://1.2.3.4:8080", 0)
	d2 := factory.MakeDevice(account, "http://1.2.3.4:8080", 0)
	d3 := factory.MakeDevice(account, "http://5.6.7.8:8080", 0)

	assert.Equal(t, d1.DeviceID, d2.DeviceID,
		"same account, proxy, and ordinal must produce the same device identity")
	assert.NotEqual(t, d1.DeviceID, d3.DeviceID,
		"different proxy produces a different device identity")
}

func TestFactory_DeviceIDDistinctOnSharedProxy(t *testing.T) {
	factory := NewFactory()
	account := &domain.Account{ID: uuid.New(), Email: "a@x.com", Password: "pw", Status: domain.AccountStatusLoggedIn}

	// No proxy at all is the common collision case: every device of the
	// account connects directly.
	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		device := factory.MakeDevice(account, "", i)
		assert.False(t, seen[device.DeviceID],
			"ordinal %d reused an existing device identity", i)
		seen[device.DeviceID] = true
	}
}

func TestFactory_ConcurrentMakeDevice(t *testing.T) {
	factory := NewFactory()
	account := &domain.Account{ID: uuid.New(), Email: "a@x.com", Password: "pw", Status: domain.AccountStatusLoggedIn}

	// Provisioning fans out across goroutines; sampling must stay safe under
	// the race detector.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(ordinal int) {
			defer wg.Done()
			device := factory.MakeDevice(account, "", ordinal)
			assert.NoError(t, device.Validate())
		}(i)
	}
	wg.Wait()
}
