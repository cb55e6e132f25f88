// Package devices generates device fingerprints for accounts that need more
// simulated clients. Fingerprints are sampled from fixed desktop profiles;
// the device identifier is derived deterministically from the account and
// proxy so re-creating a device after a crash yields the same identity.
package devices

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/solazh/hivefarm/internal/domain"
)

// desktopUserAgents are the browser identities devices present.
var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// cpuProfiles pair a CPU model with its core count and host OS.
var cpuProfiles = []struct {
	model string
	cores int
	os    string
}{
	{"Intel(R) Core(TM) i5-10400F CPU @ 2.90GHz", 12, "Windows 10"},
	{"Intel(R) Core(TM) i7-9700K CPU @ 3.60GHz", 8, "Windows 10"},
	{"AMD Ryzen 5 5600X 6-Core Processor", 12, "Windows 11"},
	{"AMD Ryzen 7 5800X 8-Core Processor", 16, "Windows 11"},
	{"Apple M1", 8, "macOS 14"},
	{"Intel(R) Core(TM) i5-8250U CPU @ 1.60GHz", 8, "Ubuntu 22.04"},
}

const cpuArchitecture = "x86_64"

// Factory builds devices for accounts. Fingerprint sampling goes through the
// top-level math/rand functions, whose shared source is safe for the
// concurrent provisioning goroutines.
type Factory struct{}

// NewFactory returns a device factory.
func NewFactory() *Factory {
	return &Factory{}
}

// MakeDevice creates a new device for the account, bound to proxyURL (which
// may be empty) and distinguished by ordinal within the account's fleet. The
// device starts in status "new"; callers persist it and promote it to
// "active" once the first ping succeeds.
func (f *Factory) MakeDevice(account *domain.Account, proxyURL string, ordinal int) *domain.Device {
	profile := cpuProfiles[rand.Intn(len(cpuProfiles))]
	ua := desktopUserAgents[rand.Intn(len(desktopUserAgents))]

	// Stable across re-creation for the same account+proxy+ordinal triple.
	// The ordinal keeps devices distinct when they share a proxy, which all
	// of them do when no pool is configured.
	deviceID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s|%s|%d", account.Email, proxyURL, ordinal))).String()

	now := time.Now().UTC()
	return &domain.Device{
		ID:              uuid.New(),
		DeviceID:        deviceID,
		AccountID:       account.ID,
		UserAgent:       ua,
		CPUArchitecture: cpuArchitecture,
		CPUModel:        profile.model,
		CPUCount:        profile.cores,
		OS:              profile.os,
		Proxy:           proxyURL,
		Status:          domain.DeviceStatusNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
