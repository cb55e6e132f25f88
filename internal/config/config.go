package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database" validate:"required"`
	API          APIConfig          `mapstructure:"api"`
	Threads      ThreadsConfig      `mapstructure:"threads"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Multiprocess MultiprocessConfig `mapstructure:"multiprocess_farming"`
	Devices      DeviceConfig       `mapstructure:"device_settings"`
	Farm         FarmConfig         `mapstructure:"farm_settings"`
	IMAP         IMAPConfig         `mapstructure:"imap_settings"`
	Referral     ReferralConfig     `mapstructure:"referral_code_settings"`
	StartDelay   StartDelayConfig   `mapstructure:"delay_before_start"`
	Proxy        ProxyConfig        `mapstructure:"proxy"`
	Files        FilesConfig        `mapstructure:"files"`
}

// LoggingConfig contains logging-related settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// DatabaseConfig contains state-store settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// APIConfig locates the remote farming API.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	TimeoutSeconds int    `mapstructure:"timeout"  validate:"gt=0"`
}

// Timeout returns the per-request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ThreadsConfig sizes the per-operation worker pools independently.
type ThreadsConfig struct {
	Registration int `mapstructure:"registration" validate:"gt=0"`
	Farming      int `mapstructure:"farming"      validate:"gt=0"`
}

// RetryConfig drives the retry policy for both operations.
type RetryConfig struct {
	DelaySeconds            int  `mapstructure:"delay_seconds"             validate:"gte=0"`
	MaxRegistrationAttempts int  `mapstructure:"max_registration_attempts" validate:"gt=0"`
	MaxFarmAttempts         int  `mapstructure:"max_farm_attempts"         validate:"gt=0"`
	ProxyRotation           bool `mapstructure:"proxy_rotation"`
}

// Delay returns the configured inter-attempt delay as a duration.
func (c RetryConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

// MultiprocessConfig controls the farming process distributor.
// MaxProcesses of 0 resolves to CPU-count-minus-one, minimum 1.
type MultiprocessConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MaxProcesses int  `mapstructure:"max_processes" validate:"gte=0"`
}

// DeviceConfig bounds how many active devices each account keeps.
type DeviceConfig struct {
	ActivePerAccount MinMax `mapstructure:"active_devices_per_account"`
}

// MinMax is an inclusive integer range.
type MinMax struct {
	Min int `mapstructure:"min" validate:"gte=0"`
	Max int `mapstructure:"max" validate:"gtefield=Min"`
}

// FarmConfig bounds a single farming cycle.
type FarmConfig struct {
	MaxDevicesPerBatch int `mapstructure:"max_devices_per_batch" validate:"gt=0"`
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"  validate:"gt=0"`
	DeviceTaskTimeout  int `mapstructure:"device_task_timeout"   validate:"gt=0"`
}

// Timeout returns the per-device task timeout as a duration.
func (c FarmConfig) Timeout() time.Duration {
	return time.Duration(c.DeviceTaskTimeout) * time.Second
}

// IMAPConfig configures the email verification collaborator.
// Servers maps an email domain to its IMAP host.
type IMAPConfig struct {
	UseProxyForIMAP bool              `mapstructure:"use_proxy_for_imap"`
	TimeoutSeconds  int               `mapstructure:"timeout" validate:"gt=0"`
	Servers         map[string]string `mapstructure:"servers"`
}

// Timeout returns the verification fetch timeout as a duration.
func (c IMAPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReferralConfig selects the referral code strategy, fixed once at startup.
type ReferralConfig struct {
	UseRandomFromDB    bool   `mapstructure:"use_random_ref_code_from_db"`
	StaticReferralCode string `mapstructure:"static_referral_code"`
}

// StartDelayConfig is the uniform random sleep applied before each account's
// first attempt, in seconds.
type StartDelayConfig struct {
	Min int `mapstructure:"min" validate:"gte=0"`
	Max int `mapstructure:"max" validate:"gtefield=Min"`
}

// ProxyConfig tunes pool behavior around failures.
type ProxyConfig struct {
	// FailureThreshold is the per-proxy failure count after which the proxy
	// is quarantined within the session.
	FailureThreshold int `mapstructure:"failure_threshold" validate:"gt=0"`

	// ResetCountersOnSweep clears failure counters each time rotation wraps
	// around the full list, turning quarantine into a soft, per-sweep state.
	ResetCountersOnSweep bool `mapstructure:"reset_counters_on_sweep"`

	// AllowReuseWhenExhausted permits handing the same proxy to more than
	// one in-flight attempt once every proxy is already owned.
	AllowReuseWhenExhausted bool `mapstructure:"allow_reuse_when_exhausted"`
}

// FilesConfig names the input files.
type FilesConfig struct {
	RegistrationAccounts string `mapstructure:"registration_accounts"`
	FarmingAccounts      string `mapstructure:"farming_accounts"`
	Proxies              string `mapstructure:"proxies"`
}
