package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from config.yaml and environment variables.
// Environment variables take precedence over values from the config file and
// use the HIVEFARM_ prefix with underscores for nesting, e.g.
// HIVEFARM_THREADS_FARMING=8 overrides threads.farming.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("HIVEFARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus environment
		// variables may still form a complete configuration.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every recognized option so a
// minimal config file still yields a runnable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("api.timeout", 30)

	v.SetDefault("threads.registration", 5)
	v.SetDefault("threads.farming", 3)

	v.SetDefault("retry.delay_seconds", 5)
	v.SetDefault("retry.max_registration_attempts", 3)
	v.SetDefault("retry.max_farm_attempts", 3)
	v.SetDefault("retry.proxy_rotation", true)

	v.SetDefault("multiprocess_farming.enabled", false)
	v.SetDefault("multiprocess_farming.max_processes", 0)

	v.SetDefault("device_settings.active_devices_per_account.min", 1)
	v.SetDefault("device_settings.active_devices_per_account.max", 1)

	v.SetDefault("farm_settings.max_devices_per_batch", 200)
	v.SetDefault("farm_settings.max_concurrent_tasks", 200)
	v.SetDefault("farm_settings.device_task_timeout", 60)

	v.SetDefault("imap_settings.use_proxy_for_imap", false)
	v.SetDefault("imap_settings.timeout", 30)

	v.SetDefault("referral_code_settings.use_random_ref_code_from_db", true)
	v.SetDefault("referral_code_settings.static_referral_code", "")

	v.SetDefault("delay_before_start.min", 0)
	v.SetDefault("delay_before_start.max", 0)

	v.SetDefault("proxy.failure_threshold", 3)
	v.SetDefault("proxy.reset_counters_on_sweep", true)
	v.SetDefault("proxy.allow_reuse_when_exhausted", true)

	v.SetDefault("files.registration_accounts", "config/data/registration_accounts.txt")
	v.SetDefault("files.farming_accounts", "config/data/farming_accounts.txt")
	v.SetDefault("files.proxies", "config/data/proxy.txt")
}
