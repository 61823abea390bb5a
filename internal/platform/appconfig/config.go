// Package appconfig loads the process-level configuration the core
// recognizes, the way a migration or cache
// config loaders build theirs — except backed by viper instead of
// hand-rolled os.Getenv parsing, since this core's process config is
// richer (nested retry/audit blocks) than a flat env-var list.
package appconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ActivationStrategy controls how the Orchestrator schedules plan
// steps during activation.
type ActivationStrategy string

const (
	StrategyGradual ActivationStrategy = "gradual"
	StrategyInstant ActivationStrategy = "instant"
	StrategyBlueGreen ActivationStrategy = "blue-green"
)

// RetryPolicy is the shared shape used by validator and rollback retry
// configuration.
type RetryPolicy struct {
	MaxAttempts int
	DelayMs int
	Multiplier float64
	MaxDelayMs int
}

func (r RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(r.DelayMs)
	for i := 0; i < attempt; i++ {
		d *= r.Multiplier
	}
	if int(d) > r.MaxDelayMs && r.MaxDelayMs > 0 {
		d = float64(r.MaxDelayMs)
	}
	return time.Duration(d) * time.Millisecond
}

// AuditConfig controls audit log behavior.
type AuditConfig struct {
	Enabled bool
	RetentionDays int
	LogDataAccess bool
	LogConfigChanges bool
	LogThemeChanges bool
}

// Config is the full set of process configuration the core recognizes.
type Config struct {
	ActivationStrategy ActivationStrategy
	ActivationTimeoutMs int
	ValidationParallelism int
	ValidationRetry RetryPolicy
	Audit AuditConfig
	ConfigHistoryMaxPerTenant int
	OperationCacheDefaultTTLMs int
	SecurityMaxAuditLogSize int
}

// Defaults returns the conservative defaults the core falls back to
// when a key is absent, matching the "default" column implied by
//
func Defaults() Config {
	return Config{
		ActivationStrategy: StrategyInstant,
		ActivationTimeoutMs: 30_000,
		ValidationParallelism: 4,
		ValidationRetry: RetryPolicy{MaxAttempts: 3, DelayMs: 100, Multiplier: 2, MaxDelayMs: 5_000},
		Audit: AuditConfig{Enabled: true, RetentionDays: 90, LogDataAccess: true, LogConfigChanges: true, LogThemeChanges: true},
		ConfigHistoryMaxPerTenant: 100,
		OperationCacheDefaultTTLMs: 60_000,
		SecurityMaxAuditLogSize: 10_000,
	}
}

// Load reads configuration from the given viper instance (already
// configured with file/env sources by the caller), overlaying onto
// Defaults. A nil v returns Defaults unchanged.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()
	if v == nil {
		return cfg, nil
	}

	bindDefaults(v, cfg)

	if s := v.GetString("activation.strategy"); s != "" {
		cfg.ActivationStrategy = ActivationStrategy(s)
	}
	if err := validateStrategy(cfg.ActivationStrategy); err != nil {
		return Config{}, err
	}
	cfg.ActivationTimeoutMs = v.GetInt("activation.timeoutMs")
	cfg.ValidationParallelism = v.GetInt("validation.parallelism")
	if cfg.ValidationParallelism <= 0 {
		return Config{}, fmt.Errorf("validation.parallelism must be a positive int, got %d", cfg.ValidationParallelism)
	}
	cfg.ValidationRetry = RetryPolicy{
		MaxAttempts: v.GetInt("validation.retry.maxAttempts"),
		DelayMs: v.GetInt("validation.retry.delayMs"),
		Multiplier: v.GetFloat64("validation.retry.multiplier"),
		MaxDelayMs: v.GetInt("validation.retry.maxDelayMs"),
	}
	cfg.Audit = AuditConfig{
		Enabled: v.GetBool("audit.enabled"),
		RetentionDays: v.GetInt("audit.retentionDays"),
		LogDataAccess: v.GetBool("audit.logDataAccess"),
		LogConfigChanges: v.GetBool("audit.logConfigChanges"),
		LogThemeChanges: v.GetBool("audit.logThemeChanges"),
	}
	cfg.ConfigHistoryMaxPerTenant = v.GetInt("config.history.maxPerTenant")
	cfg.OperationCacheDefaultTTLMs = v.GetInt("operation.cache.defaultTtlMs")
	cfg.SecurityMaxAuditLogSize = v.GetInt("security.maxAuditLogSize")

	return cfg, nil
}

func validateStrategy(s ActivationStrategy) error {
	switch s {
	case StrategyGradual, StrategyInstant, StrategyBlueGreen:
		return nil
	default:
		return fmt.Errorf("activation.strategy: unknown strategy %q", s)
	}
}

func bindDefaults(v *viper.Viper, d Config) {
	v.SetDefault("activation.strategy", string(d.ActivationStrategy))
	v.SetDefault("activation.timeoutMs", d.ActivationTimeoutMs)
	v.SetDefault("validation.parallelism", d.ValidationParallelism)
	v.SetDefault("validation.retry.maxAttempts", d.ValidationRetry.MaxAttempts)
	v.SetDefault("validation.retry.delayMs", d.ValidationRetry.DelayMs)
	v.SetDefault("validation.retry.multiplier", d.ValidationRetry.Multiplier)
	v.SetDefault("validation.retry.maxDelayMs", d.ValidationRetry.MaxDelayMs)
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.retentionDays", d.Audit.RetentionDays)
	v.SetDefault("audit.logDataAccess", d.Audit.LogDataAccess)
	v.SetDefault("audit.logConfigChanges", d.Audit.LogConfigChanges)
	v.SetDefault("audit.logThemeChanges", d.Audit.LogThemeChanges)
	v.SetDefault("config.history.maxPerTenant", d.ConfigHistoryMaxPerTenant)
	v.SetDefault("operation.cache.defaultTtlMs", d.OperationCacheDefaultTTLMs)
	v.SetDefault("security.maxAuditLogSize", d.SecurityMaxAuditLogSize)
}
