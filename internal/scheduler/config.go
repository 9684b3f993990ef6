package scheduler

import (
	"time"

	"github.com/smallbiznis/reconciler/internal/config"
)

const JobReconciliation = "reconciliation"

// Config controls the scheduled reconciliation window and cadence.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	Window      time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
	LockKey     string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
		Window:      24 * time.Hour,
		JobTimeout:  2 * time.Minute,
		LockTTL:     10 * time.Minute,
		LockKey:     "reconciler:scheduler:reconciliation",
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Reconciliation.ScheduleEnabled,
		RunInterval: cfg.Reconciliation.ScheduleInterval,
		Window:      cfg.Reconciliation.ScheduleWindow,
		JobTimeout:  cfg.Reconciliation.Timeout,
		LockTTL:     cfg.Reconciliation.LockTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.Window <= 0 {
		c.Window = defaults.Window
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	return c
}
