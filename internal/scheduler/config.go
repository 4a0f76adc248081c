package scheduler

import (
	"time"

	"github.com/smallbiznis/clientbilling/internal/config"
)

// Config controls scheduler intervals and lock lifetimes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
		LockTTL:     45 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// A lock that expires mid-run lets a second replica start the same job.
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{RunInterval: cfg.Scheduler.RunInterval}.withDefaults()
}
