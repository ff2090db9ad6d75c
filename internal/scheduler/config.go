package scheduler

import (
	"time"

	"github.com/smallbiznis/fitdesk/internal/config"
)

const (
	JobDrainOutbox = "drain_outbox"
	JobRefresh     = "refresh"
	JobReminders   = "reminders"
)

// Config controls scheduler intervals and job timeouts. Zero values fall
// back to the sync policy.
type Config struct {
	RunInterval      time.Duration
	DrainInterval    time.Duration
	RefreshInterval  time.Duration
	ReminderInterval time.Duration
	JobTimeout       time.Duration
	MaxBackoff       time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 15 * time.Second,
		JobTimeout:  2 * time.Minute,
		MaxBackoff:  15 * time.Minute,
	}
}

func (c Config) withDefaults(policy config.SyncPolicy) Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = policy.DrainInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = policy.RefreshInterval
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = policy.ReminderInterval
	}
	return c
}
