package scheduler

import (
	"time"
)

// Config controls scheduler cadence and batch sizes.
type Config struct {
	RunInterval  time.Duration
	BatchSize    int
	JobTimeout   time.Duration
	LockTTL      time.Duration
	OverdueLimit int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Minute,
		BatchSize:    50,
		JobTimeout:   2 * time.Minute,
		LockTTL:      90 * time.Second,
		OverdueLimit: 100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.OverdueLimit <= 0 {
		c.OverdueLimit = defaults.OverdueLimit
	}
	return c
}
