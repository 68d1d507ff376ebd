package engine

import (
	"fmt"
	"time"
)

// Config represents engine configuration
type Config struct {
	// Workers is the number of consumers per topic.
	Workers int
	// ReaperInterval is how often overdue reviews are expired and stalled
	// runs are driven again.
	ReaperInterval time.Duration
	// ClaimTTL bounds how long one advance may hold a run.
	ClaimTTL time.Duration
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		ReaperInterval: time.Minute,
		ClaimTTL:       time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("engine workers must be positive, got %d", c.Workers)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("engine reaper interval must be positive")
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("engine claim ttl must be positive")
	}
	return nil
}
