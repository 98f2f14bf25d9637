package config

import (
	"fmt"
	"time"
)

// CacheConfig sizes the in-process (L1) and Redis (L2) caches used on the read paths.
type CacheConfig struct {
	// Experiment definitions. Entries are also dropped on invalidation messages,
	// the TTL only bounds staleness when a message is lost.
	ExperimentCapacity int           `envconfig:"EXPERIMENT_CAPACITY" default:"10000" validate:"min=1"`
	ExperimentTTL      time.Duration `envconfig:"EXPERIMENT_TTL" default:"60s" validate:"gt=0"`

	// Assignments never change once written.
	AssignmentCapacity int           `envconfig:"ASSIGNMENT_CAPACITY" default:"100000" validate:"min=1"`
	AssignmentTTL      time.Duration `envconfig:"ASSIGNMENT_TTL" default:"10m" validate:"gt=0"`
	AssignmentL2TTL    time.Duration `envconfig:"ASSIGNMENT_L2_TTL" default:"24h" validate:"gt=0"`

	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"min=0"`
}

// Validate checks relationships between cache settings.
func (c *CacheConfig) Validate() error {
	if c.AssignmentL2TTL < c.AssignmentTTL {
		return fmt.Errorf("assignment L2 TTL (%s) cannot be shorter than L1 TTL (%s)", c.AssignmentL2TTL, c.AssignmentTTL)
	}
	return nil
}
