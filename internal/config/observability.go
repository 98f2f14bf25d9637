package config

import (
	"fmt"
	"strings"
	"time"
)

// ObservabilityConfig configures the side listener every factory binary runs
// next to its main surface. It serves health endpoints and Prometheus metrics.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Applies to read, write and idle.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	// Process is up. Never touches the store.
	LivenessPath string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	// Store and cache answer a ping.
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate rejects a bad port and endpoint paths the router cannot mount.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}

	seen := make(map[string]string, 3)
	for _, ep := range []struct{ name, path string }{
		{"liveness", o.LivenessPath},
		{"readiness", o.ReadinessPath},
		{"metrics", o.MetricsPath},
	} {
		if !strings.HasPrefix(ep.path, "/") {
			return fmt.Errorf("observability %s path must start with '/', got %q", ep.name, ep.path)
		}
		if other, dup := seen[ep.path]; dup {
			return fmt.Errorf("observability %s and %s paths are both %q", other, ep.name, ep.path)
		}
		seen[ep.path] = ep.name
	}
	return nil
}
