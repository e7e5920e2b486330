package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every joinq metric name.
const DefaultNamespace = "joinq"

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "joinq" namespace for metrics.
	Namespace string

	// Labels are additional labels to add to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
		Labels:    nil,
	}
}

// Build returns the registry described by config, or nil when metrics are
// disabled. Components treat a nil *Registry as "do not record".
func (c Config) Build() *Registry {
	if !c.Enabled {
		return nil
	}
	if c.Registry == nil || c.Registry == prometheus.DefaultRegisterer {
		if c.Namespace == "" || c.Namespace == DefaultNamespace {
			if len(c.Labels) == 0 {
				return DefaultRegistry
			}
		}
	}
	return NewRegistryWithConfig(c)
}
