package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives access to the registry holding converge metrics.
type RegistryProvider interface {
	Registry() *prometheus.Registry
}
