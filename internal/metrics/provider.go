// Package metrics owns the Prometheus registry a run reports into.
package metrics

import (
	"fmt"

	convergemetrics "github.com/gxo-labs/converge/pkg/converge/v1/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PrometheusRegistryProvider holds a private registry. Runs are short-lived,
// so metrics are not served; they are written to a node-exporter textfile
// when the CLI is given --metrics-file.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider creates a provider. With withRuntime, Go
// runtime and process collectors are registered too.
func NewPrometheusRegistryProvider(withRuntime bool) *PrometheusRegistryProvider {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &PrometheusRegistryProvider{registry: reg}
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format. The file is written atomically.
func (p *PrometheusRegistryProvider) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

var _ convergemetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)
