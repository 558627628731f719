package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	p := NewPrometheusRegistryProvider(false)
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "converge_test_total", Help: "test"})
	p.Registry().MustRegister(c)
	c.Add(3)

	path := filepath.Join(t.TempDir(), "converge.prom")
	require.NoError(t, p.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "converge_test_total 3")
}

func TestRuntimeCollectors(t *testing.T) {
	p := NewPrometheusRegistryProvider(true)
	families, err := p.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
