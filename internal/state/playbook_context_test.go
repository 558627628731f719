package state

import (
	"fmt"
	"sync"
	"testing"

	convergestate "github.com/gxo-labs/converge/pkg/converge/v1/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybookContext_LayerPrecedence(t *testing.T) {
	ctx := NewPlaybookContext()
	ctx.SetHostVars("web1", map[string]interface{}{"role": "inventory", "port": 80})
	require.NoError(t, ctx.SetFacts("web1", map[string]interface{}{"role": "fact", "os_type": "Linux"}))
	require.NoError(t, ctx.Save("web1", "role", "saved"))

	vars, err := ctx.Vars("web1")
	require.NoError(t, err)
	assert.Equal(t, "saved", vars["role"])
	assert.Equal(t, 80, vars["port"])
	assert.Equal(t, "Linux", vars["os_type"])
}

func TestPlaybookContext_SetHostVarsKeepsFactsAndSaved(t *testing.T) {
	ctx := NewPlaybookContext()
	ctx.SetHostVars("web1", map[string]interface{}{"a": 1})
	require.NoError(t, ctx.SetFacts("web1", map[string]interface{}{"os_type": "Linux"}))
	require.NoError(t, ctx.Save("web1", "result", map[string]interface{}{"rc": 0}))

	ctx.SetHostVars("web1", map[string]interface{}{"b": 2})

	vars, err := ctx.Vars("web1")
	require.NoError(t, err)
	assert.NotContains(t, vars, "a")
	assert.Equal(t, 2, vars["b"])
	assert.Equal(t, "Linux", vars["os_type"])
	assert.Contains(t, vars, "result")
}

func TestPlaybookContext_UnknownHost(t *testing.T) {
	ctx := NewPlaybookContext()
	_, err := ctx.Vars("nope")
	assert.ErrorIs(t, err, convergestate.ErrHostNotFound)

	view := ctx.HostView("nope")
	_, found := view.Get("anything")
	assert.False(t, found)
	assert.Empty(t, view.GetAll())
}

func TestHostView_DottedLookupAndIsolation(t *testing.T) {
	ctx := NewPlaybookContext()
	ctx.SetHostVars("db1", nil)
	require.NoError(t, ctx.Save("db1", "saved", map[string]interface{}{"out": "hello", "rc": 0}))

	view := ctx.HostView("db1")
	out, found := view.Get("saved.out")
	require.True(t, found)
	assert.Equal(t, "hello", out)

	all := view.GetAll()
	all["saved"].(map[string]interface{})["out"] = "mutated"

	out, _ = view.Get("saved.out")
	assert.Equal(t, "hello", out, "reads must be copies")
}

func TestPlaybookContext_HostsAreIsolated(t *testing.T) {
	ctx := NewPlaybookContext()
	ctx.SetHostVars("a", map[string]interface{}{"x": "a"})
	ctx.SetHostVars("b", map[string]interface{}{"x": "b"})
	require.NoError(t, ctx.Save("a", "only_a", true))

	_, found := ctx.HostView("b").Get("only_a")
	assert.False(t, found)
	x, _ := ctx.HostView("b").Get("x")
	assert.Equal(t, "b", x)
}

func TestPlaybookContext_Cursor(t *testing.T) {
	ctx := NewPlaybookContext()
	ctx.SetCursor("deploy", "web1", "fetch configs")
	play, task := ctx.Cursor("web1")
	assert.Equal(t, "deploy", play)
	assert.Equal(t, "fetch configs", task)
}

func TestPlaybookContext_ConcurrentHosts(t *testing.T) {
	ctx := NewPlaybookContext()
	const hosts = 16
	var wg sync.WaitGroup
	for i := 0; i < hosts; i++ {
		name := fmt.Sprintf("host%02d", i)
		ctx.SetHostVars(name, map[string]interface{}{"id": i})
		wg.Add(1)
		go func(name string, id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, ctx.Save(name, "step", j))
				v, ok := ctx.HostView(name).Get("id")
				assert.True(t, ok)
				assert.Equal(t, id, v)
			}
		}(name, i)
	}
	wg.Wait()

	for i := 0; i < hosts; i++ {
		step, ok := ctx.HostView(fmt.Sprintf("host%02d", i)).Get("step")
		require.True(t, ok)
		assert.Equal(t, 49, step)
	}
}

var benchmarkResult interface{}

func BenchmarkHostView_Get(b *testing.B) {
	ctx := NewPlaybookContext()
	vars := make(map[string]interface{}, 100)
	for i := 0; i < 100; i++ {
		vars[fmt.Sprintf("key_%d", i)] = map[string]interface{}{"nested": i}
	}
	ctx.SetHostVars("bench", vars)
	view := ctx.HostView("bench")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchmarkResult, _ = view.Get("key_42.nested")
	}
}
