package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "/etc/apt", ShellQuote("/etc/apt"))
	assert.Equal(t, "''", ShellQuote(""))
	assert.Equal(t, "'/srv/my files'", ShellQuote("/srv/my files"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
	assert.Equal(t, "'$(rm -rf /)'", ShellQuote("$(rm -rf /)"))
}

func TestDeepCopy_ConvertsYAMLMaps(t *testing.T) {
	src := map[string]interface{}{
		"nested": map[interface{}]interface{}{"k": []interface{}{"a", 1}},
	}
	cp := DeepCopy(src).(map[string]interface{})
	nested, ok := cp["nested"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, []interface{}{"a", 1}, nested["k"])

	nested["k"].([]interface{})[0] = "changed"
	orig := src["nested"].(map[interface{}]interface{})["k"].([]interface{})
	assert.Equal(t, "a", orig[0])
}

func TestMergeVars_LaterLayersWin(t *testing.T) {
	out := MergeVars(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2},
		nil,
		map[string]interface{}{"c": 3},
	)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2, "c": 3}, out)
}

func TestLookup(t *testing.T) {
	vars := map[string]interface{}{
		"saved":     map[string]interface{}{"out": "hi", "rc": 0},
		"with.dots": "literal",
	}
	v, ok := Lookup(vars, "saved.out")
	assert.True(t, ok)
	assert.Equal(t, "hi", v)

	v, ok = Lookup(vars, "with.dots")
	assert.True(t, ok)
	assert.Equal(t, "literal", v)

	_, ok = Lookup(vars, "saved.out.deeper")
	assert.False(t, ok)
	_, ok = Lookup(vars, "missing")
	assert.False(t, ok)
}
