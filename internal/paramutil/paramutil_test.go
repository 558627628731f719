package paramutil

import (
	"errors"
	"testing"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isValidation(err error) bool {
	var ve *convergeerrors.ValidationError
	return errors.As(err, &ve)
}

func TestGetRequiredString(t *testing.T) {
	_, err := GetRequiredString(map[string]interface{}{}, "src")
	assert.True(t, isValidation(err))

	_, err = GetRequiredString(map[string]interface{}{"src": 5}, "src")
	assert.True(t, isValidation(err))

	_, err = GetRequiredString(map[string]interface{}{"src": "  "}, "src")
	assert.True(t, isValidation(err))

	v, err := GetRequiredString(map[string]interface{}{"src": "/etc"}, "src")
	require.NoError(t, err)
	assert.Equal(t, "/etc", v)
}

func TestGetRequiredPath_KeepsTrailingSeparator(t *testing.T) {
	p, err := GetRequiredPath(map[string]interface{}{"dest": "/tmp//out/"}, "dest")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out/", p)

	p, err = GetRequiredPath(map[string]interface{}{"dest": "/tmp/./out"}, "dest")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", p)

	p, err = GetRequiredPath(map[string]interface{}{"dest": "/"}, "dest")
	require.NoError(t, err)
	assert.Equal(t, "/", p)
}

func TestGetOptionalStringSlice(t *testing.T) {
	s, found, err := GetOptionalStringSlice(map[string]interface{}{"listing": []interface{}{"du", "find"}}, "listing")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"du", "find"}, s)

	s, found, err = GetOptionalStringSlice(map[string]interface{}{"listing": "du"}, "listing")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"du"}, s)

	_, found, err = GetOptionalStringSlice(map[string]interface{}{}, "listing")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = GetOptionalStringSlice(map[string]interface{}{"listing": []interface{}{"du", 3}}, "listing")
	assert.True(t, isValidation(err))
}

func TestGetOptionalBoolDefault(t *testing.T) {
	testCases := []struct {
		name    string
		params  map[string]interface{}
		want    bool
		wantErr bool
	}{
		{name: "absent", params: map[string]interface{}{}, want: true},
		{name: "bool", params: map[string]interface{}{"mirror": false}, want: false},
		{name: "yes", params: map[string]interface{}{"mirror": "yes"}, want: true},
		{name: "off", params: map[string]interface{}{"mirror": "off"}, want: false},
		{name: "garbage", params: map[string]interface{}{"mirror": "maybe"}, wantErr: true},
		{name: "number", params: map[string]interface{}{"mirror": 1}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := GetOptionalBoolDefault(tc.params, "mirror", true)
			if tc.wantErr {
				assert.True(t, isValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetOptionalInt(t *testing.T) {
	n, found, err := GetOptionalInt(map[string]interface{}{"retry": "3"}, "retry")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, n)

	n, _, err = GetOptionalInt(map[string]interface{}{"retry": 2.0}, "retry")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, _, err = GetOptionalInt(map[string]interface{}{"retry": 2.5}, "retry")
	assert.True(t, isValidation(err))
}

func TestCheckAllowedAndExclusive(t *testing.T) {
	params := map[string]interface{}{"src": "a", "dest": "b", "zzz": 1, "aaa": 2}
	err := CheckAllowed(params, []string{"src", "dest"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'aaa'")

	assert.NoError(t, CheckAllowed(map[string]interface{}{"src": "a"}, []string{"src", "dest"}))

	err = CheckExclusive(map[string]interface{}{"cmd": "x", "script": "y"}, []string{"cmd", "script"})
	assert.True(t, isValidation(err))
	assert.NoError(t, CheckExclusive(map[string]interface{}{"cmd": "x"}, []string{"cmd", "script"}))
	assert.NoError(t, CheckRequired(params, []string{"src"}))
	assert.Error(t, CheckRequired(params, []string{"mode"}))
}

func TestGetDeferredBoolDefault(t *testing.T) {
	params := map[string]interface{}{"is_folder": "{{ .want_folder }}", "mirror_mode": "no"}

	b, err := GetDeferredBoolDefault(params, "is_folder", true)
	require.NoError(t, err)
	assert.True(t, b)
	assert.True(t, Unresolved(params, "is_folder"))

	b, err = GetDeferredBoolDefault(params, "mirror_mode", true)
	require.NoError(t, err)
	assert.False(t, b)
	assert.False(t, Unresolved(params, "mirror_mode"))
}
