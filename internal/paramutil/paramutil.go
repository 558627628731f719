// Package paramutil reads typed values out of the loosely typed parameter
// maps that tasks are decoded into.
package paramutil

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
)

// GetRequiredString retrieves a required, non-empty string parameter.
func GetRequiredString(params map[string]interface{}, key string) (string, error) {
	value, exists := params[key]
	if !exists {
		return "", convergeerrors.NewValidationError(fmt.Sprintf("missing required parameter '%s'", key), nil)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a string, got %T", key, value), nil)
	}
	if strings.TrimSpace(strValue) == "" {
		return "", convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must not be empty", key), nil)
	}
	return strValue, nil
}

// GetOptionalString returns the value and true if key is present.
func GetOptionalString(params map[string]interface{}, key string) (string, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return "", false, nil
	}
	strValue, ok := value.(string)
	if !ok {
		return "", false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a string, got %T", key, value), nil)
	}
	return strValue, true, nil
}

// GetRequiredPath retrieves a required path parameter. Relative paths are
// accepted; the path is cleaned but trailing separators are preserved, since
// some modules treat "dir/" and "dir" differently.
func GetRequiredPath(params map[string]interface{}, key string) (string, error) {
	p, err := GetRequiredString(params, key)
	if err != nil {
		return "", err
	}
	if strings.ContainsRune(p, 0) {
		return "", convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' contains a NUL byte", key), nil)
	}
	trailing := strings.HasSuffix(p, "/") && len(p) > 1
	p = filepath.Clean(p)
	if trailing && p != "/" {
		p += "/"
	}
	return p, nil
}

// GetOptionalStringSlice retrieves a list of strings. A single string is
// accepted as a one-element list.
func GetOptionalStringSlice(params map[string]interface{}, key string) ([]string, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return nil, false, nil
	}
	switch v := value.(type) {
	case string:
		return []string{v}, true, nil
	case []string:
		return append([]string(nil), v...), true, nil
	case []interface{}:
		result := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a list of strings, found %T at index %d", key, item, i), nil)
			}
			result = append(result, s)
		}
		return result, true, nil
	default:
		return nil, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a list, got %T", key, value), nil)
	}
}

// GetOptionalMap retrieves a map parameter, converting the
// map[interface{}]interface{} form some decoders produce.
func GetOptionalMap(params map[string]interface{}, key string) (map[string]interface{}, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return nil, false, nil
	}
	if m, ok := value.(map[string]interface{}); ok {
		return m, true, nil
	}
	if generic, ok := value.(map[interface{}]interface{}); ok {
		converted := make(map[string]interface{}, len(generic))
		for k, v := range generic {
			strKey, ok := k.(string)
			if !ok {
				return nil, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a map with string keys, found key of type %T", key, k), nil)
			}
			converted[strKey] = v
		}
		return converted, true, nil
	}
	return nil, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a map, got %T", key, value), nil)
}

// GetOptionalInt retrieves an integer parameter. Whole floats and numeric
// strings are coerced.
func GetOptionalInt(params map[string]interface{}, key string) (int, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return 0, false, nil
	}
	switch v := value.(type) {
	case int:
		return v, true, nil
	case int32:
		return int(v), true, nil
	case int64:
		if int64(int(v)) != v {
			return 0, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' value %v overflows int", key, v), nil)
		}
		return int(v), true, nil
	case uint64:
		return int(v), true, nil
	case float64:
		if v == float64(int(v)) {
			return int(v), true, nil
		}
		return 0, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' is a non-integer number (%v)", key, v), nil)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be an integer, got '%s'", key, v), nil)
		}
		return n, true, nil
	default:
		return 0, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be an integer, got %T", key, value), nil)
	}
}

// GetOptionalBool retrieves a boolean parameter. The usual YAML spellings
// are accepted when the value arrives as a string.
func GetOptionalBool(params map[string]interface{}, key string) (bool, bool, error) {
	value, exists := params[key]
	if !exists || value == nil {
		return false, false, nil
	}
	switch v := value.(type) {
	case bool:
		return v, true, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true, true, nil
		case "false", "no", "off", "0":
			return false, true, nil
		}
	}
	return false, false, convergeerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a boolean, got %v", key, value), nil)
}

// GetOptionalBoolDefault is GetOptionalBool with def substituted when the
// key is absent.
func GetOptionalBoolDefault(params map[string]interface{}, key string, def bool) (bool, error) {
	b, found, err := GetOptionalBool(params, key)
	if err != nil {
		return false, err
	}
	if !found {
		return def, nil
	}
	return b, nil
}

// CheckRequired validates that every key in required is present.
func CheckRequired(params map[string]interface{}, required []string) error {
	for _, key := range required {
		if _, exists := params[key]; !exists {
			return convergeerrors.NewValidationError(fmt.Sprintf("missing required parameter '%s'", key), nil)
		}
	}
	return nil
}

// CheckAllowed rejects keys not listed in allowed. Unknown keys are reported
// in sorted order so the message is stable.
func CheckAllowed(params map[string]interface{}, allowed []string) error {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		allowedSet[key] = struct{}{}
	}
	var unknown []string
	for key := range params {
		if _, ok := allowedSet[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return convergeerrors.NewValidationError(fmt.Sprintf("unknown parameter '%s' provided", unknown[0]), nil)
}

// CheckExclusive ensures at most one of exclusiveKeys is present.
func CheckExclusive(params map[string]interface{}, exclusiveKeys []string) error {
	var first string
	for _, key := range exclusiveKeys {
		if _, exists := params[key]; exists {
			if first != "" {
				return convergeerrors.NewValidationError(fmt.Sprintf("parameters '%s' and '%s' are mutually exclusive", first, key), nil)
			}
			first = key
		}
	}
	return nil
}

// Unresolved reports whether params[key] still holds a template expression.
// That happens only in syntax-check runs, where fields are not rendered.
func Unresolved(params map[string]interface{}, key string) bool {
	s, ok := params[key].(string)
	return ok && strings.Contains(s, "{{") && strings.Contains(s, "}}")
}

// GetDeferredBoolDefault is GetOptionalBoolDefault, except that an
// unresolved template yields def instead of an error.
func GetDeferredBoolDefault(params map[string]interface{}, key string, def bool) (bool, error) {
	if Unresolved(params, key) {
		return def, nil
	}
	return GetOptionalBoolDefault(params, key, def)
}
