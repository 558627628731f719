package util

import (
	"fmt"
	"reflect"
	"strings"
)

// DeepCopy returns a deep copy of the value shapes produced by YAML
// decoding and template rendering: maps, slices and scalars. Other types
// are copied through reflection.
func DeepCopy(src interface{}) interface{} {
	switch v := src.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		cpy := make(map[string]interface{}, len(v))
		for key, value := range v {
			cpy[key] = DeepCopy(value)
		}
		return cpy
	case map[interface{}]interface{}:
		cpy := make(map[string]interface{}, len(v))
		for key, value := range v {
			cpy[fmt.Sprint(key)] = DeepCopy(value)
		}
		return cpy
	case []interface{}:
		cpy := make([]interface{}, len(v))
		for i, value := range v {
			cpy[i] = DeepCopy(value)
		}
		return cpy
	case []string:
		return append([]string(nil), v...)
	case map[string]string:
		cpy := make(map[string]string, len(v))
		for key, value := range v {
			cpy[key] = value
		}
		return cpy
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	default:
		return deepCopyReflection(reflect.ValueOf(src))
	}
}

func deepCopyReflection(original reflect.Value) interface{} {
	if !original.IsValid() {
		return nil
	}
	switch original.Kind() {
	case reflect.Ptr:
		if original.IsNil() {
			return original.Interface()
		}
		cpy := reflect.New(original.Type().Elem())
		cpy.Elem().Set(reflect.ValueOf(deepCopyReflection(original.Elem())))
		return cpy.Interface()
	case reflect.Slice:
		if original.IsNil() {
			return original.Interface()
		}
		cpy := reflect.MakeSlice(original.Type(), original.Len(), original.Len())
		for i := 0; i < original.Len(); i++ {
			setCopied(cpy.Index(i), original.Index(i))
		}
		return cpy.Interface()
	case reflect.Map:
		if original.IsNil() {
			return original.Interface()
		}
		cpy := reflect.MakeMapWithSize(original.Type(), original.Len())
		iter := original.MapRange()
		for iter.Next() {
			val := reflect.New(original.Type().Elem()).Elem()
			setCopied(val, iter.Value())
			cpy.SetMapIndex(iter.Key(), val)
		}
		return cpy.Interface()
	default:
		return original.Interface()
	}
}

func setCopied(dst, src reflect.Value) {
	copied := DeepCopy(src.Interface())
	if copied == nil {
		return
	}
	cv := reflect.ValueOf(copied)
	if cv.Type().AssignableTo(dst.Type()) {
		dst.Set(cv)
	} else {
		dst.Set(src)
	}
}

// MergeVars layers maps left to right: a key in a later map replaces the
// same top-level key of an earlier one. The result shares no structure with
// its inputs.
func MergeVars(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = DeepCopy(v)
		}
	}
	return out
}

// Lookup resolves a dotted key ("saved.out") against nested maps.
func Lookup(vars map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := vars[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var current interface{} = vars
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// NormalizeMap converts the map[interface{}]interface{} values YAML may
// produce into map[string]interface{} throughout.
func NormalizeMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out, _ := DeepCopy(in).(map[string]interface{})
	return out
}
