// Package services provides the built-in service implementations for the
// standard stage roles: a histogram source, elementwise normalization,
// kernel smearing and a linear systematics adjustment.
package services

import (
	"fmt"
	"sort"
)

// Option values come straight from the YAML settings, so they arrive as the
// decoder's generic types (int or float64 numbers, []any lists and
// map[string]any maps).

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func floatOption(options map[string]any, key string, def float64) (float64, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("option %q: expected a number, got %T", key, v)
	}
	return f, nil
}

func floatSliceOption(v any, key string) ([]float64, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("option %q: expected a number list, got %T", key, v)
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, ok := asFloat(item)
		if !ok {
			return nil, fmt.Errorf("option %q[%d]: expected a number, got %T", key, i, item)
		}
		out[i] = f
	}
	return out, nil
}

func stringSliceOption(options map[string]any, key string) ([]string, error) {
	v, ok := options[key]
	if !ok {
		return nil, fmt.Errorf("option %q is required", key)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("option %q: expected a string list, got %T", key, v)
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("option %q[%d]: expected a non-empty string", key, i)
		}
		out[i] = s
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("option %q is empty", key)
	}
	return out, nil
}

// floatMapOption decodes a map of name to number list, returning the names in
// sorted order for determinism.
func floatMapOption(options map[string]any, key string) ([]string, map[string][]float64, error) {
	v, ok := options[key]
	if !ok {
		return nil, nil, fmt.Errorf("option %q is required", key)
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("option %q: expected a map of number lists, got %T", key, v)
	}
	names := make([]string, 0, len(raw))
	out := make(map[string][]float64, len(raw))
	for name, item := range raw {
		if name == "" {
			return nil, nil, fmt.Errorf("option %q: empty map name", key)
		}
		values, err := floatSliceOption(item, key+"."+name)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, name)
		out[name] = values
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("option %q is empty", key)
	}
	sort.Strings(names)
	return names, out, nil
}

// scalarMapOption decodes a map of name to number, names sorted.
func scalarMapOption(options map[string]any, key string) ([]string, map[string]float64, error) {
	v, ok := options[key]
	if !ok {
		return nil, nil, fmt.Errorf("option %q is required", key)
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("option %q: expected a map of numbers, got %T", key, v)
	}
	names := make([]string, 0, len(raw))
	out := make(map[string]float64, len(raw))
	for name, item := range raw {
		f, ok := asFloat(item)
		if !ok {
			return nil, nil, fmt.Errorf("option %q.%s: expected a number, got %T", key, name, item)
		}
		names = append(names, name)
		out[name] = f
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("option %q is empty", key)
	}
	sort.Strings(names)
	return names, out, nil
}
