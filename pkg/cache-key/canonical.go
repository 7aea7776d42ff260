package cachekey

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// canonicalize produces a deterministic JSON representation of a variable value.
// Maps are sorted by key, numbers are written in their shortest form.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return []byte(strconv.FormatInt(i, 10)), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return canonicalFloat(f), nil
	case float64:
		return canonicalFloat(val), nil
	default:
		return json.Marshal(v)
	}
}

func canonicalFloat(f float64) []byte {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return []byte(strconv.FormatInt(int64(f), 10))
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64))
}

// canonicalizeMap treats a nil map like an empty one.
func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}
		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}
