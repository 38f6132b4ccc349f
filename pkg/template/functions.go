package template

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// mathEnv is the math.* surface. Pure functions, shared by every
// engine.
var mathEnv = map[string]any{
	"abs":   math.Abs,
	"ceil":  math.Ceil,
	"floor": math.Floor,
	"round": math.Round,
	"trunc": math.Trunc,
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"min":   math.Min,
	"max":   math.Max,
	"pi":    math.Pi,
}

// utilEnv is the util.* surface: json, string, array, and object
// helpers reachable from expressions.
var utilEnv = map[string]any{
	"json": map[string]any{
		"parse": func(s string) any {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil
			}
			return v
		},
		"stringify": func(v any) string {
			data, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(data)
		},
	},
	"string": map[string]any{
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"trim":     strings.TrimSpace,
		"replace":  func(s, old, new string) string { return strings.ReplaceAll(s, old, new) },
		"split":    func(s, sep string) []string { return strings.Split(s, sep) },
		"contains": strings.Contains,
	},
	"array": map[string]any{
		"length": func(v any) int {
			if a, ok := v.([]any); ok {
				return len(a)
			}
			return 0
		},
		"join": func(v any, sep string) string {
			a, ok := v.([]any)
			if !ok {
				return ""
			}
			parts := make([]string, len(a))
			for i, item := range a {
				parts[i] = Stringify(item)
			}
			return strings.Join(parts, sep)
		},
		"slice": func(v any, lo, hi int) []any {
			a, ok := v.([]any)
			if !ok {
				return nil
			}
			if lo < 0 {
				lo = 0
			}
			if hi > len(a) {
				hi = len(a)
			}
			if lo >= hi {
				return []any{}
			}
			return a[lo:hi]
		},
	},
	"object": map[string]any{
		"keys": func(v any) []string {
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			return keys
		},
		"values": func(v any) []any {
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			values := make([]any, 0, len(m))
			for _, val := range m {
				values = append(values, val)
			}
			return values
		},
		"entries": func(v any) []any {
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			entries := make([]any, 0, len(m))
			for k, val := range m {
				entries = append(entries, []any{k, val})
			}
			return entries
		},
	},
}

// Stringify renders an evaluation result for interpolation. Null and
// absent values collapse to the empty string; structured values carry
// their JSON form.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
