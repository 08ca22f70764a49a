package pattern

import (
	"reflect"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchScore is the fraction of condition keys whose value equals the value
// of the same key in ctx. It is pure, deterministic and bounded to [0,1]; a
// pattern without conditions matches everything.
func MatchScore(conditions, ctx map[string]any) float64 {
	if len(conditions) == 0 {
		return 1
	}
	matched := 0
	for k, want := range conditions {
		got, ok := ctx[k]
		if ok && valuesEqual(want, got) {
			matched++
		}
	}
	return float64(matched) / float64(len(conditions))
}

// valuesEqual compares numbers by value regardless of their Go type, since
// decoded JSON and YAML produce float64 and int respectively.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ScopeAllowed reports whether scope matches one of the glob patterns in
// contexts. An empty scope or an empty context list allows everything.
func ScopeAllowed(contexts []string, scope string) bool {
	if scope == "" || len(contexts) == 0 {
		return true
	}
	for _, c := range contexts {
		if ok, err := doublestar.Match(c, scope); err == nil && ok {
			return true
		}
	}
	return false
}
