package core

// CloneMap returns a deep copy of a JSON-like map. Nested maps and slices are
// copied; other values are shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func containsString(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// AppendUnique appends v to s unless it is already present. Order is preserved.
func AppendUnique(s []string, v string) []string {
	if containsString(s, v) {
		return s
	}
	return append(s, v)
}

// UniqueStrings removes duplicates and empty entries keeping first-seen order.
func UniqueStrings(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v == "" {
			continue
		}
		out = AppendUnique(out, v)
	}
	return out
}
