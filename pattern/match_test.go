package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchScore(t *testing.T) {
	tests := []struct {
		name       string
		conditions map[string]any
		ctx        map[string]any
		want       float64
	}{
		{"no conditions", nil, map[string]any{"a": 1}, 1},
		{"all match", map[string]any{"a": "x", "b": true}, map[string]any{"a": "x", "b": true, "c": 1}, 1},
		{"partial", map[string]any{"a": "x", "b": "y", "c": "z", "d": "w"}, map[string]any{"a": "x", "b": "y", "c": "z"}, 0.75},
		{"numeric types", map[string]any{"n": 2}, map[string]any{"n": 2.0}, 1},
		{"number vs string", map[string]any{"n": 2}, map[string]any{"n": "2"}, 0},
		{"nested", map[string]any{"tags": []any{"a", "b"}}, map[string]any{"tags": []any{"a", "b"}}, 1},
		{"empty context", map[string]any{"a": 1}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchScore(tt.conditions, tt.ctx)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, got, MatchScore(tt.conditions, tt.ctx))
		})
	}
}

func TestScopeAllowed(t *testing.T) {
	assert.True(t, ScopeAllowed(nil, "anything"))
	assert.True(t, ScopeAllowed([]string{"a/*"}, ""))
	assert.True(t, ScopeAllowed([]string{"a/*"}, "a/b"))
	assert.False(t, ScopeAllowed([]string{"a/*"}, "a/b/c"))
	assert.True(t, ScopeAllowed([]string{"x", "a/**"}, "a/b/c"))
}

func TestNextConfidence(t *testing.T) {
	assert.InDelta(t, 0.6, nextConfidence(0.5, 1, 0.1), 1e-9)
	assert.InDelta(t, 0.55, nextConfidence(0.5, 0.55, 0.1), 1e-9)
	assert.InDelta(t, 0.4, nextConfidence(0.5, 0, 0.1), 1e-9)
	assert.Equal(t, 1.0, nextConfidence(0.95, 1, 0.1))
	assert.Equal(t, 0.0, nextConfidence(0.05, 0, 0.1))
}
