package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("session {{.id}} created as {{upper .role}}", map[string]any{"id": "s1", "role": "validator"})
	require.NoError(t, err)
	assert.Equal(t, "session s1 created as VALIDATOR", out)
}

func TestRenderTemplate_Join(t *testing.T) {
	out, err := RenderTemplate("ids {{join \",\" .ids}}", map[string]any{"ids": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "ids a,b", out)
}

func TestMustRender_FallsBack(t *testing.T) {
	assert.Equal(t, "broken {{", MustRender("broken {{", nil))
	assert.Equal(t, "plain", MustRender("plain", nil))
}
