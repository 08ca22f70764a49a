package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.RecordEvent(ctx, "session s1 created", core.CategorySession, map[string]any{"sessionId": "s1", "level": 0})
	require.NoError(t, err)
	assert.Len(t, id, 26)

	text, ok, err := s.Content(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "session s1 created", text)

	_, ok, err = s.Content(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RecordsByCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.RecordEvent(ctx, "a", core.CategorySession, nil)
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, "b", core.CategoryConflict, map[string]any{"tier": 3})
	require.NoError(t, err)
	_, err = s.RecordEvent(ctx, "c", core.CategorySession, nil)
	require.NoError(t, err)

	all, err := s.Records(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	sessions, err := s.Records(ctx, core.CategorySession, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].Content)
	assert.Equal(t, "c", sessions[1].Content)

	conflicts, err := s.Records(ctx, core.CategoryConflict, 1)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, float64(3), conflicts[0].Metadata["tier"])
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.RecordEvent(context.Background(), "kept", core.CategoryAgent, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	text, ok, err := s.Content(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kept", text)
}

func TestStore_CanceledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RecordEvent(ctx, "x", core.CategoryPattern, nil)
	assert.Error(t, err)
}

func TestStore_RecordsRejectsCorruptMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, category, content, metadata_json, created_at)
		VALUES ('broken', ?, 'x', '{not json', ?)
	`, core.CategoryAgent, time.Now().UTC())
	require.NoError(t, err)

	_, err = s.Records(ctx, core.CategoryAgent, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode metadata of broken")
}
