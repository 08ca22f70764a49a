package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/meshcoord/internal/testutil"
	"github.com/hupe1980/meshcoord/memory"
	"github.com/stretchr/testify/assert"
)

func TestEmitter_DeliversToSink(t *testing.T) {
	sink := memory.NewInMemoryStore()
	e := NewEmitter(sink)
	defer e.Close()

	e.Record("session s1 created", "session", map[string]any{"sessionId": "s1"})
	e.Record("agent a1 registered", "agent", nil)
	e.Flush()

	assert.Len(t, sink.Records("session"), 1)
	assert.Len(t, sink.Records("agent"), 1)
}

func TestEmitter_SinkFailureIsSwallowed(t *testing.T) {
	sink := &testutil.FailingSink{}
	e := NewEmitter(sink)

	e.Record("x", "session", nil)
	e.Record("y", "session", nil)
	e.Close()

	assert.Equal(t, 2, sink.Calls())
}

func TestEmitter_MetadataCopiedAtRecord(t *testing.T) {
	rec := &testutil.RecordingRecorder{}
	e := NewEmitter(rec)
	defer e.Close()

	meta := map[string]any{"k": "v"}
	e.Record("x", "pattern", meta)
	meta["k"] = "changed"
	e.Flush()

	entries := rec.Entries("pattern")
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "v", entries[0].Metadata["k"])
	}
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) RecordEvent(ctx context.Context, _, _ string, _ map[string]any) (string, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "id", nil
}

func TestEmitter_RecordDoesNotBlockOnSlowSink(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	e := NewEmitter(sink, func(o *Options) { o.BufferSize = 2 })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.Record("x", "session", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on slow sink")
	}

	close(sink.release)
	e.Close()
}

func TestEmitter_RecordAfterCloseIsDropped(t *testing.T) {
	rec := &testutil.RecordingRecorder{}
	e := NewEmitter(rec)
	e.Close()
	e.Close()

	e.Record("late", "session", nil)
	assert.Empty(t, rec.Entries(""))
}

func TestEmitter_ConcurrentRecord(t *testing.T) {
	sink := memory.NewInMemoryStore()
	e := NewEmitter(sink, func(o *Options) { o.BufferSize = 1000 })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Record("x", "conflict", nil)
		}()
	}
	wg.Wait()
	e.Close()

	assert.Equal(t, 50, sink.Len())
}
