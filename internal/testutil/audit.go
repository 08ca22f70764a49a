package testutil

import (
	"context"
	"errors"
	"sync"
)

// Entry is one captured audit event.
type Entry struct {
	Text     string
	Category string
	Metadata map[string]any
}

// RecordingRecorder captures audit events synchronously. It satisfies
// core.Recorder and core.AuditSink.
type RecordingRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Record captures an event.
func (r *RecordingRecorder) Record(text, category string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Text: text, Category: category, Metadata: metadata})
}

// RecordEvent captures an event and returns a synthetic id.
func (r *RecordingRecorder) RecordEvent(_ context.Context, text, category string, metadata map[string]any) (string, error) {
	r.Record(text, category, metadata)
	return "rec", nil
}

// Entries returns captured events, optionally filtered by category.
func (r *RecordingRecorder) Entries(category string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of events whose metadata action equals action.
func (r *RecordingRecorder) Count(action string) int {
	n := 0
	for _, e := range r.Entries("") {
		if e.Metadata["action"] == action {
			n++
		}
	}
	return n
}

// ErrSinkDown is returned by FailingSink.
var ErrSinkDown = errors.New("sink unavailable")

// FailingSink always fails and counts calls.
type FailingSink struct {
	mu    sync.Mutex
	calls int
}

// RecordEvent fails.
func (f *FailingSink) RecordEvent(context.Context, string, string, map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "", ErrSinkDown
}

// Calls returns the number of attempts.
func (f *FailingSink) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MemoryContents is a map backed core.MemoryReader.
type MemoryContents map[string]string

// Content returns the text for id.
func (m MemoryContents) Content(_ context.Context, id string) (string, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}
