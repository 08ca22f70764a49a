package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/oklog/ulid/v2"
)

// Record is a stored memory entry. Audit events are records whose Category
// names the emitting component.
type Record struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Category  string         `json:"category"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// InMemoryStore is a process-local memory store. It offers:
//  1. Append-only records with ULID ids (time sortable)
//  2. Per-category listing
//  3. Content lookup for conflict deduplication
//
// Concurrency: protected by RWMutex. Suitable for tests, demos and single
// process deployments; swap for memory/sqlite or memory/graph for durability.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

var (
	_ core.AuditSink    = (*InMemoryStore)(nil)
	_ core.MemoryReader = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Store appends a memory record and returns its id.
func (m *InMemoryStore) Store(content, category string, metadata map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ulid.Make().String()
	m.records[id] = Record{ID: id, Content: content, Category: category, Metadata: core.CloneMap(metadata), CreatedAt: time.Now().UTC()}
	m.order = append(m.order, id)
	return id
}

// RecordEvent implements core.AuditSink.
func (m *InMemoryStore) RecordEvent(ctx context.Context, text, category string, metadata map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Store(text, category, metadata), nil
}

// Content implements core.MemoryReader.
func (m *InMemoryStore) Content(_ context.Context, recordID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordID]
	if !ok {
		return "", false, nil
	}
	return r.Content, true, nil
}

// Get returns a copy of a record.
func (m *InMemoryStore) Get(recordID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordID]
	if !ok {
		return Record{}, core.NewNotFoundError("memory", recordID)
	}
	r.Metadata = core.CloneMap(r.Metadata)
	return r, nil
}

// Records returns records of a category (all categories when empty) in insertion order.
func (m *InMemoryStore) Records(category string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		if category != "" && r.Category != category {
			continue
		}
		r.Metadata = core.CloneMap(r.Metadata)
		out = append(out, r)
	}
	return out
}

// Len returns the number of stored records.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
