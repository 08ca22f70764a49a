// Package graph persists audit events as nodes in a Neo4j compatible graph.
// Each event becomes an (:AuditEvent) linked to its (:AuditCategory), so the
// audit trail can be traversed per component.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/oklog/ulid/v2"
)

// Writer executes write queries. *Driver implements it.
type Writer interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// Querier executes read queries. *Driver implements it.
type Querier interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Sink is a core.AuditSink writing into the graph. When the writer also
// implements Querier the sink serves as a core.MemoryReader.
type Sink struct {
	w Writer
}

var (
	_ core.AuditSink    = (*Sink)(nil)
	_ core.MemoryReader = (*Sink)(nil)
)

// NewSink wraps w.
func NewSink(w Writer) *Sink {
	return &Sink{w: w}
}

const createEvent = `
	MERGE (c:AuditCategory {name: $category})
	CREATE (e:AuditEvent {
		id: $id,
		text: $text,
		action: $action,
		metadata: $metadata,
		timestamp: $timestamp
	})
	CREATE (c)-[:HAS_EVENT]->(e)
`

const eventText = `MATCH (e:AuditEvent {id: $id}) RETURN e.text AS text LIMIT 1`

// RecordEvent implements core.AuditSink. Node properties must be scalar, so
// metadata is stored as a JSON string.
func (s *Sink) RecordEvent(ctx context.Context, text, category string, metadata map[string]any) (string, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	action, _ := metadata["action"].(string)
	id := ulid.Make().String()

	params := map[string]any{
		"id":        id,
		"category":  category,
		"text":      text,
		"action":    action,
		"metadata":  string(metaJSON),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.w.ExecuteWrite(ctx, createEvent, params); err != nil {
		return "", err
	}
	return id, nil
}

// Content implements core.MemoryReader.
func (s *Sink) Content(ctx context.Context, recordID string) (string, bool, error) {
	q, ok := s.w.(Querier)
	if !ok {
		return "", false, nil
	}
	rows, err := q.Execute(ctx, eventText, map[string]any{"id": recordID})
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	text, ok := rows[0]["text"].(string)
	return text, ok, nil
}
