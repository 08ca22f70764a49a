package core

import "context"

// Audit categories used by the stores when emitting records.
const (
	CategorySession  = "session"
	CategoryAgent    = "agent"
	CategoryConflict = "conflict"
	CategoryPattern  = "pattern"
)

// AuditSink is the external append-only memory store receiving a record of
// every state-changing action. It returns the id of the stored record.
type AuditSink interface {
	RecordEvent(ctx context.Context, text, category string, metadata map[string]any) (string, error)
}

// MemoryReader optionally exposes the text content of external memory
// records. The conflict resolver uses it for memory deduplication.
type MemoryReader interface {
	Content(ctx context.Context, recordID string) (string, bool, error)
}

// Recorder is the fire-and-forget side of an audit sink. Implementations must
// not block the caller and must never report failures back to it.
type Recorder interface {
	Record(text, category string, metadata map[string]any)
}

// NopRecorder discards audit events.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(string, string, map[string]any) {}
