// Package core provides the foundational domain types and collaborator
// contracts used by meshcoord. It defines:
//
//   - Sessions (TTL-bounded, optionally nested units of agent working context)
//   - Agents (coordination participants with performance counters)
//   - Conflicts (tiered disagreements and their resolution record)
//   - Patterns (learned condition → action associations)
//   - Typed errors shared by every store
//   - Clock, AuditSink and MemoryReader collaborator interfaces
//
// The package keeps storage and orchestration out of scope. Values returned by
// the stores are always copies; mutating them never affects stored state.
package core
