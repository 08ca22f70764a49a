package core

import "time"

// ConflictKind identifies what the involved ids refer to.
type ConflictKind string

const (
	ConflictMemory  ConflictKind = "memory"
	ConflictSession ConflictKind = "session"
	ConflictAgent   ConflictKind = "agent"
	ConflictPattern ConflictKind = "pattern"
)

// Valid reports whether k is a known conflict kind.
func (k ConflictKind) Valid() bool {
	switch k {
	case ConflictMemory, ConflictSession, ConflictAgent, ConflictPattern:
		return true
	}
	return false
}

// Severity grades a conflict. It never skips tiers; it selects tier-3
// notification channels and tightens default thresholds.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities from 0 (low) to 3 (critical).
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// ConflictStatus is the resolution state of a conflict.
type ConflictStatus string

const (
	StatusPending    ConflictStatus = "pending"
	StatusInProgress ConflictStatus = "in_progress"
	StatusResolved   ConflictStatus = "resolved"
	StatusEscalated  ConflictStatus = "escalated"
)

// TierAttempt records one strategy attempt during resolution.
type TierAttempt struct {
	Tier     int    `json:"tier"`
	Strategy string `json:"strategy"`
	Success  bool   `json:"success"`
	Detail   string `json:"detail,omitempty"`
}

// Conflict is a detected disagreement requiring resolution.
//
// Contract:
//   - Tier only increases during a resolution attempt
//   - Status is resolved only with ResolvedAt set and Strategy non-empty
//   - Status is escalated only after tiers 1 and 2 were attempted
type Conflict struct {
	ID          string         `json:"id"`
	Kind        ConflictKind   `json:"kind"`
	Severity    Severity       `json:"severity"`
	InvolvedIDs []string       `json:"involvedIds"`
	Tier        int            `json:"tier"`
	Status      ConflictStatus `json:"status"`
	Strategy    string         `json:"strategy"`
	Winner      string         `json:"winner,omitempty"`
	Resolution  map[string]any `json:"resolution,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	History     []TierAttempt  `json:"history"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
}

// Clone returns a deep copy of the conflict.
func (c *Conflict) Clone() *Conflict {
	out := *c
	out.InvolvedIDs = cloneStrings(c.InvolvedIDs)
	if c.Resolution != nil {
		out.Resolution = CloneMap(c.Resolution)
	}
	if c.Metadata != nil {
		out.Metadata = CloneMap(c.Metadata)
	}
	out.History = make([]TierAttempt, len(c.History))
	copy(out.History, c.History)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
