package core

import (
	"math"
	"time"
)

// Role is the function a session or agent fulfils in the hierarchy.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleSpecialist   Role = "specialist"
	RoleCoordinator  Role = "coordinator"
	RoleValidator    Role = "validator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOrchestrator, RoleSpecialist, RoleCoordinator, RoleValidator:
		return true
	}
	return false
}

// IsMediator reports whether agents with this role may mediate tier-2 conflicts.
func (r Role) IsMediator() bool {
	return r == RoleCoordinator || r == RoleOrchestrator
}

// Precedence ranks roles for agent conflicts; higher wins.
func (r Role) Precedence() int {
	switch r {
	case RoleOrchestrator:
		return 4
	case RoleCoordinator:
		return 3
	case RoleValidator:
		return 2
	case RoleSpecialist:
		return 1
	}
	return 0
}

// Session is a scoped, TTL-bounded unit of agent working context, optionally
// nested under a parent.
//
// Contract:
//   - HierarchyLevel is the parent's level + 1 at creation time, 0 for roots
//   - ChildIDs holds exactly the sessions created with ParentID == ID
//   - Active flips from true to false once, when the TTL elapses
type Session struct {
	ID             string         `json:"id"`
	ParentID       string         `json:"parentId,omitempty"`
	HierarchyLevel int            `json:"hierarchyLevel"`
	Role           Role           `json:"role"`
	State          map[string]any `json:"state"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastAccessAt   time.Time      `json:"lastAccessAt"`
	TTLSeconds     int            `json:"ttlSeconds"`
	Active         bool           `json:"active"`
	ChildIDs       []string       `json:"childIds"`
	MemoryRefs     []string       `json:"memoryRefs"`
}

// maxTTLSeconds is the largest TTL representable as a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// Expired reports whether the session TTL has elapsed at now. A TTL beyond
// the time.Duration range never elapses.
func (s *Session) Expired(now time.Time) bool {
	if int64(s.TTLSeconds) > maxTTLSeconds {
		return false
	}
	return now.Sub(s.CreatedAt) > time.Duration(s.TTLSeconds)*time.Second
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	c := *s
	c.State = CloneMap(s.State)
	c.ChildIDs = cloneStrings(s.ChildIDs)
	c.MemoryRefs = cloneStrings(s.MemoryRefs)
	return &c
}
