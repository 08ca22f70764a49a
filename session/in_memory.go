package session

import (
	"sync"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/util"
	"github.com/hupe1980/meshcoord/logging"
)

// Options configures a Store.
type Options struct {
	Clock    core.Clock
	Recorder core.Recorder
	Logger   logging.Logger
	// DefaultTTL applies when a session is created without a TTL.
	DefaultTTL time.Duration
}

// CreateParams describes a new session.
type CreateParams struct {
	Role         core.Role
	ParentID     string
	InitialState map[string]any
	// TTLSeconds of zero selects the store default.
	TTLSeconds int
}

// Store is the in-memory session store. It is safe for concurrent access:
// every mutation of the session map, including linking a child into its
// parent's ChildIDs, happens under a single write lock. Returned sessions are
// clones so callers never share internal state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session

	clock      core.Clock
	recorder   core.Recorder
	logger     logging.Logger
	defaultTTL int
}

// NewStore constructs an empty session store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{
		Clock:      core.SystemClock{},
		Recorder:   core.NopRecorder{},
		Logger:     logging.NoOpLogger{},
		DefaultTTL: time.Hour,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		sessions:   make(map[string]*core.Session),
		clock:      opts.Clock,
		recorder:   opts.Recorder,
		logger:     logging.OrNoOp(opts.Logger),
		defaultTTL: int(opts.DefaultTTL / time.Second),
	}
}

// Create validates p and stores a new session. A parent must exist and be
// active; the child id is appended to the parent's ChildIDs atomically.
func (s *Store) Create(p CreateParams) (*core.Session, error) {
	if !p.Role.Valid() {
		return nil, core.NewValidationError("role", "unknown role "+string(p.Role))
	}
	if p.TTLSeconds < 0 {
		return nil, core.NewValidationError("ttlSeconds", "must not be negative")
	}
	ttl := p.TTLSeconds
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	now := s.clock.Now()
	var expired []*core.Session

	s.mu.Lock()
	level := 0
	var parent *core.Session
	if p.ParentID != "" {
		var ok bool
		parent, ok = s.sessions[p.ParentID]
		if !ok {
			s.mu.Unlock()
			return nil, core.NewInvalidParentError(p.ParentID, "not found")
		}
		if expireLocked(parent, now) {
			expired = append(expired, parent.Clone())
		}
		if !parent.Active {
			s.mu.Unlock()
			s.emitExpired(expired)
			return nil, core.NewInvalidParentError(p.ParentID, "inactive")
		}
		level = parent.HierarchyLevel + 1
	}

	sess := &core.Session{
		ID:             core.NewID(),
		ParentID:       p.ParentID,
		HierarchyLevel: level,
		Role:           p.Role,
		State:          core.CloneMap(p.InitialState),
		CreatedAt:      now,
		LastAccessAt:   now,
		TTLSeconds:     ttl,
		Active:         true,
		ChildIDs:       []string{},
		MemoryRefs:     []string{},
	}
	s.sessions[sess.ID] = sess
	if parent != nil {
		parent.ChildIDs = append(parent.ChildIDs, sess.ID)
	}
	out := sess.Clone()
	s.mu.Unlock()

	s.emitExpired(expired)
	s.logger.Debug("session.created", "session_id", out.ID, "parent_id", out.ParentID, "level", out.HierarchyLevel)
	s.emit("session {{.sessionId}} created as {{.role}} at level {{.hierarchyLevel}}", map[string]any{
		"action":         "session.created",
		"sessionId":      out.ID,
		"parentId":       out.ParentID,
		"role":           string(out.Role),
		"hierarchyLevel": out.HierarchyLevel,
		"ttlSeconds":     out.TTLSeconds,
	})

	return out, nil
}

// Get returns a copy of the session and refreshes its LastAccessAt. When
// includeHierarchy is set the returned State is the merge of the parent chain,
// applied root first so descendants override ancestors. The merge is a
// projection; stored state is untouched.
func (s *Store) Get(id string, includeHierarchy bool) (*core.Session, error) {
	now := s.clock.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, core.NewNotFoundError("session", id)
	}
	var expired []*core.Session
	if expireLocked(sess, now) {
		expired = append(expired, sess.Clone())
	}
	sess.LastAccessAt = now
	out := sess.Clone()
	if includeHierarchy && sess.ParentID != "" {
		out.State = s.mergedStateLocked(sess)
	}
	s.mu.Unlock()

	s.emitExpired(expired)
	return out, nil
}

// mergedStateLocked folds the states of the ancestor chain root-to-leaf.
// Purged ancestors end the chain. Caller must hold the lock.
func (s *Store) mergedStateLocked(leaf *core.Session) map[string]any {
	chain := []*core.Session{leaf}
	for cur := leaf; cur.ParentID != ""; {
		parent, ok := s.sessions[cur.ParentID]
		if !ok {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}

	merged := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range core.CloneMap(chain[i].State) {
			merged[k] = v
		}
	}
	return merged
}

// Peek returns a copy of the session without touching LastAccessAt.
func (s *Store) Peek(id string) (*core.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// UpdateState merges delta into the stored state of an active session.
func (s *Store) UpdateState(id string, delta map[string]any) (*core.Session, error) {
	now := s.clock.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, core.NewNotFoundError("session", id)
	}
	var expired []*core.Session
	if expireLocked(sess, now) {
		expired = append(expired, sess.Clone())
	}
	if !sess.Active {
		s.mu.Unlock()
		s.emitExpired(expired)
		return nil, core.NewValidationError("sessionId", "session "+id+" is inactive")
	}
	for k, v := range core.CloneMap(delta) {
		sess.State[k] = v
	}
	sess.LastAccessAt = now
	out := sess.Clone()
	s.mu.Unlock()

	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	s.emit("session {{.sessionId}} state updated", map[string]any{
		"action":    "session.state_updated",
		"sessionId": id,
		"keys":      keys,
	})
	return out, nil
}

// AttachMemory associates an external memory record with the session.
func (s *Store) AttachMemory(id, recordID string) (*core.Session, error) {
	if recordID == "" {
		return nil, core.NewValidationError("recordId", "must not be empty")
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, core.NewNotFoundError("session", id)
	}
	before := len(sess.MemoryRefs)
	sess.MemoryRefs = core.AppendUnique(sess.MemoryRefs, recordID)
	added := len(sess.MemoryRefs) > before
	out := sess.Clone()
	s.mu.Unlock()

	if !added {
		return out, nil
	}
	s.emit("memory {{.recordId}} attached to session {{.sessionId}}", map[string]any{
		"action":    "session.memory_attached",
		"sessionId": id,
		"recordId":  recordID,
	})
	return out, nil
}

// SweepExpired deactivates every active session whose TTL has elapsed and
// returns the number of transitions. It works over a snapshot of ids and takes
// the lock per session, so callers are never paused for a whole pass.
func (s *Store) SweepExpired() int {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var expired []*core.Session
	for _, id := range ids {
		now := s.clock.Now()
		s.mu.Lock()
		if sess, ok := s.sessions[id]; ok && expireLocked(sess, now) {
			expired = append(expired, sess.Clone())
		}
		s.mu.Unlock()
	}

	s.emitExpired(expired)
	return len(expired)
}

// Purge physically removes inactive sessions and returns how many were
// removed. Parents keep purged ids in ChildIDs.
func (s *Store) Purge() int {
	s.mu.Lock()
	var purged []string
	for id, sess := range s.sessions {
		if !sess.Active {
			delete(s.sessions, id)
			purged = append(purged, id)
		}
	}
	s.mu.Unlock()

	for _, id := range purged {
		s.emit("session {{.sessionId}} purged", map[string]any{"action": "session.purged", "sessionId": id})
	}
	return len(purged)
}

// Counts returns the number of active sessions and the total stored.
func (s *Store) Counts() (active, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Active {
			active++
		}
	}
	return active, len(s.sessions)
}

// expireLocked flips Active when the TTL has elapsed. It reports whether a
// transition happened; an inactive session never becomes active again.
func expireLocked(sess *core.Session, now time.Time) bool {
	if !sess.Active || !sess.Expired(now) {
		return false
	}
	sess.Active = false
	return true
}

func (s *Store) emitExpired(sessions []*core.Session) {
	for _, sess := range sessions {
		s.logger.Info("session.expired", "session_id", sess.ID, "ttl_seconds", sess.TTLSeconds)
		s.emit("session {{.sessionId}} expired after {{.ttlSeconds}}s", map[string]any{
			"action":     "session.expired",
			"sessionId":  sess.ID,
			"ttlSeconds": sess.TTLSeconds,
		})
	}
}

func (s *Store) emit(tmpl string, meta map[string]any) {
	s.recorder.Record(util.MustRender(tmpl, meta), core.CategorySession, meta)
}
