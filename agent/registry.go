package agent

import (
	"sort"
	"sync"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/util"
	"github.com/hupe1980/meshcoord/logging"
)

// Options configures a Registry.
type Options struct {
	Clock    core.Clock
	Recorder core.Recorder
	Logger   logging.Logger
}

// Registry owns agent entities and their performance counters. All mutations
// are serialized by one mutex so concurrent outcome reports for the same agent
// never race on the running averages.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*core.Agent

	clock    core.Clock
	recorder core.Recorder
	logger   logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Clock:    core.SystemClock{},
		Recorder: core.NopRecorder{},
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		agents:   make(map[string]*core.Agent),
		clock:    opts.Clock,
		recorder: opts.Recorder,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Register adds a new agent. Re-registering an existing id is rejected so
// accumulated performance is never clobbered.
func (r *Registry) Register(id string, role core.Role, specializations []string) (*core.Agent, error) {
	if id == "" {
		return nil, core.NewValidationError("agentId", "must not be empty")
	}
	if !role.Valid() {
		return nil, core.NewValidationError("role", "unknown role "+string(role))
	}

	r.mu.Lock()
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		return nil, core.NewDuplicateError("agent", id)
	}
	a := &core.Agent{
		ID:              id,
		Role:            role,
		Specializations: core.UniqueStrings(specializations),
		SessionIDs:      []string{},
		LastActivityAt:  r.clock.Now(),
	}
	r.agents[id] = a
	out := a.Clone()
	r.mu.Unlock()

	r.logger.Info("agent.registered", "agent_id", id, "role", string(role))
	r.emit("agent {{.agentId}} registered as {{.role}}", map[string]any{
		"action":          "agent.registered",
		"agentId":         id,
		"role":            string(role),
		"specializations": out.Specializations,
	})
	return out, nil
}

// ReportOutcome folds one task outcome into the agent's running averages.
func (r *Registry) ReportOutcome(id string, success bool, responseTimeMs float64) (*core.Agent, error) {
	if responseTimeMs < 0 {
		return nil, core.NewValidationError("responseTimeMs", "must not be negative")
	}

	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return nil, core.NewNotFoundError("agent", id)
	}
	a.Performance.Record(success, responseTimeMs)
	a.LastActivityAt = r.clock.Now()
	out := a.Clone()
	r.mu.Unlock()

	r.emit("agent {{.agentId}} reported outcome success={{.success}}", map[string]any{
		"action":         "agent.outcome_reported",
		"agentId":        id,
		"success":        success,
		"responseTimeMs": responseTimeMs,
		"successRate":    out.Performance.SuccessRate,
	})
	return out, nil
}

// JoinSession records that the agent participates in sessionID. The caller
// is responsible for checking that the session exists.
func (r *Registry) JoinSession(id, sessionID string) (*core.Agent, error) {
	if sessionID == "" {
		return nil, core.NewValidationError("sessionId", "must not be empty")
	}

	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return nil, core.NewNotFoundError("agent", id)
	}
	before := len(a.SessionIDs)
	a.SessionIDs = core.AppendUnique(a.SessionIDs, sessionID)
	joined := len(a.SessionIDs) > before
	a.LastActivityAt = r.clock.Now()
	out := a.Clone()
	r.mu.Unlock()

	if joined {
		r.emit("agent {{.agentId}} joined session {{.sessionId}}", map[string]any{
			"action":    "agent.session_joined",
			"agentId":   id,
			"sessionId": sessionID,
		})
	}
	return out, nil
}

// RecordConflictResolution credits an agent for mediating a conflict.
func (r *Registry) RecordConflictResolution(id string) {
	r.bump(id, "agent.conflict_credited", func(a *core.Agent) { a.Performance.ConflictResolutions++ })
}

// RecordPatternContribution credits an agent for contributing a pattern.
func (r *Registry) RecordPatternContribution(id string) {
	r.bump(id, "agent.pattern_credited", func(a *core.Agent) { a.Performance.PatternContributions++ })
}

func (r *Registry) bump(id, action string, fn func(a *core.Agent)) {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(a)
	a.LastActivityAt = r.clock.Now()
	r.mu.Unlock()

	r.emit("agent {{.agentId}} credited ({{.action}})", map[string]any{"action": action, "agentId": id})
}

// Get returns a copy of an agent.
func (r *Registry) Get(id string) (*core.Agent, error) {
	a, ok := r.Peek(id)
	if !ok {
		return nil, core.NewNotFoundError("agent", id)
	}
	return a, nil
}

// Peek returns a copy of an agent and whether it exists.
func (r *Registry) Peek(id string) (*core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Mediators returns copies of coordinator and orchestrator agents, excluding
// the ids in exclude, sorted by id.
func (r *Registry) Mediators(exclude []string) []*core.Agent {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	r.mu.RLock()
	out := make([]*core.Agent, 0)
	for id, a := range r.agents {
		if _, ok := skip[id]; ok || !a.Role.IsMediator() {
			continue
		}
		out = append(out, a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) emit(tmpl string, meta map[string]any) {
	r.recorder.Record(util.MustRender(tmpl, meta), core.CategoryAgent, meta)
}
