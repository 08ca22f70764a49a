package conflict

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/util"
	"github.com/hupe1980/meshcoord/logging"
)

// SessionSource gives read access to sessions without refreshing them.
type SessionSource interface {
	Peek(id string) (*core.Session, bool)
}

// AgentSource gives access to agents for ranking and mediation.
type AgentSource interface {
	Peek(id string) (*core.Agent, bool)
	Mediators(exclude []string) []*core.Agent
	RecordConflictResolution(id string)
}

// PatternSource gives read access to patterns for priority ordering.
type PatternSource interface {
	Peek(id string) (*core.Pattern, bool)
}

// Thresholds are the fixed decision constants of the strategies.
type Thresholds struct {
	// Similarity is the minimum token Jaccard similarity for deduplication.
	Similarity float64
	// RecencyWindow bounds how stale a session may be to win on recency.
	RecencyWindow time.Duration
	// Confidence is the minimum pattern confidence for priority ordering.
	Confidence float64
	// Contextual is the score a mediator must exceed in contextual analysis.
	Contextual float64
	// Voting is the vote share the winner must exceed.
	Voting float64
	// MaxMediation bounds tier 2 as a whole.
	MaxMediation time.Duration
}

// DefaultThresholds returns the built-in decision constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity:    0.85,
		RecencyWindow: 5 * time.Minute,
		Confidence:    0.7,
		Contextual:    0.8,
		Voting:        0.66,
		MaxMediation:  30 * time.Second,
	}
}

// Options configures a Resolver.
type Options struct {
	Thresholds Thresholds
	Clock      core.Clock
	Recorder   core.Recorder
	Logger     logging.Logger
	Sessions   SessionSource
	Agents     AgentSource
	Patterns   PatternSource
	// Memory supplies record contents for deduplication when the caller does
	// not pass them in metadata["contents"].
	Memory core.MemoryReader
	// LookupTimeout bounds each Memory lookup. Zero leaves the caller's
	// context as the only bound.
	LookupTimeout time.Duration
}

// Request describes a detected conflict.
type Request struct {
	Kind        core.ConflictKind
	InvolvedIDs []string
	Severity    core.Severity
	Metadata    map[string]any
}

// Strategy identifiers recorded on conflicts.
const (
	StrategySimilarityDedup    = "similarity_dedup"
	StrategyTemporalRecency    = "temporal_recency"
	StrategyAgentPrecedence    = "agent_precedence"
	StrategyPriorityOrdering   = "priority_ordering"
	StrategyContextualAnalysis = "contextual_analysis"
	StrategyMediatorVoting     = "mediator_voting"
	StrategyMediation          = "mediation"
)

// outcome is the verdict of one strategy attempt.
type outcome struct {
	success    bool
	winner     string
	detail     string
	resolution map[string]any
	// credit lists mediators to reward when the attempt succeeds.
	credit []string
}

type strategy struct {
	name string
	run  func(ctx context.Context, c *core.Conflict) outcome
}

// Resolver runs conflicts through the tiers and keeps every conflict it has
// seen. The conflict map and the active list share one mutex.
type Resolver struct {
	mu        sync.RWMutex
	conflicts map[string]*core.Conflict
	active    []string

	th       Thresholds
	clock    core.Clock
	recorder core.Recorder
	logger   logging.Logger
	sessions SessionSource
	agents   AgentSource
	patterns PatternSource
	memory   core.MemoryReader
	lookup   time.Duration
}

// NewResolver constructs a resolver.
func NewResolver(optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Thresholds: DefaultThresholds(),
		Clock:      core.SystemClock{},
		Recorder:   core.NopRecorder{},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Resolver{
		conflicts: make(map[string]*core.Conflict),
		th:        opts.Thresholds,
		clock:     opts.Clock,
		recorder:  opts.Recorder,
		logger:    logging.OrNoOp(opts.Logger),
		sessions:  opts.Sessions,
		agents:    opts.Agents,
		patterns:  opts.Patterns,
		memory:    opts.Memory,
		lookup:    opts.LookupTimeout,
	}
}

// Resolve validates req and runs the conflict to resolution or escalation.
// Escalation is a terminal outcome, not an error; errors are returned only
// for malformed requests.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*core.Conflict, error) {
	if !req.Kind.Valid() {
		return nil, core.NewValidationError("kind", "unknown conflict kind "+string(req.Kind))
	}
	if !req.Severity.Valid() {
		return nil, core.NewValidationError("severity", "unknown severity "+string(req.Severity))
	}
	ids := core.UniqueStrings(req.InvolvedIDs)
	if len(ids) == 0 {
		return nil, core.NewValidationError("involvedIds", "must name at least one id")
	}

	c := &core.Conflict{
		ID:          core.NewID(),
		Kind:        req.Kind,
		Severity:    req.Severity,
		InvolvedIDs: ids,
		Status:      core.StatusInProgress,
		Metadata:    core.CloneMap(req.Metadata),
		History:     []core.TierAttempt{},
		CreatedAt:   r.clock.Now(),
	}
	r.store(c)

	// Tier 1.
	c.Tier = 1
	for _, s := range r.tierOne(c.Kind) {
		if r.attempt(ctx, c, s) {
			return r.finish(c), nil
		}
	}

	// Tier 2.
	c.Tier = 2
	if r.mediate(ctx, c) {
		return r.finish(c), nil
	}

	// Tier 3.
	r.escalate(c)
	return r.finish(c), nil
}

// attempt runs one strategy, records it in the history and, on success,
// marks the conflict resolved.
func (r *Resolver) attempt(ctx context.Context, c *core.Conflict, s strategy) bool {
	out := s.run(ctx, c)
	c.History = append(c.History, core.TierAttempt{Tier: c.Tier, Strategy: s.name, Success: out.success, Detail: out.detail})
	if !out.success {
		return false
	}
	r.resolve(c, s.name, out)
	return true
}

func (r *Resolver) resolve(c *core.Conflict, name string, out outcome) {
	now := r.clock.Now()
	c.Status = core.StatusResolved
	c.Strategy = name
	c.Winner = out.winner
	c.Resolution = out.resolution
	c.ResolvedAt = &now

	if r.agents != nil {
		for _, id := range out.credit {
			r.agents.RecordConflictResolution(id)
		}
	}

	r.logger.Info("conflict.resolved", "conflict_id", c.ID, "tier", c.Tier, "strategy", name)
	r.emit("conflict {{.conflictId}} resolved at tier {{.tier}} by {{.strategy}}", map[string]any{
		"action":      "conflict.resolved",
		"conflictId":  c.ID,
		"kind":        string(c.Kind),
		"severity":    string(c.Severity),
		"tier":        c.Tier,
		"strategy":    name,
		"winner":      c.Winner,
		"involvedIds": c.InvolvedIDs,
	})
}

// notificationChannels maps a severity to its tier-3 notification routes.
func notificationChannels(s core.Severity) []string {
	switch s {
	case core.SeverityMedium:
		return []string{"log", "audit"}
	case core.SeverityHigh:
		return []string{"log", "audit", "review_queue"}
	case core.SeverityCritical:
		return []string{"log", "audit", "review_queue", "page"}
	}
	return []string{"log"}
}

func (r *Resolver) escalate(c *core.Conflict) {
	c.Tier = 3
	c.Status = core.StatusEscalated
	c.Strategy = ""
	channels := notificationChannels(c.Severity)
	c.Resolution = map[string]any{"channels": channels, "reason": "automatic and mediated resolution failed"}

	r.logger.Warn("conflict.escalated", "conflict_id", c.ID, "kind", string(c.Kind), "severity", string(c.Severity), "channels", channels)

	history := make([]core.TierAttempt, len(c.History))
	copy(history, c.History)
	r.emit("conflict {{.conflictId}} escalated for review ({{.severity}})", map[string]any{
		"action":      "conflict.escalated",
		"conflictId":  c.ID,
		"kind":        string(c.Kind),
		"severity":    string(c.Severity),
		"tier":        c.Tier,
		"involvedIds": c.InvolvedIDs,
		"channels":    channels,
		"history":     history,
		"metadata":    core.CloneMap(c.Metadata),
	})
}

// effectiveSimilarity tightens the base threshold for more severe conflicts.
func (r *Resolver) effectiveSimilarity(s core.Severity) float64 {
	return math.Min(1, r.th.Similarity+0.03*float64(s.Rank()))
}

func (r *Resolver) store(c *core.Conflict) {
	r.mu.Lock()
	r.conflicts[c.ID] = c.Clone()
	r.mu.Unlock()
}

// finish commits the terminal state. Escalated conflicts join the review
// list in the same critical section so readers never see them half done.
func (r *Resolver) finish(c *core.Conflict) *core.Conflict {
	r.mu.Lock()
	r.conflicts[c.ID] = c.Clone()
	if c.Status == core.StatusEscalated {
		r.active = append(r.active, c.ID)
	}
	r.mu.Unlock()
	return c.Clone()
}

// Get returns a copy of a conflict.
func (r *Resolver) Get(id string) (*core.Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, core.NewNotFoundError("conflict", id)
	}
	return c.Clone(), nil
}

// List returns copies of conflicts with the given status (all when empty),
// oldest first.
func (r *Resolver) List(status core.ConflictStatus) []*core.Conflict {
	r.mu.RLock()
	out := make([]*core.Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveConflicts returns escalated conflicts awaiting human review in
// escalation order.
func (r *Resolver) ActiveConflicts() []*core.Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Conflict, 0, len(r.active))
	for _, id := range r.active {
		out = append(out, r.conflicts[id].Clone())
	}
	return out
}

// Acknowledge removes an escalated conflict from the review list. The
// conflict itself stays escalated.
func (r *Resolver) Acknowledge(id string) error {
	r.mu.Lock()
	idx := -1
	for i, a := range r.active {
		if a == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return core.NewNotFoundError("active conflict", id)
	}
	r.active = append(r.active[:idx], r.active[idx+1:]...)
	r.mu.Unlock()

	r.emit("conflict {{.conflictId}} acknowledged", map[string]any{"action": "conflict.acknowledged", "conflictId": id})
	return nil
}

// Counts returns the number of open, resolved and escalated conflicts.
func (r *Resolver) Counts() (open, resolved, escalated int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conflicts {
		switch c.Status {
		case core.StatusResolved:
			resolved++
		case core.StatusEscalated:
			escalated++
		default:
			open++
		}
	}
	return open, resolved, escalated
}

func (r *Resolver) emit(tmpl string, meta map[string]any) {
	r.recorder.Record(util.MustRender(tmpl, meta), core.CategoryConflict, meta)
}
