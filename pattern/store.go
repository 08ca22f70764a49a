package pattern

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/util"
	"github.com/hupe1980/meshcoord/logging"
)

// ActionExecutor runs a pattern's actions against a caller context.
type ActionExecutor interface {
	Execute(ctx context.Context, p *core.Pattern, input map[string]any) error
}

// ExecutorFunc adapts a function to ActionExecutor.
type ExecutorFunc func(ctx context.Context, p *core.Pattern, input map[string]any) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, p *core.Pattern, input map[string]any) error {
	return f(ctx, p, input)
}

// NopExecutor accepts every action set.
var NopExecutor = ExecutorFunc(func(context.Context, *core.Pattern, map[string]any) error { return nil })

// Options configures a Store.
type Options struct {
	Clock    core.Clock
	Recorder core.Recorder
	Logger   logging.Logger
	Executor ActionExecutor
	// MatchThreshold is the minimum MatchScore for an application to run.
	MatchThreshold float64
	// MinTrials is the usage count before re-analysis adjusts confidence.
	MinTrials int
	// ConfidenceStep bounds the confidence change per re-analysis pass.
	ConfidenceStep float64
}

// LearnParams describes a new pattern.
type LearnParams struct {
	Kind               core.PatternKind
	Conditions         map[string]any
	Actions            map[string]any
	ApplicableContexts []string
	ContributedBy      string
}

// ApplyResult reports an application attempt.
type ApplyResult struct {
	Applied bool    `json:"applied"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
}

// Store learns and applies patterns.
type Store struct {
	mu       sync.RWMutex
	patterns map[string]*core.Pattern
	applied  int

	clock     core.Clock
	recorder  core.Recorder
	logger    logging.Logger
	executor  ActionExecutor
	threshold float64
	minTrials int
	step      float64
}

// NewStore constructs an empty pattern store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{
		Clock:          core.SystemClock{},
		Recorder:       core.NopRecorder{},
		Logger:         logging.NoOpLogger{},
		Executor:       NopExecutor,
		MatchThreshold: 0.7,
		MinTrials:      5,
		ConfidenceStep: 0.1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Executor == nil {
		opts.Executor = NopExecutor
	}
	return &Store{
		patterns:  make(map[string]*core.Pattern),
		clock:     opts.Clock,
		recorder:  opts.Recorder,
		logger:    logging.OrNoOp(opts.Logger),
		executor:  opts.Executor,
		threshold: opts.MatchThreshold,
		minTrials: opts.MinTrials,
		step:      opts.ConfidenceStep,
	}
}

// Learn stores a new pattern with neutral confidence and no usage.
func (s *Store) Learn(p LearnParams) (*core.Pattern, error) {
	if !p.Kind.Valid() {
		return nil, core.NewValidationError("kind", "unknown pattern kind "+string(p.Kind))
	}
	contexts := core.UniqueStrings(p.ApplicableContexts)
	for _, c := range contexts {
		if !doublestar.ValidatePattern(c) {
			return nil, core.NewValidationError("applicableContexts", "invalid glob "+c)
		}
	}

	pat := &core.Pattern{
		ID:                 core.NewID(),
		Kind:               p.Kind,
		Conditions:         core.CloneMap(p.Conditions),
		Actions:            core.CloneMap(p.Actions),
		Confidence:         core.InitialConfidence,
		ApplicableContexts: contexts,
		ContributedBy:      p.ContributedBy,
		CreatedAt:          s.clock.Now(),
	}

	s.mu.Lock()
	s.patterns[pat.ID] = pat
	out := pat.Clone()
	s.mu.Unlock()

	s.logger.Debug("pattern.learned", "pattern_id", out.ID, "kind", string(out.Kind))
	s.emit("pattern {{.patternId}} learned ({{.kind}})", map[string]any{
		"action":        "pattern.learned",
		"patternId":     out.ID,
		"kind":          string(out.Kind),
		"conditions":    len(out.Conditions),
		"contributedBy": out.ContributedBy,
	})
	return out, nil
}

// Apply scores the pattern against input and, at or above the match
// threshold, executes its actions. Unknown ids, disallowed scopes and
// insufficient matches return Applied=false without touching any counter.
// Executed attempts always count as a usage; Applied reflects whether the
// execution succeeded.
func (s *Store) Apply(ctx context.Context, id string, input map[string]any, scope string) ApplyResult {
	pat, ok := s.Peek(id)
	if !ok {
		return ApplyResult{Reason: "not_found"}
	}
	if !ScopeAllowed(pat.ApplicableContexts, scope) {
		return ApplyResult{Reason: "scope_mismatch"}
	}
	score := MatchScore(pat.Conditions, input)
	if score < s.threshold {
		return ApplyResult{Score: score, Reason: "below_threshold"}
	}

	err := s.executor.Execute(ctx, pat, core.CloneMap(input))
	success := err == nil

	now := s.clock.Now()
	s.mu.Lock()
	stored, ok := s.patterns[id]
	if ok {
		stored.UsageCount++
		n := float64(stored.UsageCount)
		outcome := 0.0
		if success {
			outcome = 1.0
			s.applied++
		}
		stored.SuccessRate = (stored.SuccessRate*(n-1) + outcome) / n
		stored.LastAppliedAt = &now
	}
	s.mu.Unlock()

	res := ApplyResult{Applied: success, Score: score}
	meta := map[string]any{
		"action":    "pattern.applied",
		"patternId": id,
		"score":     score,
		"success":   success,
	}
	if err != nil {
		res.Reason = "execution_failed"
		meta["error"] = err.Error()
		s.logger.Warn("pattern.execution_failed", "pattern_id", id, "error", err.Error())
	}
	s.emit("pattern {{.patternId}} applied success={{.success}}", meta)
	return res
}

// Reanalyze moves the confidence of every sufficiently used pattern toward its
// observed success rate by at most one step, clamped to [0,1]. It returns the
// number of patterns whose confidence changed.
func (s *Store) Reanalyze() int {
	s.mu.RLock()
	ids := make([]string, 0, len(s.patterns))
	for id := range s.patterns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	changed := 0
	for _, id := range ids {
		s.mu.Lock()
		p, ok := s.patterns[id]
		if !ok || p.UsageCount < s.minTrials {
			s.mu.Unlock()
			continue
		}
		before := p.Confidence
		p.Confidence = nextConfidence(before, p.SuccessRate, s.step)
		after := p.Confidence
		s.mu.Unlock()

		if after == before {
			continue
		}
		changed++
		s.emit("pattern {{.patternId}} confidence adjusted", map[string]any{
			"action":    "pattern.confidence_adjusted",
			"patternId": id,
			"from":      before,
			"to":        after,
		})
	}
	return changed
}

// nextConfidence moves current toward target by at most step, clamped to [0,1].
func nextConfidence(current, target, step float64) float64 {
	delta := target - current
	if delta > step {
		delta = step
	} else if delta < -step {
		delta = -step
	}
	return math.Min(1, math.Max(0, current+delta))
}

// Peek returns a copy of a pattern.
func (s *Store) Peek(id string) (*core.Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Get returns a copy of a pattern or a not found error.
func (s *Store) Get(id string) (*core.Pattern, error) {
	p, ok := s.Peek(id)
	if !ok {
		return nil, core.NewNotFoundError("pattern", id)
	}
	return p, nil
}

// List returns copies of patterns of kind (all kinds when empty), oldest first.
func (s *Store) List(kind core.PatternKind) []*core.Pattern {
	s.mu.RLock()
	out := make([]*core.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if kind != "" && p.Kind != kind {
			continue
		}
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts returns the number of learned patterns and successful applications.
func (s *Store) Counts() (learned, applied int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns), s.applied
}

func (s *Store) emit(tmpl string, meta map[string]any) {
	s.recorder.Record(util.MustRender(tmpl, meta), core.CategoryPattern, meta)
}
