// Package meshcoord is the coordination engine façade. A Coordinator owns the
// four stores (sessions, agents, conflicts, patterns), the asynchronous audit
// emitter in front of the external memory store, and a scheduler running the
// session expiry sweep and the pattern re-analysis sweep.
//
// Most applications:
//  1. Create a Coordinator via New() (optionally overriding config, sink, clock)
//  2. Start the background sweeps with Start(ctx)
//  3. Call the typed methods or dispatch named operations through Execute
//  4. Close() to stop the sweeps and drain pending audit events
package meshcoord

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/meshcoord/agent"
	"github.com/hupe1980/meshcoord/audit"
	"github.com/hupe1980/meshcoord/config"
	"github.com/hupe1980/meshcoord/conflict"
	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/logging"
	"github.com/hupe1980/meshcoord/memory"
	"github.com/hupe1980/meshcoord/memory/graph"
	"github.com/hupe1980/meshcoord/memory/sqlite"
	"github.com/hupe1980/meshcoord/pattern"
	"github.com/hupe1980/meshcoord/session"
)

// Options configures a Coordinator.
type Options struct {
	Config config.Config
	// Logger defaults to NoOp. A *logging.CoordLogger additionally gets
	// per-component loggers and conflict/sweep helpers.
	Logger logging.Logger
	// AuditSink overrides the sink selected by Config.Audit.Backend.
	AuditSink core.AuditSink
	// MemoryReader supplies record contents for memory deduplication. When
	// nil and the sink can read, the sink is used.
	MemoryReader core.MemoryReader
	Clock        core.Clock
	// ActionExecutor runs pattern actions. Defaults to one that always succeeds.
	ActionExecutor pattern.ActionExecutor
}

// Coordinator is the façade aggregating the stores, audit and scheduler.
type Coordinator struct {
	cfg     config.Config
	logger  logging.Logger
	emitter *audit.Emitter
	closers []io.Closer

	sessions *session.Store
	agents   *agent.Registry
	resolver *conflict.Resolver
	patterns *pattern.Store

	ops map[string]*Operation

	schedMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Coordinator. Unset collaborators fall back to in-memory
// implementations.
func New(optFns ...func(o *Options)) (*Coordinator, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
		Clock:  core.SystemClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNoOp(opts.Logger)
	cfg := opts.Config

	c := &Coordinator{cfg: cfg, logger: logger}

	sink := opts.AuditSink
	local := true
	if sink == nil {
		var err error
		if sink, local, err = c.openSink(cfg.Audit); err != nil {
			return nil, err
		}
	}
	// Only an in-process sink doubles as the memory reader; the graph
	// backend would put a network round trip inside Resolve.
	reader := opts.MemoryReader
	if reader == nil && local {
		reader, _ = sink.(core.MemoryReader)
	}

	c.emitter = audit.NewEmitter(sink, func(o *audit.Options) {
		o.BufferSize = cfg.Audit.Buffer
		o.Timeout = cfg.Audit.Timeout
		o.Logger = componentLogger(logger, "audit")
	})

	c.sessions = session.NewStore(func(o *session.Options) {
		o.Clock = opts.Clock
		o.Recorder = c.emitter
		o.Logger = componentLogger(logger, "session")
		o.DefaultTTL = cfg.Session.DefaultTTL
	})
	c.agents = agent.NewRegistry(func(o *agent.Options) {
		o.Clock = opts.Clock
		o.Recorder = c.emitter
		o.Logger = componentLogger(logger, "agent")
	})
	c.patterns = pattern.NewStore(func(o *pattern.Options) {
		o.Clock = opts.Clock
		o.Recorder = c.emitter
		o.Logger = componentLogger(logger, "pattern")
		o.Executor = opts.ActionExecutor
		o.MatchThreshold = cfg.Pattern.MatchThreshold
		o.MinTrials = cfg.Pattern.MinTrials
		o.ConfidenceStep = cfg.Pattern.ConfidenceStep
	})
	c.resolver = conflict.NewResolver(func(o *conflict.Options) {
		o.Thresholds = conflict.Thresholds{
			Similarity:    cfg.Conflict.SimilarityThreshold,
			RecencyWindow: cfg.Conflict.RecencyWindow,
			Confidence:    cfg.Conflict.ConfidenceThreshold,
			Contextual:    cfg.Conflict.ContextualThreshold,
			Voting:        cfg.Conflict.VotingThreshold,
			MaxMediation:  cfg.Conflict.MaxMediation,
		}
		o.Clock = opts.Clock
		o.Recorder = c.emitter
		o.Logger = componentLogger(logger, "conflict")
		o.Sessions = c.sessions
		o.Agents = c.agents
		o.Patterns = c.patterns
		o.Memory = reader
		o.LookupTimeout = cfg.Audit.Timeout
	})

	c.ops = c.operations()
	return c, nil
}

// openSink builds the configured audit backend and reports whether it runs
// in-process.
func (c *Coordinator) openSink(cfg config.AuditConfig) (core.AuditSink, bool, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, false, fmt.Errorf("open sqlite audit sink: %w", err)
		}
		c.closers = append(c.closers, s)
		return s, true, nil
	case config.BackendGraph:
		d, err := graph.Connect(graph.Config{URI: cfg.GraphURI, Username: cfg.GraphUser, Password: cfg.GraphPassword})
		if err != nil {
			return nil, false, fmt.Errorf("connect graph audit sink: %w", err)
		}
		c.closers = append(c.closers, d)
		return graph.NewSink(d), false, nil
	default:
		return memory.NewInMemoryStore(), true, nil
	}
}

func componentLogger(l logging.Logger, component string) logging.Logger {
	if cl, ok := l.(*logging.CoordLogger); ok {
		return cl.WithComponent(component)
	}
	return l
}

// Config returns the effective configuration.
func (c *Coordinator) Config() config.Config { return c.cfg }

// Flush waits until every queued audit event reached the sink.
func (c *Coordinator) Flush() { c.emitter.Flush() }

// Close stops the scheduler, drains the audit queue and releases the sink.
func (c *Coordinator) Close() error {
	c.Stop()
	c.emitter.Close()
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

// CreateSession creates a root or child session.
func (c *Coordinator) CreateSession(req CreateSessionRequest) (*core.Session, error) {
	return c.sessions.Create(session.CreateParams{
		Role:         core.Role(req.Role),
		ParentID:     req.ParentID,
		InitialState: req.InitialState,
		TTLSeconds:   req.TTLSeconds,
	})
}

// GetSession returns a session, optionally with the merged hierarchy state.
func (c *Coordinator) GetSession(req GetSessionRequest) (*core.Session, error) {
	return c.sessions.Get(req.SessionID, req.IncludeHierarchy)
}

// UpdateSessionState merges keys into a session's own state.
func (c *Coordinator) UpdateSessionState(req UpdateSessionStateRequest) (*core.Session, error) {
	return c.sessions.UpdateState(req.SessionID, req.State)
}

// AttachMemory links an external memory record to a session.
func (c *Coordinator) AttachMemory(req AttachMemoryRequest) (*core.Session, error) {
	return c.sessions.AttachMemory(req.SessionID, req.RecordID)
}

// RegisterAgent adds a new agent.
func (c *Coordinator) RegisterAgent(req RegisterAgentRequest) (*core.Agent, error) {
	return c.agents.Register(req.AgentID, core.Role(req.Role), req.Specializations)
}

// ReportOutcome folds a task outcome into an agent's performance.
func (c *Coordinator) ReportOutcome(req ReportOutcomeRequest) (*core.Agent, error) {
	return c.agents.ReportOutcome(req.AgentID, req.Success, req.ResponseTimeMs)
}

// JoinSession records that an agent works in an active session.
func (c *Coordinator) JoinSession(req JoinSessionRequest) (*core.Agent, error) {
	sess, ok := c.sessions.Peek(req.SessionID)
	if !ok {
		return nil, core.NewNotFoundError("session", req.SessionID)
	}
	if !sess.Active {
		return nil, core.NewValidationError("sessionId", "session "+req.SessionID+" is inactive")
	}
	return c.agents.JoinSession(req.AgentID, req.SessionID)
}

// ResolveConflict runs a conflict through the tiers.
func (c *Coordinator) ResolveConflict(ctx context.Context, req ResolveConflictRequest) (*core.Conflict, error) {
	start := time.Now()
	res, err := c.resolver.Resolve(ctx, conflict.Request{
		Kind:        core.ConflictKind(req.Kind),
		InvolvedIDs: req.InvolvedIDs,
		Severity:    core.Severity(req.Severity),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	if cl, ok := c.logger.(*logging.CoordLogger); ok {
		cl.LogConflict(res.ID, res.Tier, string(res.Status), time.Since(start))
	}
	return res, nil
}

// ListConflicts returns conflicts by status, or the escalated conflicts still
// awaiting review when ActiveOnly is set.
func (c *Coordinator) ListConflicts(req ListConflictsRequest) []*core.Conflict {
	if req.ActiveOnly {
		return c.resolver.ActiveConflicts()
	}
	return c.resolver.List(core.ConflictStatus(req.Status))
}

// AcknowledgeConflict marks human review of an escalated conflict as done.
func (c *Coordinator) AcknowledgeConflict(req AcknowledgeConflictRequest) (*core.Conflict, error) {
	if err := c.resolver.Acknowledge(req.ConflictID); err != nil {
		return nil, err
	}
	return c.resolver.Get(req.ConflictID)
}

// LearnPattern stores a new pattern and credits the contributing agent.
func (c *Coordinator) LearnPattern(req LearnPatternRequest) (*core.Pattern, error) {
	if req.ContributedBy != "" {
		if _, ok := c.agents.Peek(req.ContributedBy); !ok {
			return nil, core.NewNotFoundError("agent", req.ContributedBy)
		}
	}
	p, err := c.patterns.Learn(pattern.LearnParams{
		Kind:               core.PatternKind(req.Kind),
		Conditions:         req.Conditions,
		Actions:            req.Actions,
		ApplicableContexts: req.ApplicableContexts,
		ContributedBy:      req.ContributedBy,
	})
	if err != nil {
		return nil, err
	}
	if req.ContributedBy != "" {
		c.agents.RecordPatternContribution(req.ContributedBy)
	}
	return p, nil
}

// ApplyPattern applies a pattern to a context. It never fails: unknown ids
// and poor matches report Applied=false.
func (c *Coordinator) ApplyPattern(ctx context.Context, req ApplyPatternRequest) pattern.ApplyResult {
	return c.patterns.Apply(ctx, req.PatternID, req.Context, req.Scope)
}

// Status aggregates counts over every store.
type Status struct {
	ActiveSessions     int `json:"activeSessions"`
	TotalSessions      int `json:"totalSessions"`
	RegisteredAgents   int `json:"registeredAgents"`
	OpenConflicts      int `json:"openConflicts"`
	ResolvedConflicts  int `json:"resolvedConflicts"`
	EscalatedConflicts int `json:"escalatedConflicts"`
	AwaitingReview     int `json:"awaitingReview"`
	LearnedPatterns    int `json:"learnedPatterns"`
	AppliedPatterns    int `json:"appliedPatterns"`
}

// Status returns aggregate counts.
func (c *Coordinator) Status() Status {
	var st Status
	st.ActiveSessions, st.TotalSessions = c.sessions.Counts()
	st.RegisteredAgents = c.agents.Count()
	st.OpenConflicts, st.ResolvedConflicts, st.EscalatedConflicts = c.resolver.Counts()
	st.AwaitingReview = len(c.resolver.ActiveConflicts())
	st.LearnedPatterns, st.AppliedPatterns = c.patterns.Counts()
	return st
}
