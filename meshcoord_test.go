package meshcoord

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/meshcoord/config"
	"github.com/hupe1980/meshcoord/conflict"
	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/testutil"
	"github.com/hupe1980/meshcoord/logging"
	"github.com/hupe1980/meshcoord/memory"
	"github.com/hupe1980/meshcoord/memory/sqlite"
	"github.com/hupe1980/meshcoord/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	coord *Coordinator
	clock *testutil.FakeClock
	store *memory.InMemoryStore
}

func newHarness(t *testing.T, optFns ...func(o *Options)) *harness {
	t.Helper()
	h := &harness{clock: testutil.NewFakeClock(), store: memory.NewInMemoryStore()}
	fns := append([]func(o *Options){func(o *Options) {
		o.Clock = h.clock
		o.AuditSink = h.store
	}}, optFns...)
	c, err := New(fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.coord = c
	return h
}

func (h *harness) exec(t *testing.T, name string, args map[string]any) any {
	t.Helper()
	res, err := h.coord.Execute(context.Background(), name, args)
	require.NoError(t, err)
	return res
}

func TestOperations(t *testing.T) {
	h := newHarness(t)

	var names []string
	for _, o := range h.coord.Operations() {
		names = append(names, o.Name)
		assert.Equal(t, "object", o.Parameters["type"])
	}
	assert.Equal(t, []string{
		"acknowledge_conflict", "apply_pattern", "attach_memory", "create_session",
		"get_session", "join_session", "learn_pattern", "list_conflicts",
		"register_agent", "report_outcome", "resolve_conflict", "status",
		"update_session_state",
	}, names)
}

func TestSessionTTLScenario(t *testing.T) {
	h := newHarness(t)

	root := h.exec(t, "create_session", map[string]any{"role": "orchestrator", "ttlSeconds": 1}).(*core.Session)
	h.clock.Advance(1200 * time.Millisecond)

	got := h.exec(t, "get_session", map[string]any{"sessionId": root.ID}).(*core.Session)
	assert.False(t, got.Active)

	h.clock.Advance(time.Hour)
	got = h.exec(t, "get_session", map[string]any{"sessionId": root.ID}).(*core.Session)
	assert.False(t, got.Active)
}

func TestSessionHierarchy(t *testing.T) {
	h := newHarness(t)

	root := h.exec(t, "create_session", map[string]any{"role": "orchestrator", "initialState": map[string]any{"a": 1, "shared": "root"}}).(*core.Session)
	child := h.exec(t, "create_session", map[string]any{"role": "specialist", "parentId": root.ID, "initialState": map[string]any{"b": 2, "shared": "child"}}).(*core.Session)
	assert.Equal(t, 1, child.HierarchyLevel)

	merged := h.exec(t, "get_session", map[string]any{"sessionId": child.ID, "includeHierarchy": true}).(*core.Session)
	// Arguments travel as JSON, so numbers arrive as float64.
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "shared": "child"}, merged.State)

	parent := h.exec(t, "get_session", map[string]any{"sessionId": root.ID}).(*core.Session)
	assert.Equal(t, []string{child.ID}, parent.ChildIDs)
	assert.Equal(t, map[string]any{"a": 1.0, "shared": "root"}, parent.State)

	_, err := h.coord.Execute(context.Background(), "create_session", map[string]any{"role": "specialist", "parentId": "missing"})
	assert.True(t, core.IsInvalidParent(err))

	updated := h.exec(t, "update_session_state", map[string]any{"sessionId": child.ID, "state": map[string]any{"c": true}}).(*core.Session)
	assert.Equal(t, true, updated.State["c"])

	attached := h.exec(t, "attach_memory", map[string]any{"sessionId": child.ID, "recordId": "rec-1"}).(*core.Session)
	assert.Equal(t, []string{"rec-1"}, attached.MemoryRefs)
}

func TestAgentSuccessRateScenario(t *testing.T) {
	h := newHarness(t)

	h.exec(t, "register_agent", map[string]any{"agentId": "a1", "role": "specialist", "specializations": []any{"go"}})
	for _, ok := range []bool{true, true, true, false} {
		h.exec(t, "report_outcome", map[string]any{"agentId": "a1", "success": ok, "responseTimeMs": 100})
	}

	a, err := h.coord.agents.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, a.Performance.SuccessRate)
	assert.Equal(t, 4, a.Performance.TasksCompleted)

	_, err = h.coord.Execute(context.Background(), "register_agent", map[string]any{"agentId": "a1", "role": "validator", "specializations": []any{}})
	assert.True(t, core.IsDuplicate(err))

	_, err = h.coord.Execute(context.Background(), "report_outcome", map[string]any{"agentId": "ghost", "success": true, "responseTimeMs": 1})
	assert.True(t, core.IsNotFound(err))
}

func TestJoinSession(t *testing.T) {
	h := newHarness(t)
	sess := h.exec(t, "create_session", map[string]any{"role": "coordinator", "ttlSeconds": 5}).(*core.Session)
	h.exec(t, "register_agent", map[string]any{"agentId": "a1", "role": "specialist", "specializations": []any{}})

	a := h.exec(t, "join_session", map[string]any{"agentId": "a1", "sessionId": sess.ID}).(*core.Agent)
	assert.Equal(t, []string{sess.ID}, a.SessionIDs)

	_, err := h.coord.Execute(context.Background(), "join_session", map[string]any{"agentId": "a1", "sessionId": "missing"})
	assert.True(t, core.IsNotFound(err))

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, h.coord.SweepSessions())
	_, err = h.coord.Execute(context.Background(), "join_session", map[string]any{"agentId": "a1", "sessionId": sess.ID})
	assert.True(t, core.IsValidation(err))
}

func TestMemoryConflictScenario(t *testing.T) {
	h := newHarness(t)
	r1 := h.store.Store("The build cache lives in /var/cache/build", "note", nil)
	r2 := h.store.Store("the build cache lives in /var/cache/build.", "note", nil)

	c := h.exec(t, "resolve_conflict", map[string]any{
		"kind":        "memory",
		"involvedIds": []any{r1, r2},
		"severity":    "low",
	}).(*core.Conflict)

	assert.Equal(t, core.StatusResolved, c.Status)
	assert.Equal(t, 1, c.Tier)
	assert.Equal(t, conflict.StrategySimilarityDedup, c.Strategy)
	assert.Equal(t, r1, c.Winner)
}

func TestConflictEscalationAndAcknowledge(t *testing.T) {
	h := newHarness(t)

	c := h.exec(t, "resolve_conflict", map[string]any{
		"kind":        "memory",
		"involvedIds": []any{"x", "y"},
		"severity":    "high",
		"metadata":    map[string]any{"contents": map[string]any{"x": "red", "y": "blue"}},
	}).(*core.Conflict)
	assert.Equal(t, core.StatusEscalated, c.Status)
	assert.Equal(t, 3, c.Tier)

	active := h.exec(t, "list_conflicts", map[string]any{"activeOnly": true}).([]*core.Conflict)
	require.Len(t, active, 1)

	st := h.coord.Status()
	assert.Equal(t, 1, st.EscalatedConflicts)
	assert.Equal(t, 1, st.AwaitingReview)

	acked := h.exec(t, "acknowledge_conflict", map[string]any{"conflictId": c.ID}).(*core.Conflict)
	assert.Equal(t, core.StatusEscalated, acked.Status)
	assert.Empty(t, h.exec(t, "list_conflicts", map[string]any{"activeOnly": true}))
	assert.Len(t, h.exec(t, "list_conflicts", map[string]any{"status": "escalated"}), 1)

	_, err := h.coord.Execute(context.Background(), "acknowledge_conflict", map[string]any{"conflictId": c.ID})
	assert.True(t, core.IsNotFound(err))

	h.coord.Flush()
	var escalated int
	for _, r := range h.store.Records(core.CategoryConflict) {
		if r.Metadata["action"] == "conflict.escalated" {
			escalated++
		}
	}
	assert.Equal(t, 1, escalated)
}

func TestPatterns(t *testing.T) {
	h := newHarness(t)
	h.exec(t, "register_agent", map[string]any{"agentId": "a1", "role": "specialist", "specializations": []any{}})

	p := h.exec(t, "learn_pattern", map[string]any{
		"kind":          "workflow",
		"conditions":    map[string]any{"task": "review"},
		"actions":       map[string]any{"assign": "validator"},
		"contributedBy": "a1",
	}).(*core.Pattern)
	assert.Equal(t, core.InitialConfidence, p.Confidence)

	a, _ := h.coord.agents.Get("a1")
	assert.Equal(t, 1, a.Performance.PatternContributions)

	_, err := h.coord.Execute(context.Background(), "learn_pattern", map[string]any{
		"kind": "workflow", "conditions": map[string]any{}, "actions": map[string]any{}, "contributedBy": "ghost",
	})
	assert.True(t, core.IsNotFound(err))

	res := h.exec(t, "apply_pattern", map[string]any{"patternId": p.ID, "context": map[string]any{"task": "review"}}).(pattern.ApplyResult)
	assert.True(t, res.Applied)

	res = h.exec(t, "apply_pattern", map[string]any{"patternId": p.ID, "context": map[string]any{"task": "deploy"}}).(pattern.ApplyResult)
	assert.False(t, res.Applied)

	st := h.coord.Status()
	assert.Equal(t, 1, st.LearnedPatterns)
	assert.Equal(t, 1, st.AppliedPatterns)
}

func TestApplyUnknownPatternChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.exec(t, "learn_pattern", map[string]any{"kind": "prediction", "conditions": map[string]any{}, "actions": map[string]any{}})
	before := h.coord.Status()

	res := h.exec(t, "apply_pattern", map[string]any{"patternId": "nope", "context": map[string]any{}}).(pattern.ApplyResult)
	assert.False(t, res.Applied)
	assert.Equal(t, before, h.coord.Status())
}

func TestExecuteValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		op   string
		args map[string]any
	}{
		{"unknown op", "explode", nil},
		{"missing role", "create_session", map[string]any{}},
		{"bad role", "create_session", map[string]any{"role": "boss"}},
		{"fractional ttl", "create_session", map[string]any{"role": "specialist", "ttlSeconds": 1.5}},
		{"bad severity", "resolve_conflict", map[string]any{"kind": "memory", "involvedIds": []any{"a"}, "severity": "meh"}},
		{"ids not array", "resolve_conflict", map[string]any{"kind": "memory", "involvedIds": "a", "severity": "low"}},
		{"state not object", "update_session_state", map[string]any{"sessionId": "s", "state": "x"}},
		{"negative response time", "report_outcome", map[string]any{"agentId": "a", "success": true, "responseTimeMs": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.coord.Execute(ctx, tt.op, tt.args)
			require.Error(t, err)
			assert.True(t, core.IsValidation(err) || core.IsNotFound(err), err.Error())
		})
	}
	assert.Equal(t, Status{}, h.coord.Status())
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.exec(t, "create_session", map[string]any{"role": "orchestrator", "ttlSeconds": 1})
	h.exec(t, "create_session", map[string]any{"role": "orchestrator"})
	h.exec(t, "register_agent", map[string]any{"agentId": "a1", "role": "coordinator", "specializations": []any{"ops"}})
	h.clock.Advance(2 * time.Second)
	h.coord.SweepSessions()

	st := h.exec(t, "status", nil).(Status)
	assert.Equal(t, 1, st.ActiveSessions)
	assert.Equal(t, 2, st.TotalSessions)
	assert.Equal(t, 1, st.RegisteredAgents)
}

func TestSweepPurge(t *testing.T) {
	cfg := config.Default()
	cfg.Session.PurgeExpired = true
	h := newHarness(t, func(o *Options) { o.Config = cfg })

	h.exec(t, "create_session", map[string]any{"role": "orchestrator", "ttlSeconds": 1})
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.coord.SweepSessions())

	st := h.coord.Status()
	assert.Equal(t, 0, st.TotalSessions)
}

func TestScheduler(t *testing.T) {
	cfg := config.Default()
	cfg.Session.SweepInterval = 5 * time.Millisecond
	cfg.Pattern.SweepInterval = 5 * time.Millisecond
	h := newHarness(t, func(o *Options) { o.Config = cfg })

	h.exec(t, "create_session", map[string]any{"role": "orchestrator", "ttlSeconds": 1})
	p := h.exec(t, "learn_pattern", map[string]any{"kind": "workflow", "conditions": map[string]any{}, "actions": map[string]any{}}).(*core.Pattern)
	for i := 0; i < 5; i++ {
		h.exec(t, "apply_pattern", map[string]any{"patternId": p.ID, "context": map[string]any{}})
	}
	h.clock.Advance(2 * time.Second)

	h.coord.Start(context.Background())
	h.coord.Start(context.Background())

	require.Eventually(t, func() bool {
		st := h.coord.Status()
		got, _ := h.coord.patterns.Get(p.ID)
		return st.ActiveSessions == 0 && got.Confidence > core.InitialConfidence
	}, 2*time.Second, 5*time.Millisecond)

	h.coord.Stop()
	h.coord.Stop()
}

func TestAuditFailureNeverSurfaces(t *testing.T) {
	sink := &testutil.FailingSink{}
	c, err := New(func(o *Options) { o.AuditSink = sink })
	require.NoError(t, err)

	_, err = c.CreateSession(CreateSessionRequest{Role: "orchestrator"})
	require.NoError(t, err)
	c.Flush()
	assert.Equal(t, 1, sink.Calls())
	require.NoError(t, c.Close())
}

func TestInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Conflict.VotingThreshold = 2
	_, err := New(func(o *Options) { o.Config = cfg })
	assert.True(t, core.IsValidation(err))
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	cfg := config.Default()
	cfg.Audit.Backend = config.BackendSQLite
	cfg.Audit.SQLitePath = path

	c, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	_, err = c.CreateSession(CreateSessionRequest{Role: "orchestrator"})
	require.NoError(t, err)
	_, err = c.RegisterAgent(RegisterAgentRequest{AgentID: "a1", Role: "specialist"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close()
	records, err := s.Records(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGraphBackendKeepsLookupsOffTheNetwork(t *testing.T) {
	cfg := config.Default()
	cfg.Audit.Backend = config.BackendGraph
	cfg.Audit.GraphURI = "bolt://127.0.0.1:1"
	cfg.Audit.Timeout = 100 * time.Millisecond

	c, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	defer c.Close()

	res, err := c.ResolveConflict(context.Background(), ResolveConflictRequest{
		Kind:        "memory",
		InvolvedIDs: []string{"x", "y"},
		Severity:    "low",
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusEscalated, res.Status)
	require.NotEmpty(t, res.History)
	assert.Equal(t, "content unavailable for x", res.History[0].Detail)
}

func TestExecuteLogsOperationTiming(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	h := newHarness(t, func(o *Options) { o.Logger = logger })

	h.exec(t, "status", nil)
	h.coord.Flush()
	assert.Contains(t, buf.String(), `"msg":"operation.completed"`)
	assert.Contains(t, buf.String(), `"operation":"status"`)
}
