package agent

import (
	"sync"
	"testing"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *testutil.RecordingRecorder) {
	rec := &testutil.RecordingRecorder{}
	return NewRegistry(func(o *Options) {
		o.Clock = testutil.NewFakeClock()
		o.Recorder = rec
	}), rec
}

func TestRegistry_Register(t *testing.T) {
	r, rec := newTestRegistry()

	a, err := r.Register("a1", core.RoleSpecialist, []string{"go", "go", "sql"})
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, []string{"go", "sql"}, a.Specializations)
	assert.Equal(t, 0, a.Performance.TasksCompleted)
	assert.Equal(t, 1, rec.Count("agent.registered"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Register("", core.RoleSpecialist, nil)
	assert.True(t, core.IsValidation(err))

	_, err = r.Register("a1", "boss", nil)
	assert.True(t, core.IsValidation(err))
}

func TestRegistry_DuplicateKeepsPerformance(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Register("a1", core.RoleSpecialist, nil)
	require.NoError(t, err)
	_, err = r.ReportOutcome("a1", true, 10)
	require.NoError(t, err)

	_, err = r.Register("a1", core.RoleCoordinator, nil)
	assert.True(t, core.IsDuplicate(err))

	a, err := r.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, core.RoleSpecialist, a.Role)
	assert.Equal(t, 1, a.Performance.TasksCompleted)
}

func TestRegistry_ReportOutcomeScenario(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Register("a1", core.RoleSpecialist, nil)
	require.NoError(t, err)

	for _, ok := range []bool{true, true, true} {
		_, err = r.ReportOutcome("a1", ok, 100)
		require.NoError(t, err)
	}
	a, err := r.ReportOutcome("a1", false, 200)
	require.NoError(t, err)

	assert.Equal(t, 4, a.Performance.TasksCompleted)
	assert.InDelta(t, 0.75, a.Performance.SuccessRate, 1e-9)
	assert.InDelta(t, 125.0, a.Performance.AverageResponseTime, 1e-9)
}

func TestRegistry_ReportOutcomeErrors(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.ReportOutcome("ghost", true, 1)
	assert.True(t, core.IsNotFound(err))

	_, _ = r.Register("a1", core.RoleSpecialist, nil)
	_, err = r.ReportOutcome("a1", true, -1)
	assert.True(t, core.IsValidation(err))
}

func TestRegistry_ConcurrentReportsStayExact(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Register("a1", core.RoleSpecialist, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.ReportOutcome("a1", i%4 != 0, 50)
		}(i)
	}
	wg.Wait()

	a, _ := r.Get("a1")
	assert.Equal(t, 100, a.Performance.TasksCompleted)
	assert.InDelta(t, 0.75, a.Performance.SuccessRate, 1e-9)
	assert.GreaterOrEqual(t, a.Performance.SuccessRate, 0.0)
	assert.LessOrEqual(t, a.Performance.SuccessRate, 1.0)
}

func TestRegistry_Mediators(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Register("worker", core.RoleSpecialist, nil)
	_, _ = r.Register("coord", core.RoleCoordinator, nil)
	_, _ = r.Register("orch", core.RoleOrchestrator, nil)
	_, _ = r.Register("val", core.RoleValidator, nil)

	ids := func(agents []*core.Agent) []string {
		out := make([]string, 0, len(agents))
		for _, a := range agents {
			out = append(out, a.ID)
		}
		return out
	}

	assert.Equal(t, []string{"coord", "orch"}, ids(r.Mediators(nil)))
	assert.Equal(t, []string{"orch"}, ids(r.Mediators([]string{"coord"})))
}

func TestRegistry_JoinSessionAndCredits(t *testing.T) {
	r, rec := newTestRegistry()
	_, _ = r.Register("a1", core.RoleCoordinator, nil)

	a, err := r.JoinSession("a1", "s1")
	require.NoError(t, err)
	_, _ = r.JoinSession("a1", "s1")
	assert.Equal(t, []string{"s1"}, a.SessionIDs)
	assert.Equal(t, 1, rec.Count("agent.session_joined"))

	_, err = r.JoinSession("ghost", "s1")
	assert.True(t, core.IsNotFound(err))

	r.RecordConflictResolution("a1")
	r.RecordPatternContribution("a1")
	r.RecordPatternContribution("ghost")

	a, _ = r.Get("a1")
	assert.Equal(t, 1, a.Performance.ConflictResolutions)
	assert.Equal(t, 1, a.Performance.PatternContributions)
}
