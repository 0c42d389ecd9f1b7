package feature

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prpatrol/prpatrol/internal/forge/fake"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestContext(t *testing.T, states *state.Store) *Context {
	t.Helper()
	pr := &model.PullRequest{
		Owner:      "acme",
		Repo:       "widgets",
		Number:     7,
		Title:      "Add rate limiter",
		HeadBranch: "feature/limiter",
		BaseBranch: "main",
		HeadSha:    "abc123",
	}
	_, _, err := states.GetOrCreate(pr.Key(), &model.PRState{
		Owner:   pr.Owner,
		Repo:    pr.Repo,
		Number:  pr.Number,
		Status:  model.StatusPendingReview,
		Title:   pr.Title,
		HeadSha: pr.HeadSha,
	})
	require.NoError(t, err)

	return &Context{
		Ctx:    context.Background(),
		PR:     pr,
		Forge:  fake.New(),
		States: states,
		Log:    logger.Named("test"),
	}
}

// stubFeature is a scriptable feature for runner tests.
type stubFeature struct {
	name      string
	phase     Phase
	shouldRun bool
	execErr   error
	panics    bool
	ran       *[]string
}

func (s *stubFeature) Name() string  { return s.name }
func (s *stubFeature) Phase() Phase  { return s.phase }
func (s *stubFeature) ShouldRun(fc *Context) bool {
	return s.shouldRun
}
func (s *stubFeature) Execute(fc *Context) error {
	if s.ran != nil {
		*s.ran = append(*s.ran, s.name)
	}
	if s.panics {
		panic("stub exploded")
	}
	return s.execErr
}

func TestRunnerOrderAndIsolation(t *testing.T) {
	states := newTestStore(t)
	fc := newTestContext(t, states)

	var order []string
	failing := &stubFeature{name: "broken", phase: PhasePreReview, shouldRun: true, execErr: assert.AnError, ran: &order}
	skipped := &stubFeature{name: "idle", phase: PhasePreReview, shouldRun: false, ran: &order}
	healthy := &stubFeature{name: "last", phase: PhasePreReview, shouldRun: true, ran: &order}
	postOnly := &stubFeature{name: "post", phase: PhasePostReview, shouldRun: true, ran: &order}

	runner := NewRunner(states, failing, skipped, healthy, postOnly)
	results := runner.Run(PhasePreReview, fc)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"broken", "last"}, order)
	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, assert.AnError.Error(), results[0].Error)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, StatusCompleted, results[2].Status)

	st, ok := states.Get(fc.PR.Key())
	require.True(t, ok)
	require.Len(t, st.FeatureExecutions, 3)
	assert.Equal(t, "broken", st.FeatureExecutions[0].Feature)
	assert.Equal(t, string(PhasePreReview), st.FeatureExecutions[0].Phase)
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	states := newTestStore(t)
	fc := newTestContext(t, states)

	runner := NewRunner(states, &stubFeature{name: "bomb", phase: PhasePreReview, shouldRun: true, panics: true})
	results := runner.Run(PhasePreReview, fc)

	require.Len(t, results, 1)
	assert.Equal(t, StatusError, results[0].Status)
	assert.Contains(t, results[0].Error, "panicked")
}

func TestRunnerBoundsExecutionLog(t *testing.T) {
	states := newTestStore(t)
	fc := newTestContext(t, states)

	runner := NewRunner(states, &stubFeature{name: "noop", phase: PhasePreReview, shouldRun: true})
	for i := 0; i < maxFeatureExecutions+5; i++ {
		runner.Run(PhasePreReview, fc)
	}

	st, ok := states.Get(fc.PR.Key())
	require.True(t, ok)
	assert.Len(t, st.FeatureExecutions, maxFeatureExecutions)
}
