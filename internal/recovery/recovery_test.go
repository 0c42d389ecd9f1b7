package recovery

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/feature"
	"github.com/prpatrol/prpatrol/internal/forge/fake"
	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/llm/mock"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
)

const recoveryDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+var debug = false

 func main() {}
`

type recHarness struct {
	rec    *Recovery
	coord  *review.Coordinator
	forge  *fake.Provider
	states *state.Store
}

func newRecHarness(t *testing.T) *recHarness {
	t.Helper()
	dir := t.TempDir()

	states, err := state.New(filepath.Join(dir, "state"))
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	auditLog, err := audit.New(filepath.Join(dir, "audit.jsonl"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	cfg := &config.Config{Repositories: []string{"acme/widgets"}}
	cfg.Review.MaxDiffLines = 5000
	cfg.Review.MaxConcurrentReviews = 2
	cfg.Review.MaxRetries = 3
	cfg.Review.MaxReviewHistory = 10
	cfg.Review.CommentTag = "<!-- prpatrol -->"

	provider := fake.New()
	client := mock.New()
	approve, err := json.Marshal(&model.StructuredReview{Verdict: model.VerdictApprove, Summary: "ok"})
	require.NoError(t, err)
	client.Default = &llm.Envelope{Result: string(approve)}

	coord := review.New(review.Deps{
		Config:   cfg,
		States:   states,
		Forge:    provider,
		LLM:      client,
		Guard:    guard.New(),
		Features: feature.NewRunner(states),
		Audit:    auditLog,
	})

	rec := New(cfg, states, provider, coord)
	return &recHarness{rec: rec, coord: coord, forge: provider, states: states}
}

func seed(t *testing.T, h *recHarness, number int, st *model.PRState) string {
	t.Helper()
	st.Owner, st.Repo, st.Number = "acme", "widgets", number
	st.FirstSeenAt = time.Now()
	key := model.PRKey("acme", "widgets", number)
	_, _, err := h.states.GetOrCreate(key, st)
	require.NoError(t, err)
	return key
}

func trackPR(h *recHarness, number int, sha string) *model.PullRequest {
	pr := &model.PullRequest{
		Owner: "acme", Repo: "widgets", Number: number,
		Title: "Change", HeadSha: sha, HeadBranch: "feature", BaseBranch: "main",
	}
	h.forge.OpenPRs["acme/widgets"] = append(h.forge.OpenPRs["acme/widgets"], pr)
	h.forge.Diffs[pr.Key()] = recoveryDiff
	return pr
}

func TestRunTransitionsMergedAndClosed(t *testing.T) {
	h := newRecHarness(t)
	mergedKey := seed(t, h, 1, &model.PRState{Status: model.StatusReviewed})
	closedKey := seed(t, h, 2, &model.PRState{Status: model.StatusPendingReview})
	h.forge.States[mergedKey] = &model.PRStateInfo{State: model.PRStateMerged}
	h.forge.States[closedKey] = &model.PRStateInfo{State: model.PRStateClosed}

	h.rec.Run(context.Background())
	h.coord.Wait()

	st, _ := h.states.Get(mergedKey)
	assert.Equal(t, model.StatusMerged, st.Status)
	st, _ = h.states.Get(closedKey)
	assert.Equal(t, model.StatusClosed, st.Status)
}

func TestRunQueuesPendingEntries(t *testing.T) {
	h := newRecHarness(t)
	pr := trackPR(h, 1, "aaa111")
	key := seed(t, h, 1, &model.PRState{Status: model.StatusPendingReview, HeadSha: "aaa111"})

	h.rec.Run(context.Background())
	h.coord.Wait()

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusReviewed, st.Status)
	assert.Len(t, h.forge.Reviews[pr.Key()], 1)
}

func TestRunBumpsReviewedWithNewCommits(t *testing.T) {
	h := newRecHarness(t)
	trackPR(h, 1, "bbb222")
	key := seed(t, h, 1, &model.PRState{
		Status:          model.StatusReviewed,
		HeadSha:         "aaa111",
		LastReviewedSha: "aaa111",
	})

	h.rec.Run(context.Background())
	h.coord.Wait()

	// changes_pushed then reviewed again at the new head.
	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusReviewed, st.Status)
	assert.Equal(t, "bbb222", st.LastReviewedSha)
	assert.Len(t, h.forge.Reviews[key], 1)
}

func TestRunLeavesReviewedAtHeadAlone(t *testing.T) {
	h := newRecHarness(t)
	trackPR(h, 1, "aaa111")
	key := seed(t, h, 1, &model.PRState{
		Status:          model.StatusReviewed,
		HeadSha:         "aaa111",
		LastReviewedSha: "aaa111",
	})

	h.rec.Run(context.Background())
	h.coord.Wait()

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusReviewed, st.Status)
	assert.Empty(t, h.forge.Reviews[key])
}

func TestRunSkipsTerminalSkippedAndUntracked(t *testing.T) {
	h := newRecHarness(t)
	seed(t, h, 1, &model.PRState{Status: model.StatusMerged})
	seed(t, h, 2, &model.PRState{Status: model.StatusSkipped, SkipReason: model.SkipReasonDraft})

	untracked := model.PRKey("other", "repo", 3)
	_, _, err := h.states.GetOrCreate(untracked, &model.PRState{
		Owner: "other", Repo: "repo", Number: 3,
		Status: model.StatusPendingReview, FirstSeenAt: time.Now(),
	})
	require.NoError(t, err)

	h.rec.Run(context.Background())
	h.coord.Wait()

	// Nothing was queued, nothing posted.
	assert.Empty(t, h.forge.Reviews)
	st, _ := h.states.Get(untracked)
	assert.Equal(t, model.StatusPendingReview, st.Status)
}
