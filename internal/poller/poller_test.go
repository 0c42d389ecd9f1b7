package poller

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
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/forge/fake"
	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/llm/mock"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

const tickDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+var debug = false

 func main() {}
`

type pollHarness struct {
	poller *Poller
	coord  *review.Coordinator
	forge  *fake.Provider
	states *state.Store
	cfg    *config.Config
	now    time.Time
}

func newPollHarness(t *testing.T) *pollHarness {
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
	cfg.Review.CommentVerifyIntervalMinutes = 30
	cfg.Review.StaleClosedDays = 7
	cfg.Review.StaleErrorDays = 14

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

	h := &pollHarness{coord: coord, forge: provider, states: states, cfg: cfg, now: time.Now()}
	h.poller = New(cfg, states, provider, coord, nil, auditLog, WithClock(func() time.Time { return h.now }))
	return h
}

func openPR(number int, sha string) *model.PullRequest {
	return &model.PullRequest{
		Owner: "acme", Repo: "widgets", Number: number,
		Title: "Change", HeadSha: sha, HeadBranch: "feature", BaseBranch: "main",
	}
}

func TestTickSubmitsOpenPRs(t *testing.T) {
	h := newPollHarness(t)
	pr := openPR(1, "aaa111")
	h.forge.OpenPRs["acme/widgets"] = []*model.PullRequest{pr}
	h.forge.Diffs[pr.Key()] = tickDiff

	h.poller.Tick(context.Background())
	h.coord.Wait()

	st, ok := h.states.Get(pr.Key())
	require.True(t, ok)
	assert.Equal(t, model.StatusReviewed, st.Status)
	assert.Len(t, h.forge.Reviews[pr.Key()], 1)
}

func TestTickReconcilesUnseenEntries(t *testing.T) {
	h := newPollHarness(t)

	for number, prState := range map[int]model.PRLifecycleState{
		10: model.PRStateMerged,
		11: model.PRStateClosed,
		12: model.PRStateOpen,
	} {
		key := model.PRKey("acme", "widgets", number)
		_, _, err := h.states.GetOrCreate(key, &model.PRState{
			Owner: "acme", Repo: "widgets", Number: number,
			Status: model.StatusReviewed, FirstSeenAt: h.now,
		})
		require.NoError(t, err)
		h.forge.States[key] = &model.PRStateInfo{State: prState}
	}

	h.poller.Tick(context.Background())
	h.coord.Wait()

	st, _ := h.states.Get(model.PRKey("acme", "widgets", 10))
	assert.Equal(t, model.StatusMerged, st.Status)
	st, _ = h.states.Get(model.PRKey("acme", "widgets", 11))
	assert.Equal(t, model.StatusClosed, st.Status)
	// Still open on the forge: left for the next listing.
	st, _ = h.states.Get(model.PRKey("acme", "widgets", 12))
	assert.Equal(t, model.StatusReviewed, st.Status)
}

// flakyListProvider fails ListOpenPRs for one repository and delegates
// everything else.
type flakyListProvider struct {
	forge.Provider
	failRepo string
}

func (p *flakyListProvider) ListOpenPRs(ctx context.Context, owner, repo string) ([]*model.PullRequest, error) {
	if owner+"/"+repo == p.failRepo {
		return nil, errors.New(errors.ErrCodeForgeUnavailable, "listing unavailable")
	}
	return p.Provider.ListOpenPRs(ctx, owner, repo)
}

func TestTickIsolatesRepoErrors(t *testing.T) {
	h := newPollHarness(t)
	h.cfg.Repositories = []string{"broken/repo", "acme/widgets"}
	h.poller.provider = &flakyListProvider{Provider: h.forge, failRepo: "broken/repo"}

	pr := openPR(1, "aaa111")
	h.forge.OpenPRs["acme/widgets"] = []*model.PullRequest{pr}
	h.forge.Diffs[pr.Key()] = tickDiff

	h.poller.Tick(context.Background())
	h.coord.Wait()

	// The failing listing does not stop the healthy repo's reviews.
	assert.Len(t, h.forge.Reviews[pr.Key()], 1)
}

func reviewedState(number int, reviewID int64, verifiedAt *time.Time) *model.PRState {
	id := reviewID
	return &model.PRState{
		Owner: "acme", Repo: "widgets", Number: number,
		Status:          model.StatusReviewed,
		HeadSha:         "aaa111",
		LastReviewedSha: "aaa111",
		ReviewID:        &id,
		LastVerifiedAt:  verifiedAt,
	}
}

func TestVerifyRequeuesDismissedReview(t *testing.T) {
	h := newPollHarness(t)
	key := model.PRKey("acme", "widgets", 1)
	_, _, err := h.states.GetOrCreate(key, reviewedState(1, 500, nil))
	require.NoError(t, err)
	h.forge.ReviewStat[500] = &forge.ReviewStatus{Exists: true, Dismissed: true}

	h.poller.Verify(context.Background())

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusPendingReview, st.Status)
	assert.Nil(t, st.ReviewID)
	assert.Empty(t, st.LastReviewedSha)
	require.NotNil(t, st.LastVerifiedAt)
}

func TestVerifyKeepsIntactReview(t *testing.T) {
	h := newPollHarness(t)
	key := model.PRKey("acme", "widgets", 1)
	_, _, err := h.states.GetOrCreate(key, reviewedState(1, 500, nil))
	require.NoError(t, err)
	h.forge.ReviewStat[500] = &forge.ReviewStatus{Exists: true}

	h.poller.Verify(context.Background())

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusReviewed, st.Status)
	require.NotNil(t, st.ReviewID)
	require.NotNil(t, st.LastVerifiedAt)
}

func TestVerifyRateLimited(t *testing.T) {
	h := newPollHarness(t)
	recent := h.now.Add(-5 * time.Minute)
	key := model.PRKey("acme", "widgets", 1)
	_, _, err := h.states.GetOrCreate(key, reviewedState(1, 500, &recent))
	require.NoError(t, err)
	// The review is gone, but the probe window has not elapsed yet.
	h.forge.ReviewStat[500] = &forge.ReviewStatus{Exists: false}

	h.poller.Verify(context.Background())
	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusReviewed, st.Status)

	// Past the interval the probe fires and requeues.
	h.now = h.now.Add(31 * time.Minute)
	h.poller.Verify(context.Background())
	st, _ = h.states.Get(key)
	assert.Equal(t, model.StatusPendingReview, st.Status)
}

func TestVerifyDeletedFallbackComment(t *testing.T) {
	h := newPollHarness(t)
	key := model.PRKey("acme", "widgets", 1)
	commentID := int64(321)
	_, _, err := h.states.GetOrCreate(key, &model.PRState{
		Owner: "acme", Repo: "widgets", Number: 1,
		Status:          model.StatusReviewed,
		LastReviewedSha: "aaa111",
		CommentID:       &commentID,
	})
	require.NoError(t, err)
	// No such comment recorded in the fake, so CommentExists is false.

	h.poller.Verify(context.Background())

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusPendingReview, st.Status)
	assert.Nil(t, st.CommentID)
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	h := newPollHarness(t)
	oldClose := h.now.Add(-8 * 24 * time.Hour)
	recentClose := h.now.Add(-time.Hour)

	entries := map[string]*model.PRState{
		model.PRKey("acme", "widgets", 1): {
			Owner: "acme", Repo: "widgets", Number: 1,
			Status: model.StatusMerged, ClosedAt: &oldClose,
		},
		model.PRKey("acme", "widgets", 2): {
			Owner: "acme", Repo: "widgets", Number: 2,
			Status: model.StatusClosed, ClosedAt: &recentClose,
		},
		model.PRKey("acme", "widgets", 3): {
			Owner: "acme", Repo: "widgets", Number: 3,
			Status:            model.StatusError,
			ConsecutiveErrors: 3,
			LastError:         &model.LastError{OccurredAt: h.now.Add(-15 * 24 * time.Hour)},
		},
		model.PRKey("acme", "widgets", 4): {
			Owner: "acme", Repo: "widgets", Number: 4,
			Status:            model.StatusError,
			ConsecutiveErrors: 1,
			LastError:         &model.LastError{OccurredAt: h.now.Add(-15 * 24 * time.Hour)},
		},
	}
	for key, st := range entries {
		_, _, err := h.states.GetOrCreate(key, st)
		require.NoError(t, err)
	}

	h.poller.Cleanup(context.Background())

	_, ok := h.states.Get(model.PRKey("acme", "widgets", 1))
	assert.False(t, ok, "stale merged entry should be removed")
	_, ok = h.states.Get(model.PRKey("acme", "widgets", 2))
	assert.True(t, ok, "recently closed entry should survive")
	_, ok = h.states.Get(model.PRKey("acme", "widgets", 3))
	assert.False(t, ok, "fenced stale error entry should be removed")
	_, ok = h.states.Get(model.PRKey("acme", "widgets", 4))
	assert.True(t, ok, "retryable error entry should survive")
}
