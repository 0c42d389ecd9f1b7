package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prpatrol/prpatrol/internal/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func defaultCfg() Config {
	return Config{
		SkipDrafts:            true,
		SkipWip:               true,
		DebouncePeriodSeconds: 120,
		MaxRetries:            3,
	}
}

func pending(owner string) *model.PRState {
	return &model.PRState{
		Owner:   owner,
		Repo:    "widgets",
		Number:  1,
		Status:  model.StatusPendingReview,
		Title:   "add widget",
		HeadSha: "aaa",
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestTerminalStates(t *testing.T) {
	for _, status := range []model.Status{model.StatusMerged, model.StatusClosed} {
		st := pending("acme")
		st.Status = status
		d := ShouldReview(st, defaultCfg(), false, testNow)
		assert.False(t, d.Review, "status %s", status)
		assert.Equal(t, string(status), d.Reason)

		// Even forced.
		d = ShouldReview(st, defaultCfg(), true, testNow)
		assert.False(t, d.Review, "forced status %s", status)
	}
}

func TestAlreadyReviewing(t *testing.T) {
	st := pending("acme")
	st.Status = model.StatusReviewing
	d := ShouldReview(st, defaultCfg(), false, testNow)
	assert.False(t, d.Review)
	assert.Equal(t, "review already in progress", d.Reason)
}

func TestSkipDrafts(t *testing.T) {
	st := pending("acme")
	st.IsDraft = true

	d := ShouldReview(st, defaultCfg(), false, testNow)
	assert.False(t, d.Review)
	assert.Equal(t, model.SkipReasonDraft, d.Reason)

	// Draft skip holds even when forced.
	d = ShouldReview(st, defaultCfg(), true, testNow)
	assert.False(t, d.Review)

	cfg := defaultCfg()
	cfg.SkipDrafts = false
	d = ShouldReview(st, cfg, false, testNow)
	assert.True(t, d.Review)
}

func TestSkipWipTitle(t *testing.T) {
	tests := []struct {
		title string
		skip  bool
	}{
		{"WIP: refactor", true},
		{"wip stuff", true},
		{"Wip", true},
		{"add wip detection", false},
		{"[WIP] thing", false},
	}
	for _, tt := range tests {
		st := pending("acme")
		st.Title = tt.title
		d := ShouldReview(st, defaultCfg(), false, testNow)
		assert.Equal(t, !tt.skip, d.Review, "title %q", tt.title)
		if tt.skip {
			assert.Equal(t, model.SkipReasonWIPTitle, d.Reason)
		}
	}
}

func TestSkippedStatusCarriesReason(t *testing.T) {
	st := pending("acme")
	st.Status = model.StatusSkipped
	st.SkipReason = model.SkipReasonDiffTooLarge

	d := ShouldReview(st, defaultCfg(), false, testNow)
	assert.False(t, d.Review)
	assert.Equal(t, model.SkipReasonDiffTooLarge, d.Reason)
}

func TestReviewedSameSha(t *testing.T) {
	st := pending("acme")
	st.Status = model.StatusReviewed
	st.HeadSha = "aaa"
	st.LastReviewedSha = "aaa"

	d := ShouldReview(st, defaultCfg(), false, testNow)
	assert.False(t, d.Review)

	d = ShouldReview(st, defaultCfg(), true, testNow)
	assert.True(t, d.Review)
	assert.Equal(t, "forced", d.Reason)
}

func TestDebounce(t *testing.T) {
	cfg := defaultCfg()

	st := pending("acme")
	st.LastPushAt = timePtr(testNow.Add(-30 * time.Second))

	d := ShouldReview(st, cfg, false, testNow)
	assert.False(t, d.Review)
	assert.Equal(t, "debounce period active", d.Reason)

	// Outside the window it reviews.
	st.LastPushAt = timePtr(testNow.Add(-3 * time.Minute))
	d = ShouldReview(st, cfg, false, testNow)
	assert.True(t, d.Review)
}

func TestDebounceExceptions(t *testing.T) {
	cfg := defaultCfg()

	fresh := func() *model.PRState {
		st := pending("acme")
		st.HeadSha = "bbb"
		st.LastPushAt = timePtr(testNow.Add(-10 * time.Second))
		return st
	}

	t.Run("forced", func(t *testing.T) {
		st := fresh()
		d := ShouldReview(st, cfg, true, testNow)
		assert.True(t, d.Review)
	})

	t.Run("pushed after a review", func(t *testing.T) {
		st := fresh()
		st.Reviews = []model.ReviewRecord{{Sha: "aaa", ReviewedAt: testNow.Add(-time.Hour)}}
		d := ShouldReview(st, cfg, false, testNow)
		assert.True(t, d.Review)
	})

	t.Run("changes_pushed with new commits", func(t *testing.T) {
		st := fresh()
		st.Status = model.StatusChangesPushed
		st.LastReviewedSha = "aaa"
		d := ShouldReview(st, cfg, false, testNow)
		assert.True(t, d.Review)
	})

	t.Run("changes_pushed without new commits stays debounced", func(t *testing.T) {
		st := fresh()
		st.Status = model.StatusChangesPushed
		st.LastReviewedSha = "bbb"
		d := ShouldReview(st, cfg, false, testNow)
		assert.False(t, d.Review)
	})
}

func TestErrorBackoff(t *testing.T) {
	cfg := defaultCfg()

	errored := func(consecutive int, since time.Duration) *model.PRState {
		st := pending("acme")
		st.Status = model.StatusError
		st.ConsecutiveErrors = consecutive
		st.LastError = &model.LastError{
			Phase:      model.PhaseClaudeReview,
			Kind:       "transient",
			Message:    "timeout",
			OccurredAt: testNow.Add(-since),
		}
		return st
	}

	t.Run("max retries reached", func(t *testing.T) {
		d := ShouldReview(errored(3, time.Hour), cfg, false, testNow)
		assert.False(t, d.Review)
		assert.Contains(t, d.Reason, "max retries")
	})

	t.Run("first retry waits 60s", func(t *testing.T) {
		d := ShouldReview(errored(1, 30*time.Second), cfg, false, testNow)
		assert.False(t, d.Review)
		assert.Equal(t, "error backoff active", d.Reason)

		d = ShouldReview(errored(1, 61*time.Second), cfg, false, testNow)
		assert.True(t, d.Review)
	})

	t.Run("second retry waits 120s", func(t *testing.T) {
		d := ShouldReview(errored(2, 90*time.Second), cfg, false, testNow)
		assert.False(t, d.Review)

		d = ShouldReview(errored(2, 121*time.Second), cfg, false, testNow)
		assert.True(t, d.Review)
	})

	t.Run("forced bypasses backoff and retry cap", func(t *testing.T) {
		d := ShouldReview(errored(1, time.Second), cfg, true, testNow)
		assert.True(t, d.Review)

		d = ShouldReview(errored(3, time.Second), cfg, true, testNow)
		assert.True(t, d.Review, "force overrides the retry cap")
	})
}

func TestReasonCarriesStatus(t *testing.T) {
	st := pending("acme")
	st.Status = model.StatusChangesPushed
	st.LastReviewedSha = "old"

	d := ShouldReview(st, defaultCfg(), false, testNow)
	assert.True(t, d.Review)
	assert.Equal(t, string(model.StatusChangesPushed), d.Reason)
}

func TestPureFunction(t *testing.T) {
	st := pending("acme")
	st.LastPushAt = timePtr(testNow.Add(-10 * time.Second))
	before := *st

	for i := 0; i < 3; i++ {
		d := ShouldReview(st, defaultCfg(), false, testNow)
		assert.False(t, d.Review)
	}
	assert.Equal(t, before, *st, "input state must not be mutated")
}
