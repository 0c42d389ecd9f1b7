// Package decision selects which tracked pull requests should be
// reviewed. ShouldReview is a pure function: it never mutates state,
// performs I/O, or reads the wall clock itself.
package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/prpatrol/prpatrol/internal/model"
)

// backoffBase is the first retry delay after an error. Each further
// consecutive error doubles it.
const backoffBase = 60 * time.Second

// Config carries the review policy knobs the decision depends on.
type Config struct {
	SkipDrafts            bool
	SkipWip               bool
	DebouncePeriodSeconds int
	MaxRetries            int
}

// Decision is the outcome of a ShouldReview call.
type Decision struct {
	Review bool
	Reason string
}

func yes(reason string) Decision { return Decision{Review: true, Reason: reason} }
func no(reason string) Decision  { return Decision{Review: false, Reason: reason} }

// ShouldReview applies the review selection rules in order, first
// match wins. force comes from an explicit trigger (comment command)
// and bypasses same-SHA suppression, debounce and error backoff, but
// not terminal states or skip policies.
func ShouldReview(st *model.PRState, cfg Config, force bool, now time.Time) Decision {
	// Rule 1: terminal states never come back.
	if st.Status.IsTerminal() {
		return no(string(st.Status))
	}

	// Rule 2: one review per PR at a time.
	if st.Status == model.StatusReviewing {
		return no("review already in progress")
	}

	// Rule 3: skip policies.
	if cfg.SkipDrafts && st.IsDraft {
		return no(model.SkipReasonDraft)
	}
	if cfg.SkipWip && strings.HasPrefix(strings.ToLower(st.Title), "wip") {
		return no(model.SkipReasonWIPTitle)
	}

	// Rule 4: a skipped entry stays skipped until an external
	// transition clears the reason.
	if st.Status == model.StatusSkipped {
		if st.SkipReason != "" {
			return no(st.SkipReason)
		}
		return no("skipped")
	}

	// Rule 5: nothing new to review at this SHA.
	if st.Status == model.StatusReviewed && st.LastReviewedSha == st.HeadSha && st.HeadSha != "" {
		if force {
			return yes("forced")
		}
		return no("already reviewed at head SHA")
	}

	// Rule 6: debounce a burst of pushes.
	if st.LastPushAt != nil && cfg.DebouncePeriodSeconds > 0 {
		elapsed := now.Sub(*st.LastPushAt)
		if elapsed < time.Duration(cfg.DebouncePeriodSeconds)*time.Second {
			if !force && !reviewedShaOutdated(st) && !newCommitsSinceReview(st) {
				return no("debounce period active")
			}
		}
	}

	// Rule 7: error backoff.
	if st.Status == model.StatusError && !force {
		if st.ConsecutiveErrors >= cfg.MaxRetries {
			return no(fmt.Sprintf("max retries reached (%d)", st.ConsecutiveErrors))
		}
		if st.LastError != nil && st.ConsecutiveErrors > 0 {
			wait := backoffBase << (st.ConsecutiveErrors - 1)
			if now.Sub(st.LastError.OccurredAt) < wait {
				return no("error backoff active")
			}
		}
	}

	// Rule 8: review, carrying the current status as the reason.
	return yes(string(st.Status))
}

// reviewedShaOutdated reports whether the most recent review covered a
// SHA that is no longer the head. The author kept pushing after a
// review, so debounce must not starve the re-review.
func reviewedShaOutdated(st *model.PRState) bool {
	last := st.LastReview()
	return last != nil && last.Sha != st.HeadSha
}

// newCommitsSinceReview reports whether the PR sits in changes_pushed
// with a head the last review did not cover.
func newCommitsSinceReview(st *model.PRState) bool {
	return st.Status == model.StatusChangesPushed && st.LastReviewedSha != st.HeadSha
}
