package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// Verify probes the forge for every reviewed entry whose last probe is
// older than the verification interval. A dismissed or deleted review
// (or, for the freeform fallback, a deleted comment) sends the PR back
// to pending_review so the next tick re-reviews it.
func (p *Poller) Verify(ctx context.Context) {
	interval := time.Duration(p.cfg.Review.CommentVerifyIntervalMinutes) * time.Minute
	if interval <= 0 {
		return
	}
	now := p.now()

	for key, st := range p.states.GetAll() {
		if st.Status != model.StatusReviewed {
			continue
		}
		if st.LastVerifiedAt != nil && now.Sub(*st.LastVerifiedAt) < interval {
			continue
		}
		if !p.cfg.IsTracked(st.Owner, st.Repo) {
			continue
		}

		gone, err := p.reviewGone(ctx, st)
		if err != nil {
			p.log.Warn("Review verification probe failed",
				zap.String("pr", key),
				zap.Error(err),
			)
			continue
		}

		if _, err := p.states.Update(key, func(s *model.PRState) {
			t := now
			s.LastVerifiedAt = &t
			if gone && s.Status == model.StatusReviewed {
				s.Status = model.StatusPendingReview
				s.ReviewID = nil
				s.CommentID = nil
				s.LastReviewedSha = ""
			}
		}); err != nil {
			p.log.Warn("Failed to update verification state",
				zap.String("pr", key),
				zap.Error(err),
			)
			continue
		}

		if gone {
			p.audit.Record(audit.EventVerifyRequeued, key, map[string]any{"sha": st.LastReviewedSha})
			p.log.Info("Posted review disappeared, requeued for review",
				zap.String("pr", key),
			)
		}
	}
}

// reviewGone reports whether the posted review artifact no longer holds
// on the forge. Entries without a recorded handle (dry-run reviews)
// have nothing to verify.
func (p *Poller) reviewGone(ctx context.Context, st *model.PRState) (bool, error) {
	if st.ReviewID != nil {
		status, err := p.provider.ReviewExists(ctx, st.Owner, st.Repo, st.Number, *st.ReviewID)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeForgeNotFound) {
				return true, nil
			}
			return false, err
		}
		return !status.Exists || status.Dismissed, nil
	}
	if st.CommentID != nil {
		exists, err := p.provider.CommentExists(ctx, st.Owner, st.Repo, st.Number, *st.CommentID)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeForgeNotFound) {
				return true, nil
			}
			return false, err
		}
		return !exists, nil
	}
	return false, nil
}
