// Package recovery reconciles persisted PR state with the forge at
// process start. Reviews interrupted by a crash were already reset to
// pending_review by the state store load; recovery resolves what
// happened to every non-terminal entry while the process was down.
package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// batchSize bounds how many PRs are reconciled against the forge at
// once during startup.
const batchSize = 3

// Recovery runs the startup reconciliation pass.
type Recovery struct {
	cfg      *config.Config
	states   *state.Store
	provider forge.Provider
	coord    *review.Coordinator
	log      *zap.Logger
}

// New builds a recovery pass.
func New(cfg *config.Config, states *state.Store, provider forge.Provider, coord *review.Coordinator) *Recovery {
	return &Recovery{
		cfg:      cfg,
		states:   states,
		provider: provider,
		coord:    coord,
		log:      logger.Named("recovery"),
	}
}

// Run reconciles every tracked non-terminal, non-skipped entry against
// the forge in bounded batches. Queued reviews go through the
// coordinator's normal decision gate, so entries that need no review
// fall out there.
func (r *Recovery) Run(ctx context.Context) {
	var candidates []*model.PRState
	for _, st := range r.states.GetAll() {
		if st.Status.IsTerminal() || st.Status == model.StatusSkipped {
			continue
		}
		if !r.cfg.IsTracked(st.Owner, st.Repo) {
			continue
		}
		candidates = append(candidates, st)
	}
	if len(candidates) == 0 {
		r.log.Info("No state entries to recover")
		return
	}
	r.log.Info("Recovering state entries", zap.Int("count", len(candidates)))

	sem := make(chan struct{}, batchSize)
	var wg sync.WaitGroup
	for _, st := range candidates {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(st *model.PRState) {
			defer wg.Done()
			defer func() { <-sem }()
			r.recoverOne(ctx, st)
		}(st)
	}
	wg.Wait()
	r.log.Info("Recovery complete")
}

func (r *Recovery) recoverOne(ctx context.Context, st *model.PRState) {
	key := st.Key()

	info, err := r.provider.GetPRState(ctx, st.Owner, st.Repo, st.Number)
	if err != nil {
		r.log.Warn("Failed to fetch PR state during recovery",
			zap.String("pr", key),
			zap.Error(err),
		)
		return
	}

	switch info.State {
	case model.PRStateMerged:
		r.coord.HandleLifecycle(st.Owner, st.Repo, st.Number, true)
		return
	case model.PRStateClosed:
		r.coord.HandleLifecycle(st.Owner, st.Repo, st.Number, false)
		return
	}

	pr, err := r.provider.GetPRDetails(ctx, st.Owner, st.Repo, st.Number)
	if err != nil {
		r.log.Warn("Failed to fetch PR details during recovery",
			zap.String("pr", key),
			zap.Error(err),
		)
		return
	}

	switch {
	case st.Status == model.StatusReviewed && st.LastReviewedSha != pr.HeadSha:
		// Commits landed while we were down.
		if _, err := r.states.Update(key, func(s *model.PRState) {
			if s.Status == model.StatusReviewed {
				s.Status = model.StatusChangesPushed
				s.HeadSha = pr.HeadSha
			}
		}); err != nil {
			r.log.Warn("Failed to bump recovered entry",
				zap.String("pr", key),
				zap.Error(err),
			)
			return
		}
		r.queue(ctx, key, pr)

	case st.Status == model.StatusPendingReview,
		st.Status == model.StatusChangesPushed,
		st.Status == model.StatusError:
		r.queue(ctx, key, pr)
	}
}

func (r *Recovery) queue(ctx context.Context, key string, pr *model.PullRequest) {
	r.log.Info("Queueing recovered PR for review",
		zap.String("pr", key),
		zap.String("sha", pr.HeadSha),
	)
	// Give the coordinator a beat; recovery runs before the first poll
	// tick, so the semaphore should never be saturated for long.
	submitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	r.coord.Submit(submitCtx, pr)
}
