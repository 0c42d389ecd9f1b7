package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/model"
)

// Cleanup drops terminal entries older than staleClosedDays and fenced
// error entries older than staleErrorDays, then prunes the clone
// directory. Runs at the end of each tick and from the maintenance
// scheduler.
func (p *Poller) Cleanup(ctx context.Context) {
	p.cleanStaleState()
	p.pruneWorktrees(ctx)
}

func (p *Poller) cleanStaleState() {
	now := p.now()
	closedCutoff := time.Duration(p.cfg.Review.StaleClosedDays) * 24 * time.Hour
	errorCutoff := time.Duration(p.cfg.Review.StaleErrorDays) * 24 * time.Hour

	var stale []string
	for key, st := range p.states.GetAll() {
		switch {
		case st.Status == model.StatusMerged || st.Status == model.StatusClosed:
			if closedCutoff <= 0 {
				continue
			}
			ref := st.UpdatedAt
			if st.ClosedAt != nil {
				ref = *st.ClosedAt
			}
			if now.Sub(ref) > closedCutoff {
				stale = append(stale, key)
			}
		case st.Status == model.StatusError:
			if errorCutoff <= 0 || st.ConsecutiveErrors < p.cfg.Review.MaxRetries {
				continue
			}
			if st.LastError != nil && now.Sub(st.LastError.OccurredAt) > errorCutoff {
				stale = append(stale, key)
			}
		}
	}
	if len(stale) == 0 {
		return
	}

	removed, err := p.states.DeleteMany(stale)
	if err != nil {
		p.log.Warn("Failed to delete stale state entries", zap.Error(err))
		return
	}
	for _, key := range stale {
		p.audit.Record(audit.EventStateCleaned, key, nil)
	}
	p.log.Info("Cleaned stale state entries", zap.Int("removed", removed))
}

func (p *Poller) pruneWorktrees(ctx context.Context) {
	if p.worktrees == nil {
		return
	}

	maxAge := time.Duration(p.cfg.Review.WorktreeMaxAgeMinutes) * time.Minute
	if maxAge > 0 {
		if pruned := p.worktrees.PruneStaleWorktrees(ctx, maxAge); pruned > 0 {
			p.log.Info("Pruned stale worktrees", zap.Int("pruned", pruned))
		}
	}

	tracked := make(map[string]bool)
	for _, repo := range p.cfg.TrackedRepos() {
		tracked[repo.FullName()] = true
	}
	if removed := p.worktrees.PruneUntracked(tracked); removed > 0 {
		p.log.Info("Removed untracked clones", zap.Int("removed", removed))
	}
}
