// Package poller drives the interval ingress: each tick lists open PRs
// for every tracked repository, submits them to the review coordinator,
// reconciles tracked state entries that disappeared from the forge, and
// runs the review verification pass.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/git"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/pkg/logger"
	"github.com/prpatrol/prpatrol/pkg/telemetry"
)

// Poller is the interval-driven PR ingress. One instance per process.
type Poller struct {
	cfg       *config.Config
	states    *state.Store
	provider  forge.Provider
	coord     *review.Coordinator
	worktrees *git.Manager
	audit     *audit.Logger

	now func() time.Time
	log *zap.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New builds a poller. worktrees may be nil when codebase access is
// disabled.
func New(cfg *config.Config, states *state.Store, provider forge.Provider, coord *review.Coordinator, worktrees *git.Manager, auditLog *audit.Logger, opts ...Option) *Poller {
	p := &Poller{
		cfg:       cfg,
		states:    states,
		provider:  provider,
		coord:     coord,
		worktrees: worktrees,
		audit:     auditLog,
		now:       time.Now,
		log:       logger.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks until the context is cancelled. The first tick fires
// immediately.
func (p *Poller) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.Review.PollingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	p.log.Info("Poller started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. The cycle itself is single-threaded; review
// concurrency comes from the coordinator's worker pool.
func (p *Poller) Tick(ctx context.Context) {
	telemetry.GetMetrics().RecordPollCycle(ctx)
	seen := make(map[string]bool)

	for _, repo := range p.cfg.TrackedRepos() {
		prs, err := p.provider.ListOpenPRs(ctx, repo.Owner, repo.Name)
		if err != nil {
			// One broken repo must not block the others.
			p.log.Warn("Failed to list open PRs",
				zap.String("repo", repo.FullName()),
				zap.Error(err),
			)
			continue
		}
		for _, pr := range prs {
			seen[pr.Key()] = true
			if !p.coord.Submit(ctx, pr) {
				return
			}
		}
	}
	if ctx.Err() != nil {
		return
	}

	p.reconcileUnseen(ctx, seen)
	p.Verify(ctx)
	p.Cleanup(ctx)
}

// reconcileUnseen resolves tracked entries that no longer show up in
// the open PR listings: the forge is asked for their actual state and
// merged/closed entries are transitioned.
func (p *Poller) reconcileUnseen(ctx context.Context, seen map[string]bool) {
	for key, st := range p.states.GetAll() {
		if seen[key] || st.Status.IsTerminal() {
			continue
		}
		if !p.cfg.IsTracked(st.Owner, st.Repo) {
			continue
		}

		info, err := p.provider.GetPRState(ctx, st.Owner, st.Repo, st.Number)
		if err != nil {
			p.log.Warn("Failed to reconcile PR state",
				zap.String("pr", key),
				zap.Error(err),
			)
			continue
		}
		switch info.State {
		case model.PRStateMerged:
			p.coord.HandleLifecycle(st.Owner, st.Repo, st.Number, true)
		case model.PRStateClosed:
			p.coord.HandleLifecycle(st.Owner, st.Repo, st.Number, false)
		default:
			// Still open; the listing missed it (pagination window,
			// transient forge hiccup). Leave it for the next tick.
		}
	}
}
