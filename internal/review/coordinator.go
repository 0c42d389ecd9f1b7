// Package review implements the review coordinator: the seven-phase
// pipeline that takes a pull request from sighting to a posted review.
// Both ingresses (poller and webhooks) funnel into Submit; concurrency
// is bounded by a worker semaphore and a per-PR mutex.
package review

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/decision"
	"github.com/prpatrol/prpatrol/internal/diff"
	"github.com/prpatrol/prpatrol/internal/feature"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/git"
	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/internal/store"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
	"github.com/prpatrol/prpatrol/pkg/telemetry"
)

// Cooldowns applied when the LLM reports a limit without a retry hint.
const (
	rateLimitCooldown     = 5 * time.Minute
	spendingLimitCooldown = time.Hour
)

// timingWindowSize bounds the rolling window used for the p95 duration.
const timingWindowSize = 100

// ProcessResult reports the outcome of one processPR run.
type ProcessResult struct {
	Key      string
	Reviewed bool
	Reason   string
	Verdict  model.Verdict
	Err      error
}

// Deps carries the coordinator's collaborators. Archive is optional;
// everything else is required.
type Deps struct {
	Config    *config.Config
	States    *state.Store
	Forge     forge.Provider
	LLM       llm.Client
	Worktrees *git.Manager
	Guard     *guard.Guard
	Features  *feature.Runner
	Audit     *audit.Logger
	Archive   store.Store
}

// Coordinator runs reviews. One instance per process.
type Coordinator struct {
	cfg       *config.Config
	states    *state.Store
	provider  forge.Provider
	client    llm.Client
	worktrees *git.Manager
	guard     *guard.Guard
	features  *feature.Runner
	audit     *audit.Logger
	archive   store.Store

	locks *keyedMutex
	sem   chan struct{}
	wg    sync.WaitGroup

	inflight atomic.Int64

	timingMu sync.Mutex
	timings  []time.Duration

	now func() time.Time
	log *zap.Logger
}

// New builds a coordinator.
func New(deps Deps) *Coordinator {
	workers := deps.Config.Review.MaxConcurrentReviews
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		cfg:       deps.Config,
		states:    deps.States,
		provider:  deps.Forge,
		client:    deps.LLM,
		worktrees: deps.Worktrees,
		guard:     deps.Guard,
		features:  deps.Features,
		audit:     deps.Audit,
		archive:   deps.Archive,
		locks:     newKeyedMutex(),
		sem:       make(chan struct{}, workers),
		now:       time.Now,
		log:       logger.Named("review"),
	}
}

// Submit queues a PR for asynchronous processing, bounded by the worker
// pool. Returns false when the context was cancelled before a worker
// slot freed up.
func (c *Coordinator) Submit(ctx context.Context, pr *model.PullRequest) bool {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()
		c.ProcessPR(ctx, pr)
	}()
	return true
}

// Wait blocks until all submitted reviews have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Inflight returns the number of reviews currently past the decision
// gate.
func (c *Coordinator) Inflight() int {
	return int(c.inflight.Load())
}

// P95Seconds returns the 95th-percentile total review duration over the
// rolling window, or zero when no review has completed yet.
func (c *Coordinator) P95Seconds() float64 {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	if len(c.timings) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), c.timings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx].Seconds()
}

func (c *Coordinator) recordTiming(d time.Duration) {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	c.timings = append(c.timings, d)
	if len(c.timings) > timingWindowSize {
		c.timings = c.timings[len(c.timings)-timingWindowSize:]
	}
}

// ProcessPR runs the full review pipeline for one PR, serialized per
// key. Callers that find the key locked wait and then re-check the
// decision, so concurrent submissions of the same PR collapse into one
// review.
func (c *Coordinator) ProcessPR(ctx context.Context, pr *model.PullRequest) ProcessResult {
	key := pr.Key()
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	start := c.now()
	metrics := telemetry.GetMetrics()

	// Phase 1: initialize.
	phaseStart := c.now()
	st, dec, err := c.initialize(pr)
	metrics.RecordPhaseDuration(ctx, model.PhaseInitialize, c.now().Sub(phaseStart).Seconds())
	if err != nil {
		return c.fail(ctx, pr, model.PhaseInitialize, err)
	}
	if !dec.Review {
		c.log.Debug("Review not started",
			zap.String("pr", key),
			zap.String("reason", dec.Reason),
		)
		return ProcessResult{Key: key, Reason: dec.Reason}
	}

	c.inflight.Add(1)
	defer c.inflight.Add(-1)
	metrics.RecordReviewStarted(ctx, pr.Owner, pr.Repo)
	c.audit.Record(audit.EventReviewStarted, key, map[string]any{"sha": pr.HeadSha, "reason": dec.Reason})
	c.log.Info("Review started",
		zap.String("pr", key),
		zap.String("sha", pr.HeadSha),
		zap.String("reason", dec.Reason),
	)

	// Phase 2: fetch and filter the diff.
	phaseStart = c.now()
	diffText, skipped, err := c.fetchDiff(ctx, pr)
	metrics.RecordPhaseDuration(ctx, model.PhaseDiffFetch, c.now().Sub(phaseStart).Seconds())
	if err != nil {
		return c.fail(ctx, pr, model.PhaseDiffFetch, err)
	}
	if skipped != "" {
		metrics.RecordSkip(ctx, skipped)
		c.audit.Record(audit.EventReviewSkipped, key, map[string]any{"reason": skipped, "sha": pr.HeadSha})
		return ProcessResult{Key: key, Reason: skipped}
	}

	statusCommentID := c.postStatusComment(ctx, pr)
	defer c.deleteStatusComment(ctx, pr, statusCommentID)

	// Phase 3: pre-review features.
	phaseStart = c.now()
	fc := &feature.Context{
		Ctx:    ctx,
		PR:     pr,
		State:  st,
		Diff:   diffText,
		Forge:  c.provider,
		LLM:    c.client,
		Config: c.cfg,
		States: c.states,
	}
	c.features.Run(feature.PhasePreReview, fc)
	if fresh, ok := c.states.Get(key); ok {
		st = fresh
		fc.State = fresh
	}
	metrics.RecordPhaseDuration(ctx, model.PhasePreFeatures, c.now().Sub(phaseStart).Seconds())

	// Phase 4: prepare the worktree when codebase access is enabled.
	var workDir string
	if c.cfg.Review.CodebaseAccess && c.worktrees != nil {
		phaseStart = c.now()
		workDir, err = c.worktrees.PrepareForPR(ctx, pr.Owner, pr.Repo, pr.Number, pr.HeadSha)
		metrics.RecordPhaseDuration(ctx, model.PhaseClonePrepare, c.now().Sub(phaseStart).Seconds())
		metrics.RecordWorktreePrepare(ctx, err == nil, c.now().Sub(phaseStart).Seconds())
		if err != nil {
			return c.fail(ctx, pr, model.PhaseClonePrepare, errors.Wrap(errors.ErrCodeClonePrepare, "failed to prepare worktree", err))
		}
		defer c.worktrees.CleanupPR(pr.Owner, pr.Repo, pr.Number)
	}

	// Phase 5: invoke the LLM.
	phaseStart = c.now()
	env, err := c.invokeLLM(ctx, pr, st, diffText, workDir)
	metrics.RecordPhaseDuration(ctx, model.PhaseClaudeReview, c.now().Sub(phaseStart).Seconds())
	if err != nil {
		return c.fail(ctx, pr, model.PhaseClaudeReview, err)
	}
	usage := env.Usage()
	metrics.RecordLLMUsage(ctx, usage.InputTokens, usage.OutputTokens,
		usage.CacheCreationInputTokens, usage.CacheReadInputTokens, usage.CostUSD)

	structured, parseErr := llm.ExtractStructuredReview(env.Result)

	// Phase 6: post.
	phaseStart = c.now()
	var verdict model.Verdict
	var commentID, reviewID *int64
	var findings []model.Finding
	if parseErr == nil {
		verdict = escalateVerdict(structured, st)
		findings = structured.Findings
		reviewID, err = c.postStructured(ctx, pr, st, structured, verdict, diffText)
	} else {
		c.log.Warn("Structured extraction failed, posting freeform fallback",
			zap.String("pr", key),
			zap.Error(parseErr),
		)
		verdict = model.VerdictUnknown
		commentID, err = c.postFreeform(ctx, pr, env.Result)
	}
	metrics.RecordPhaseDuration(ctx, model.PhaseCommentPost, c.now().Sub(phaseStart).Seconds())
	if err != nil {
		return c.fail(ctx, pr, model.PhaseCommentPost, err)
	}
	for _, f := range findings {
		metrics.RecordFindings(ctx, string(f.Severity), 1)
	}

	// Phase 7: finalize.
	phaseStart = c.now()
	finalized := c.finalize(ctx, pr, fc, structured, verdict, commentID, reviewID, &usage)
	metrics.RecordPhaseDuration(ctx, model.PhaseFinalize, c.now().Sub(phaseStart).Seconds())

	total := c.now().Sub(start)
	c.recordTiming(total)
	metrics.RecordReviewCompleted(ctx, pr.Owner, pr.Repo, string(verdict), total.Seconds())
	c.audit.Record(audit.EventReviewCompleted, key, map[string]any{
		"sha":      pr.HeadSha,
		"verdict":  string(verdict),
		"findings": len(findings),
		"posted":   !c.cfg.Review.DryRun,
	})
	c.log.Info("Review completed",
		zap.String("pr", key),
		zap.String("verdict", string(verdict)),
		zap.Int("findings", len(findings)),
		zap.Duration("duration", total),
		zap.Bool("finalized", finalized),
	)

	return ProcessResult{Key: key, Reviewed: true, Reason: dec.Reason, Verdict: verdict}
}

// initialize reconciles PR metadata into state, applies auto-transitions
// and skip policies, and consults the decision engine.
func (c *Coordinator) initialize(pr *model.PullRequest) (*model.PRState, decision.Decision, error) {
	key := pr.Key()
	now := c.now()

	_, _, err := c.states.GetOrCreate(key, &model.PRState{
		Owner:       pr.Owner,
		Repo:        pr.Repo,
		Number:      pr.Number,
		Status:      model.StatusPendingReview,
		Title:       pr.Title,
		HeadSha:     pr.HeadSha,
		BaseBranch:  pr.BaseBranch,
		HeadBranch:  pr.HeadBranch,
		IsDraft:     pr.IsDraft,
		FirstSeenAt: now,
	})
	if err != nil {
		return nil, decision.Decision{}, err
	}

	st, err := c.states.Update(key, func(s *model.PRState) {
		if s.HeadSha != "" && s.HeadSha != pr.HeadSha {
			t := now
			s.LastPushAt = &t
		}
		s.Title = pr.Title
		s.HeadSha = pr.HeadSha
		s.BaseBranch = pr.BaseBranch
		s.HeadBranch = pr.HeadBranch
		s.IsDraft = pr.IsDraft

		// Auto-transitions.
		if s.Status == model.StatusReviewed && s.LastReviewedSha != pr.HeadSha {
			s.Status = model.StatusChangesPushed
		}
		if s.Status == model.StatusSkipped {
			c.clearStaleSkip(s, pr)
		}

		// Skip policies.
		if s.Status != model.StatusSkipped && !s.Status.IsTerminal() {
			if c.cfg.Review.SkipDrafts && pr.IsDraft {
				s.Status = model.StatusSkipped
				s.SkipReason = model.SkipReasonDraft
			} else if c.cfg.Review.SkipWip && strings.HasPrefix(strings.ToLower(pr.Title), "wip") {
				s.Status = model.StatusSkipped
				s.SkipReason = model.SkipReasonWIPTitle
			}
		}
	})
	if err != nil {
		return nil, decision.Decision{}, err
	}

	dec := decision.ShouldReview(st, decision.Config{
		SkipDrafts:            c.cfg.Review.SkipDrafts,
		SkipWip:               c.cfg.Review.SkipWip,
		DebouncePeriodSeconds: c.cfg.Review.DebouncePeriodSeconds,
		MaxRetries:            c.cfg.Review.MaxRetries,
	}, pr.ForceReview, now)
	return st, dec, nil
}

// clearStaleSkip lifts a skip whose cause no longer holds.
func (c *Coordinator) clearStaleSkip(s *model.PRState, pr *model.PullRequest) {
	cleared := false
	switch s.SkipReason {
	case model.SkipReasonDraft:
		cleared = !pr.IsDraft
	case model.SkipReasonWIPTitle:
		cleared = !strings.HasPrefix(strings.ToLower(pr.Title), "wip")
	case model.SkipReasonDiffTooLarge:
		cleared = s.SkippedAtSha != pr.HeadSha
	case "":
		cleared = true
	}
	if cleared {
		s.Status = model.StatusPendingReview
		s.SkipReason = ""
		s.SkipDiffLines = 0
		s.SkippedAtSha = ""
	}
}

// fetchDiff pulls the diff, applies the exclude filter and the size
// gate. A non-empty skip reason means the review stops without error.
func (c *Coordinator) fetchDiff(ctx context.Context, pr *model.PullRequest) (string, string, error) {
	raw, err := c.provider.GetPRDiff(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeDiffFetch, "failed to fetch diff", err)
	}

	filtered := diff.FilterDiff(raw, c.cfg.Review.ExcludePaths)
	lines := diff.LineCount(filtered)
	if lines > c.cfg.Review.MaxDiffLines {
		_, err := c.states.Update(pr.Key(), func(s *model.PRState) {
			s.Status = model.StatusSkipped
			s.SkipReason = model.SkipReasonDiffTooLarge
			s.SkipDiffLines = lines
			s.SkippedAtSha = pr.HeadSha
		})
		if err != nil {
			return "", "", err
		}
		c.log.Info("Diff too large, skipping",
			zap.String("pr", pr.Key()),
			zap.Int("lines", lines),
			zap.Int("max", c.cfg.Review.MaxDiffLines),
		)
		return "", model.SkipReasonDiffTooLarge, nil
	}

	if _, err := c.states.Update(pr.Key(), func(s *model.PRState) {
		s.Status = model.StatusReviewing
	}); err != nil {
		return "", "", err
	}
	return filtered, "", nil
}

// postStatusComment posts the transient "review started" marker. Best
// effort: a failure only loses the marker, not the review.
func (c *Coordinator) postStatusComment(ctx context.Context, pr *model.PullRequest) *int64 {
	if c.cfg.Review.DryRun {
		return nil
	}
	body := "🔍 Review in progress for `" + shortSha(pr.HeadSha) + "`…"
	id, err := c.provider.PostComment(ctx, pr.Owner, pr.Repo, pr.Number, body)
	if err != nil {
		c.log.Warn("Failed to post status comment",
			zap.String("pr", pr.Key()),
			zap.Error(err),
		)
		return nil
	}
	return &id
}

// deleteStatusComment removes the transient marker. Runs on every exit
// path once posted.
func (c *Coordinator) deleteStatusComment(ctx context.Context, pr *model.PullRequest, id *int64) {
	if id == nil {
		return
	}
	if err := c.provider.DeleteComment(ctx, pr.Owner, pr.Repo, pr.Number, *id); err != nil {
		c.log.Warn("Failed to delete status comment",
			zap.String("pr", pr.Key()),
			zap.Int64("comment_id", *id),
			zap.Error(err),
		)
	}
}

// invokeLLM builds the prompt, passes the rate-limit gate, and runs the
// LLM client. Limit errors are reported to the guard before returning.
func (c *Coordinator) invokeLLM(ctx context.Context, pr *model.PullRequest, st *model.PRState, diffText, workDir string) (*llm.Envelope, error) {
	var focus []string
	if pr.Overrides != nil {
		focus = pr.Overrides.FocusPaths
	}
	prompt := buildPrompt(&promptInput{
		PR:            pr,
		State:         st,
		Diff:          diffText,
		SecurityPaths: diff.FindSecurityPaths(diffText, c.cfg.Review.SecurityPaths),
		FocusPaths:    focus,
		Language:      c.cfg.Review.GetOutputLanguage(),
		CodebaseDir:   workDir,
	})

	if err := c.guard.Acquire(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeReviewRun, "guard wait aborted", err)
	}

	maxTurns := c.cfg.Review.MaxTurns
	if pr.Overrides != nil && pr.Overrides.MaxTurns > 0 && pr.Overrides.MaxTurns < maxTurns {
		maxTurns = pr.Overrides.MaxTurns
	}

	env, err := c.client.Review(ctx, &llm.Request{
		Prompt:   prompt,
		WorkDir:  workDir,
		MaxTurns: maxTurns,
		Timeout:  time.Duration(c.cfg.Review.ReviewTimeoutMinutes) * time.Minute,
	})
	if err != nil {
		c.reportLimit(ctx, err)
		return nil, err
	}
	return env, nil
}

// reportLimit forwards LLM limit errors to the guard so other workers
// pause instead of burning into the same limit.
func (c *Coordinator) reportLimit(ctx context.Context, err error) {
	switch {
	case errors.HasCode(err, errors.ErrCodeLLMSpendingLimit):
		c.guard.Report(guard.PauseSpendingLimit, spendingLimitCooldown)
		telemetry.GetMetrics().RecordGuardPause(ctx, string(guard.PauseSpendingLimit))
		c.audit.Record(audit.EventGuardPaused, "", map[string]any{"kind": string(guard.PauseSpendingLimit)})
	case errors.HasCode(err, errors.ErrCodeLLMRateLimit):
		c.guard.Report(guard.PauseRateLimit, rateLimitCooldown)
		telemetry.GetMetrics().RecordGuardPause(ctx, string(guard.PauseRateLimit))
		c.audit.Record(audit.EventGuardPaused, "", map[string]any{"kind": string(guard.PauseRateLimit)})
	}
}

// postStructured snaps findings, composes the review body, and posts it
// through the forge Reviews API. Thread resolution is best-effort.
func (c *Coordinator) postStructured(ctx context.Context, pr *model.PullRequest, st *model.PRState, structured *model.StructuredReview, verdict model.Verdict, diffText string) (*int64, error) {
	commentable := diff.ParseCommentableLines(diffText)
	inline, orphans := snapFindings(structured.Findings, commentable)
	body := composeReviewBody(structured, verdict, orphans, pr.HeadSha, c.cfg.Review.CommentTag)

	if c.cfg.Review.DryRun {
		c.log.Info("Dry run, review not posted",
			zap.String("pr", pr.Key()),
			zap.String("verdict", string(verdict)),
			zap.Int("inline", len(inline)),
			zap.Int("orphans", len(orphans)),
		)
		return nil, nil
	}

	event := forge.ReviewEventComment
	if verdict == model.VerdictApprove {
		event = forge.ReviewEventApprove
	}

	id, err := c.provider.PostReview(ctx, pr.Owner, pr.Repo, pr.Number, &forge.Review{
		Body:     body,
		CommitID: pr.HeadSha,
		Event:    event,
		Comments: inline,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCommentPost, "failed to post review", err)
	}

	c.resolveThreads(ctx, pr, st, structured)
	return &id, nil
}

// resolveThreads resolves forge threads matching this review's
// "resolved" resolutions. Failures are logged and swallowed.
func (c *Coordinator) resolveThreads(ctx context.Context, pr *model.PullRequest, st *model.PRState, structured *model.StructuredReview) {
	if len(structured.Resolutions) == 0 {
		return
	}
	threads, err := c.provider.GetReviewThreads(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		if !forge.IsUnsupported(err) {
			c.log.Warn("Failed to list review threads",
				zap.String("pr", pr.Key()),
				zap.Error(err),
			)
		}
		return
	}
	for _, id := range threadsToResolve(structured, st, threads) {
		if err := c.provider.ResolveReviewThread(ctx, pr.Owner, pr.Repo, pr.Number, id); err != nil {
			if forge.IsUnsupported(err) {
				return
			}
			c.log.Warn("Failed to resolve review thread",
				zap.String("pr", pr.Key()),
				zap.String("thread", id),
				zap.Error(err),
			)
		}
	}
}

// postFreeform creates or updates the tagged fallback comment.
func (c *Coordinator) postFreeform(ctx context.Context, pr *model.PullRequest, text string) (*int64, error) {
	body := composeFallbackBody(text, pr.HeadSha, c.cfg.Review.CommentTag)
	if c.cfg.Review.DryRun {
		return nil, nil
	}

	existing, err := c.provider.FindExistingComment(ctx, pr.Owner, pr.Repo, pr.Number, c.cfg.Review.CommentTag)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCommentPost, "failed to find existing comment", err)
	}
	if existing != nil {
		if err := c.provider.UpdateComment(ctx, pr.Owner, pr.Repo, pr.Number, *existing, body); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCommentPost, "failed to update comment", err)
		}
		return existing, nil
	}

	id, err := c.provider.PostComment(ctx, pr.Owner, pr.Repo, pr.Number, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCommentPost, "failed to post comment", err)
	}
	return &id, nil
}

// finalize writes the review record unless a concurrent lifecycle event
// made the PR terminal mid-review, then runs post-review features.
// Returns false when the terminal re-check suppressed the write.
func (c *Coordinator) finalize(ctx context.Context, pr *model.PullRequest, fc *feature.Context, structured *model.StructuredReview, verdict model.Verdict, commentID, reviewID *int64, usage *model.ReviewUsage) bool {
	key := pr.Key()

	current, ok := c.states.Get(key)
	if ok && current.Status.IsTerminal() {
		c.log.Info("PR went terminal during review, not finalizing",
			zap.String("pr", key),
			zap.String("status", string(current.Status)),
		)
		return false
	}

	now := c.now()
	var findings []model.Finding
	if structured != nil {
		findings = structured.Findings
	}
	_, err := c.states.Update(key, func(s *model.PRState) {
		record := model.ReviewRecord{
			Sha:        pr.HeadSha,
			ReviewedAt: now,
			CommentID:  commentID,
			ReviewID:   reviewID,
			Verdict:    verdict,
			Posted:     !c.cfg.Review.DryRun,
			Findings:   findings,
		}
		s.Reviews = append(s.Reviews, record)
		if max := c.cfg.Review.MaxReviewHistory; max > 0 && len(s.Reviews) > max {
			s.Reviews = s.Reviews[len(s.Reviews)-max:]
		}
		s.LastReviewedSha = pr.HeadSha
		t := now
		s.LastReviewedAt = &t
		if commentID != nil {
			s.CommentID = commentID
		}
		if reviewID != nil {
			s.ReviewID = reviewID
		}
		s.LastError = nil
		s.ConsecutiveErrors = 0
		s.SkipReason = ""
		s.SkipDiffLines = 0
		s.SkippedAtSha = ""
		s.Status = model.StatusReviewed
	})
	if err != nil {
		c.log.Error("Failed to finalize state",
			zap.String("pr", key),
			zap.Error(err),
		)
		return false
	}

	c.archiveReview(pr, structured, verdict, usage)

	if fresh, ok := c.states.Get(key); ok {
		fc.State = fresh
	}
	fc.Review = structured
	c.features.Run(feature.PhasePostReview, fc)
	return true
}

// archiveReview writes the durable archive row. Best-effort: archive
// failures never affect the review outcome.
func (c *Coordinator) archiveReview(pr *model.PullRequest, structured *model.StructuredReview, verdict model.Verdict, usage *model.ReviewUsage) {
	if c.archive == nil {
		return
	}
	row := &model.ReviewArchive{
		Owner:   pr.Owner,
		Repo:    pr.Repo,
		Number:  pr.Number,
		Sha:     pr.HeadSha,
		Verdict: string(verdict),
		Posted:  !c.cfg.Review.DryRun,
	}
	if structured != nil {
		row.Summary = structured.Summary
		row.Findings = structured.Findings
	}
	if usage != nil {
		row.InputTokens = usage.InputTokens
		row.OutputTokens = usage.OutputTokens
		row.CostUSD = usage.CostUSD
		row.Model = usage.Model
		row.NumTurns = usage.NumTurns
		row.DurationMS = usage.DurationMS
	}
	if err := c.archive.Archive().Create(row); err != nil {
		c.log.Warn("Failed to archive review",
			zap.String("pr", pr.Key()),
			zap.Error(err),
		)
	}
}

// fail records a phase failure into state with retry accounting.
// Permanent failures are fenced off from automatic retry by saturating
// the error counter.
func (c *Coordinator) fail(ctx context.Context, pr *model.PullRequest, phase string, err error) ProcessResult {
	key := pr.Key()
	kind := errors.Classify(err)

	_, uerr := c.states.Update(key, func(s *model.PRState) {
		if s.Status.IsTerminal() {
			return
		}
		s.Status = model.StatusError
		s.LastError = &model.LastError{
			Phase:      phase,
			Kind:       string(kind),
			Message:    err.Error(),
			Sha:        pr.HeadSha,
			OccurredAt: c.now(),
		}
		if kind == errors.KindPermanent {
			s.ConsecutiveErrors = c.cfg.Review.MaxRetries
		} else {
			s.ConsecutiveErrors++
		}
	})
	if uerr != nil {
		c.log.Error("Failed to record review error",
			zap.String("pr", key),
			zap.Error(uerr),
		)
	}

	telemetry.GetMetrics().RecordReviewError(ctx, string(kind), phase)
	c.audit.Record(audit.EventReviewFailed, key, map[string]any{
		"phase": phase,
		"kind":  string(kind),
		"error": err.Error(),
	})
	c.log.Error("Review failed",
		zap.String("pr", key),
		zap.String("phase", phase),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	return ProcessResult{Key: key, Reason: phase, Err: err}
}

// HandleLifecycle applies a terminal transition from a webhook or
// reconciliation. Bypasses the per-PR mutex: terminal fields are safe
// to set concurrently and the finalize re-check handles the race.
func (c *Coordinator) HandleLifecycle(owner, repo string, number int, merged bool) {
	key := model.PRKey(owner, repo, number)
	status := model.StatusClosed
	event := audit.EventPRClosed
	if merged {
		status = model.StatusMerged
		event = audit.EventPRMerged
	}

	if _, ok := c.states.Get(key); !ok {
		return
	}
	_, err := c.states.Update(key, func(s *model.PRState) {
		if s.Status.IsTerminal() {
			return
		}
		s.Status = status
		t := c.now()
		s.ClosedAt = &t
	})
	if err != nil {
		c.log.Warn("Failed to apply lifecycle transition",
			zap.String("pr", key),
			zap.Error(err),
		)
		return
	}
	c.audit.Record(event, key, nil)
	c.log.Info("PR lifecycle transition",
		zap.String("pr", key),
		zap.String("status", string(status)),
	)
}
