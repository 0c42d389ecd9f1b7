// Package telemetry provides OpenTelemetry integration for the application.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/pkg/logger"
)

const (
	// MeterName is the default meter name for the application
	MeterName = "github.com/prpatrol/prpatrol"
)

// Metrics holds all application metrics
type Metrics struct {
	// Review metrics
	ReviewsTotal        metric.Int64Counter
	ReviewDuration      metric.Float64Histogram
	ReviewPhaseDuration metric.Float64Histogram
	ReviewsInflight     metric.Int64UpDownCounter
	ReviewErrorsTotal   metric.Int64Counter
	SkipsTotal          metric.Int64Counter
	FindingsTotal       metric.Int64Counter

	// LLM metrics
	LLMTokensTotal   metric.Int64Counter
	LLMCostTotal     metric.Float64Counter
	GuardPausedTotal metric.Int64Counter

	// Ingress metrics
	WebhookEventsTotal metric.Int64Counter
	PollCyclesTotal    metric.Int64Counter

	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Git metrics
	WorktreePrepareTotal    metric.Int64Counter
	WorktreePrepareDuration metric.Float64Histogram
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		var err error
		globalMetrics, err = initMetrics()
		if err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			// Return empty metrics to avoid nil pointer
			globalMetrics = &Metrics{}
		}
	})
	return globalMetrics
}

// initMetrics initializes all application metrics
func initMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}

	var err error

	// Review metrics
	m.ReviewsTotal, err = meter.Int64Counter(
		"prpatrol_reviews_total",
		metric.WithDescription("Total number of completed code reviews"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewDuration, err = meter.Float64Histogram(
		"prpatrol_review_duration_seconds",
		metric.WithDescription("Total duration of code reviews in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewPhaseDuration, err = meter.Float64Histogram(
		"prpatrol_review_phase_duration_seconds",
		metric.WithDescription("Duration of individual review phases in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewsInflight, err = meter.Int64UpDownCounter(
		"prpatrol_reviews_inflight",
		metric.WithDescription("Number of reviews currently running"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewErrorsTotal, err = meter.Int64Counter(
		"prpatrol_review_errors_total",
		metric.WithDescription("Total number of review errors by kind and phase"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.SkipsTotal, err = meter.Int64Counter(
		"prpatrol_skips_total",
		metric.WithDescription("Total number of skipped reviews by reason"),
		metric.WithUnit("{skip}"),
	)
	if err != nil {
		return nil, err
	}

	m.FindingsTotal, err = meter.Int64Counter(
		"prpatrol_findings_total",
		metric.WithDescription("Total number of review findings by severity"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, err
	}

	// LLM metrics
	m.LLMTokensTotal, err = meter.Int64Counter(
		"prpatrol_llm_tokens_total",
		metric.WithDescription("Total LLM tokens consumed by type"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCostTotal, err = meter.Float64Counter(
		"prpatrol_llm_cost_usd_total",
		metric.WithDescription("Cumulative LLM cost in USD"),
		metric.WithUnit("{usd}"),
	)
	if err != nil {
		return nil, err
	}

	m.GuardPausedTotal, err = meter.Int64Counter(
		"prpatrol_guard_pauses_total",
		metric.WithDescription("Total number of rate limit guard pauses by kind"),
		metric.WithUnit("{pause}"),
	)
	if err != nil {
		return nil, err
	}

	// Ingress metrics
	m.WebhookEventsTotal, err = meter.Int64Counter(
		"prpatrol_webhook_events_total",
		metric.WithDescription("Total number of webhook events by class"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	m.PollCyclesTotal, err = meter.Int64Counter(
		"prpatrol_poll_cycles_total",
		metric.WithDescription("Total number of completed poll cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	// HTTP metrics
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"prpatrol_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"prpatrol_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	// Git metrics
	m.WorktreePrepareTotal, err = meter.Int64Counter(
		"prpatrol_worktree_prepare_total",
		metric.WithDescription("Total number of PR worktree preparations"),
		metric.WithUnit("{prepare}"),
	)
	if err != nil {
		return nil, err
	}

	m.WorktreePrepareDuration, err = meter.Float64Histogram(
		"prpatrol_worktree_prepare_duration_seconds",
		metric.WithDescription("Duration of PR worktree preparations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("Metrics initialized successfully")
	return m, nil
}

// RecordReviewStarted records that a review has started
func (m *Metrics) RecordReviewStarted(ctx context.Context, owner, repo string) {
	if m.ReviewsInflight != nil {
		m.ReviewsInflight.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("owner", owner),
				attribute.String("repo", repo),
			),
		)
	}
}

// RecordReviewCompleted records that a review has completed
func (m *Metrics) RecordReviewCompleted(ctx context.Context, owner, repo, verdict string, durationSeconds float64) {
	if m.ReviewsInflight != nil {
		m.ReviewsInflight.Add(ctx, -1,
			metric.WithAttributes(
				attribute.String("owner", owner),
				attribute.String("repo", repo),
			),
		)
	}
	if m.ReviewsTotal != nil {
		m.ReviewsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("repo", owner+"/"+repo),
				attribute.String("verdict", verdict),
			),
		)
	}
	if m.ReviewDuration != nil {
		m.ReviewDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("verdict", verdict)),
		)
	}
}

// RecordPhaseDuration records the duration of a single review phase
func (m *Metrics) RecordPhaseDuration(ctx context.Context, phase string, durationSeconds float64) {
	if m.ReviewPhaseDuration == nil {
		return
	}
	m.ReviewPhaseDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

// RecordReviewError records a review error by kind and phase
func (m *Metrics) RecordReviewError(ctx context.Context, kind, phase string) {
	if m.ReviewsInflight != nil {
		m.ReviewsInflight.Add(ctx, -1)
	}
	if m.ReviewErrorsTotal == nil {
		return
	}
	m.ReviewErrorsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("phase", phase),
		),
	)
}

// RecordSkip records a skipped review by reason
func (m *Metrics) RecordSkip(ctx context.Context, reason string) {
	if m.SkipsTotal == nil {
		return
	}
	m.SkipsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordFindings records review findings by severity
func (m *Metrics) RecordFindings(ctx context.Context, severity string, count int64) {
	if m.FindingsTotal == nil {
		return
	}
	m.FindingsTotal.Add(ctx, count,
		metric.WithAttributes(attribute.String("severity", severity)),
	)
}

// RecordLLMUsage records token counts and cost from an LLM invocation
func (m *Metrics) RecordLLMUsage(ctx context.Context, inputTokens, outputTokens, cacheCreationTokens, cacheReadTokens int64, costUSD float64) {
	if m.LLMTokensTotal != nil {
		m.LLMTokensTotal.Add(ctx, inputTokens, metric.WithAttributes(attribute.String("type", "input")))
		m.LLMTokensTotal.Add(ctx, outputTokens, metric.WithAttributes(attribute.String("type", "output")))
		m.LLMTokensTotal.Add(ctx, cacheCreationTokens, metric.WithAttributes(attribute.String("type", "cache_creation")))
		m.LLMTokensTotal.Add(ctx, cacheReadTokens, metric.WithAttributes(attribute.String("type", "cache_read")))
	}
	if m.LLMCostTotal != nil && costUSD > 0 {
		m.LLMCostTotal.Add(ctx, costUSD)
	}
}

// RecordGuardPause records a rate limit guard pause by kind
func (m *Metrics) RecordGuardPause(ctx context.Context, kind string) {
	if m.GuardPausedTotal == nil {
		return
	}
	m.GuardPausedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordWebhookEvent records a webhook event by class
func (m *Metrics) RecordWebhookEvent(ctx context.Context, class string) {
	if m.WebhookEventsTotal == nil {
		return
	}
	m.WebhookEventsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("class", class)),
	)
}

// RecordPollCycle records a completed poll cycle
func (m *Metrics) RecordPollCycle(ctx context.Context) {
	if m.PollCyclesTotal == nil {
		return
	}
	m.PollCyclesTotal.Add(ctx, 1)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m.HTTPRequestsTotal != nil {
		m.HTTPRequestsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.Int("status_code", statusCode),
			),
		)
	}
	if m.HTTPRequestDuration != nil {
		m.HTTPRequestDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
			),
		)
	}
}

// RecordWorktreePrepare records a PR worktree preparation
func (m *Metrics) RecordWorktreePrepare(ctx context.Context, success bool, durationSeconds float64) {
	if m.WorktreePrepareTotal != nil {
		m.WorktreePrepareTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("success", success)),
		)
	}
	if m.WorktreePrepareDuration != nil {
		m.WorktreePrepareDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.Bool("success", success)),
		)
	}
}
