// Package telemetry provides OpenTelemetry integration for the application.
// This file contains unit tests for the metrics.
package telemetry

import (
	"context"
	"testing"
)

// TestGetMetrics tests the GetMetrics function
func TestGetMetrics(t *testing.T) {
	metrics := GetMetrics()
	if metrics == nil {
		t.Fatal("GetMetrics() returned nil")
	}

	// Second call should return same instance
	metrics2 := GetMetrics()
	if metrics != metrics2 {
		t.Error("GetMetrics() returned different instances on subsequent calls")
	}
}

// TestMetricsRecordReviewLifecycle tests the review start/complete/error recorders
func TestMetricsRecordReviewLifecycle(t *testing.T) {
	metrics := GetMetrics()
	ctx := context.Background()

	// Should not panic even if metrics are nil/empty
	metrics.RecordReviewStarted(ctx, "octocat", "hello-world")
	metrics.RecordReviewCompleted(ctx, "octocat", "hello-world", "APPROVE", 10.5)
	metrics.RecordReviewStarted(ctx, "octocat", "hello-world")
	metrics.RecordReviewError(ctx, "transient", "diff_fetch")
	metrics.RecordPhaseDuration(ctx, "llm_review", 42.0)
	metrics.RecordSkip(ctx, "diff_too_large")
}

// TestMetricsRecordFindings tests RecordFindings
func TestMetricsRecordFindings(t *testing.T) {
	metrics := GetMetrics()
	ctx := context.Background()

	// Should not panic
	metrics.RecordFindings(ctx, "issue", 5)
	metrics.RecordFindings(ctx, "praise", 1)
}

// TestMetricsRecordLLMUsage tests RecordLLMUsage
func TestMetricsRecordLLMUsage(t *testing.T) {
	metrics := GetMetrics()
	ctx := context.Background()

	// Should not panic
	metrics.RecordLLMUsage(ctx, 1000, 200, 50, 400, 0.42)
	metrics.RecordLLMUsage(ctx, 0, 0, 0, 0, 0)
}

// TestMetricsRecordIngress tests webhook and poll cycle recorders
func TestMetricsRecordIngress(t *testing.T) {
	metrics := GetMetrics()
	ctx := context.Background()

	metrics.RecordWebhookEvent(ctx, "review")
	metrics.RecordWebhookEvent(ctx, "lifecycle")
	metrics.RecordPollCycle(ctx)
	metrics.RecordGuardPause(ctx, "rate_limit")
}

// TestMetricsRecordHTTPRequest tests RecordHTTPRequest
func TestMetricsRecordHTTPRequest(t *testing.T) {
	metrics := GetMetrics()
	ctx := context.Background()

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/api/v1/status", 200, 0.05)
	metrics.RecordHTTPRequest(ctx, "POST", "/api/v1/webhooks/github", 202, 0.1)
	metrics.RecordHTTPRequest(ctx, "GET", "/api/v1/prs/a/b/1", 404, 0.01)
}

// TestMetricsRecordWorktreePrepare tests RecordWorktreePrepare
func TestMetricsRecordWorktreePrepare(t *testing.T) {
	metrics := GetMetrics()
	ctx := context.Background()

	// Should not panic
	metrics.RecordWorktreePrepare(ctx, true, 5.5)
	metrics.RecordWorktreePrepare(ctx, false, 30.0)
}

// TestMetricsNilSafe tests that metrics methods are nil-safe
func TestMetricsNilSafe(t *testing.T) {
	// Create empty metrics struct (simulating initialization failure)
	emptyMetrics := &Metrics{}
	ctx := context.Background()

	// None of these should panic
	t.Run("RecordReviewStarted", func(t *testing.T) {
		emptyMetrics.RecordReviewStarted(ctx, "o", "r")
	})

	t.Run("RecordReviewCompleted", func(t *testing.T) {
		emptyMetrics.RecordReviewCompleted(ctx, "o", "r", "COMMENT", 1.0)
	})

	t.Run("RecordReviewError", func(t *testing.T) {
		emptyMetrics.RecordReviewError(ctx, "permanent", "comment_post")
	})

	t.Run("RecordPhaseDuration", func(t *testing.T) {
		emptyMetrics.RecordPhaseDuration(ctx, "initialize", 0.1)
	})

	t.Run("RecordSkip", func(t *testing.T) {
		emptyMetrics.RecordSkip(ctx, "draft")
	})

	t.Run("RecordFindings", func(t *testing.T) {
		emptyMetrics.RecordFindings(ctx, "issue", 1)
	})

	t.Run("RecordLLMUsage", func(t *testing.T) {
		emptyMetrics.RecordLLMUsage(ctx, 1, 1, 1, 1, 0.1)
	})

	t.Run("RecordGuardPause", func(t *testing.T) {
		emptyMetrics.RecordGuardPause(ctx, "spending_limit")
	})

	t.Run("RecordWebhookEvent", func(t *testing.T) {
		emptyMetrics.RecordWebhookEvent(ctx, "comment")
	})

	t.Run("RecordPollCycle", func(t *testing.T) {
		emptyMetrics.RecordPollCycle(ctx)
	})

	t.Run("RecordHTTPRequest", func(t *testing.T) {
		emptyMetrics.RecordHTTPRequest(ctx, "GET", "/test", 200, 0.1)
	})

	t.Run("RecordWorktreePrepare", func(t *testing.T) {
		emptyMetrics.RecordWorktreePrepare(ctx, true, 1.0)
	})
}
