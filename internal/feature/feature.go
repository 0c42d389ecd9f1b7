// Package feature implements the pluggable pre-review and post-review
// collaborators that run around the core review flow. Features are
// executed in registration order with per-feature timing and error
// isolation; a failing feature never aborts the review.
package feature

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// Phase is the point in the review flow a feature runs at.
type Phase string

const (
	PhasePreReview  Phase = "pre_review"
	PhasePostReview Phase = "post_review"
)

// Execution status values recorded into the PR's feature log.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// maxFeatureExecutions bounds the per-PR feature execution log.
const maxFeatureExecutions = 30

// Context carries everything a feature may need for one run. State is a
// snapshot; durable mutations go through States.
type Context struct {
	Ctx    context.Context
	PR     *model.PullRequest
	State  *model.PRState
	Diff   string                  // filtered diff, set once fetched
	Review *model.StructuredReview // nil in pre_review phase

	Forge  forge.Provider
	LLM    llm.Client
	Config *config.Config
	States *state.Store

	Log *zap.Logger
}

// Feature is one pluggable collaborator.
type Feature interface {
	// Name returns the feature name used in logs and execution records.
	Name() string

	// Phase returns when the feature runs relative to the review.
	Phase() Phase

	// ShouldRun reports whether the feature applies to this PR.
	ShouldRun(fc *Context) bool

	// Execute runs the feature. Errors are recorded, not propagated.
	Execute(fc *Context) error
}

// Runner dispatches registered features in order.
type Runner struct {
	features []Feature
	states   *state.Store
}

// NewRunner builds a runner over an ordered feature list.
func NewRunner(states *state.Store, features ...Feature) *Runner {
	return &Runner{features: features, states: states}
}

// BuildFeatures assembles the shipped feature set in its fixed order
// from config toggles.
func BuildFeatures(cfg *config.Config) []Feature {
	var features []Feature
	if cfg.Features.Jira.Enabled {
		features = append(features, NewJira(&cfg.Features.Jira))
	}
	if cfg.Features.Description.Enabled {
		features = append(features, NewDescription())
	}
	if cfg.Features.Labels.Enabled {
		features = append(features, NewLabels(&cfg.Features.Labels))
	}
	if cfg.Features.Slack.Enabled {
		features = append(features, NewSlack(&cfg.Features.Slack))
	}
	return features
}

// Run executes all features registered for the given phase. Results are
// appended to the PR's bounded execution log and returned for the
// caller's inspection.
func (r *Runner) Run(phase Phase, fc *Context) []model.FeatureExecution {
	var results []model.FeatureExecution

	for _, f := range r.features {
		if f.Phase() != phase {
			continue
		}

		fc.Log = logger.Named("feature." + f.Name())
		exec := model.FeatureExecution{
			Feature:    f.Name(),
			Phase:      string(phase),
			ExecutedAt: time.Now(),
		}

		if !f.ShouldRun(fc) {
			exec.Status = StatusSkipped
			results = append(results, exec)
			continue
		}

		start := time.Now()
		err := runIsolated(f, fc)
		exec.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			exec.Status = StatusError
			exec.Error = err.Error()
			fc.Log.Warn("Feature failed",
				zap.String("pr", fc.PR.Key()),
				zap.Error(err),
			)
		} else {
			exec.Status = StatusCompleted
			fc.Log.Debug("Feature completed",
				zap.String("pr", fc.PR.Key()),
				zap.Int64("duration_ms", exec.DurationMS),
			)
		}
		results = append(results, exec)
	}

	if len(results) > 0 && r.states != nil {
		_, err := r.states.Update(fc.PR.Key(), func(st *model.PRState) {
			st.FeatureExecutions = append(st.FeatureExecutions, results...)
			if n := len(st.FeatureExecutions); n > maxFeatureExecutions {
				st.FeatureExecutions = st.FeatureExecutions[n-maxFeatureExecutions:]
			}
		})
		if err != nil {
			logger.Warn("Failed to record feature executions",
				zap.String("pr", fc.PR.Key()),
				zap.Error(err),
			)
		}
	}

	return results
}

// runIsolated executes a feature and converts panics into errors so a
// misbehaving feature cannot take down the review worker.
func runIsolated(f Feature, fc *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{feature: f.Name(), value: rec}
		}
	}()
	return f.Execute(fc)
}

type panicError struct {
	feature string
	value   interface{}
}

func (e *panicError) Error() string {
	return "feature " + e.feature + " panicked"
}
