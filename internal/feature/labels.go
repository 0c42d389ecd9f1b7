package feature

import (
	"strings"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/model"
)

// Label names the feature knows how to derive from a review. Only the
// subset present in the configured allow-list is ever applied.
const (
	labelApproved       = "review/approved"
	labelChangesWanted  = "review/changes-requested"
	labelCommented      = "review/commented"
	labelSecurityReview = "security-review"
)

// managedLabels are the labels this feature owns. Stale ones from a
// previous review round are removed before the current set is applied.
var managedLabels = []string{labelApproved, labelChangesWanted, labelCommented, labelSecurityReview}

// Labels maps the review outcome onto repository labels.
type Labels struct {
	cfg *config.LabelsFeatureConfig
}

// NewLabels builds the auto-labeling feature.
func NewLabels(cfg *config.LabelsFeatureConfig) *Labels {
	return &Labels{cfg: cfg}
}

func (l *Labels) Name() string {
	return "labels"
}

func (l *Labels) Phase() Phase {
	return PhasePostReview
}

// ShouldRun requires a structured review and honors the per-request
// skip override.
func (l *Labels) ShouldRun(fc *Context) bool {
	if fc.PR.Overrides != nil && fc.PR.Overrides.SkipLabels {
		return false
	}
	return fc.Review != nil
}

// Execute computes the label set from the verdict and finding mix,
// reconciles it against the labels currently on the PR, and records
// what was applied.
func (l *Labels) Execute(fc *Context) error {
	desired := l.desiredLabels(fc.Review)

	current, err := fc.Forge.GetPRLabels(fc.Ctx, fc.PR.Owner, fc.PR.Repo, fc.PR.Number)
	if err != nil {
		return err
	}
	currentSet := make(map[string]bool, len(current))
	for _, name := range current {
		currentSet[strings.ToLower(name)] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, name := range desired {
		desiredSet[strings.ToLower(name)] = true
	}

	var toRemove []string
	for _, name := range managedLabels {
		if l.allowed(name) && currentSet[strings.ToLower(name)] && !desiredSet[strings.ToLower(name)] {
			toRemove = append(toRemove, name)
		}
	}
	var toAdd []string
	for _, name := range desired {
		if !currentSet[strings.ToLower(name)] {
			toAdd = append(toAdd, name)
		}
	}

	if len(toRemove) > 0 {
		if err := fc.Forge.RemoveLabels(fc.Ctx, fc.PR.Owner, fc.PR.Repo, fc.PR.Number, toRemove); err != nil {
			return err
		}
	}
	if len(toAdd) > 0 {
		if err := fc.Forge.AddLabels(fc.Ctx, fc.PR.Owner, fc.PR.Repo, fc.PR.Number, toAdd); err != nil {
			return err
		}
	}

	_, err = fc.States.Update(fc.PR.Key(), func(st *model.PRState) {
		st.LabelsApplied = desired
	})
	if err != nil {
		return err
	}

	fc.Log.Info("Reconciled labels",
		zap.String("pr", fc.PR.Key()),
		zap.Strings("applied", toAdd),
		zap.Strings("removed", toRemove),
	)
	return nil
}

// desiredLabels derives the label set from the review, filtered by the
// allow-list.
func (l *Labels) desiredLabels(review *model.StructuredReview) []string {
	var candidates []string
	switch review.Verdict {
	case model.VerdictApprove:
		candidates = append(candidates, labelApproved)
	case model.VerdictRequestChanges:
		candidates = append(candidates, labelChangesWanted)
	default:
		candidates = append(candidates, labelCommented)
	}

	for _, f := range review.Findings {
		if f.SecurityRelated {
			candidates = append(candidates, labelSecurityReview)
			break
		}
	}

	var out []string
	for _, name := range candidates {
		if l.allowed(name) {
			out = append(out, name)
		}
	}
	return out
}

// allowed checks the configured allow-list. An empty list allows all
// managed labels.
func (l *Labels) allowed(name string) bool {
	if len(l.cfg.Allowed) == 0 {
		return true
	}
	for _, a := range l.cfg.Allowed {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
