package feature

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// descriptionMaxDiffChars bounds how much diff the description prompt
// carries. Large PRs are summarized from a prefix.
const descriptionMaxDiffChars = 30000

// Description generates a PR description when the author left the body
// empty or on a template placeholder.
type Description struct{}

// NewDescription builds the auto-description feature.
func NewDescription() *Description {
	return &Description{}
}

func (d *Description) Name() string {
	return "description"
}

func (d *Description) Phase() Phase {
	return PhasePreReview
}

// ShouldRun applies only to empty or placeholder bodies, and honors the
// per-request skip override.
func (d *Description) ShouldRun(fc *Context) bool {
	if fc.PR.Overrides != nil && fc.PR.Overrides.SkipDescription {
		return false
	}
	if fc.State != nil && fc.State.DescriptionGenerated {
		return false
	}
	return isPlaceholderBody(fc.PR.Body)
}

// isPlaceholderBody reports whether a PR body carries no real content.
func isPlaceholderBody(body string) bool {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, placeholder := range []string{"tbd", "todo", "wip", "n/a", "none", "..."} {
		if lower == placeholder {
			return true
		}
	}
	return false
}

// Execute asks the LLM for a short description and writes it back to
// the forge.
func (d *Description) Execute(fc *Context) error {
	if fc.LLM == nil || fc.Diff == "" {
		return nil
	}

	diff := fc.Diff
	if len(diff) > descriptionMaxDiffChars {
		diff = diff[:descriptionMaxDiffChars]
	}

	prompt := fmt.Sprintf(`Write a pull request description for the change below.

Title: %s
Branch: %s -> %s

Respond with plain markdown only: one short paragraph summarizing the
change, then a bullet list of the notable modifications. No headings,
no code fences, no preamble.

Diff:
%s`, fc.PR.Title, fc.PR.HeadBranch, fc.PR.BaseBranch, diff)

	env, err := fc.LLM.Review(fc.Ctx, &llm.Request{
		Prompt:   prompt,
		MaxTurns: 1,
	})
	if err != nil {
		return err
	}

	body := strings.TrimSpace(env.Result)
	if body == "" {
		return errors.New(errors.ErrCodeReviewParse, "description generation returned empty result")
	}

	if err := fc.Forge.UpdatePRBody(fc.Ctx, fc.PR.Owner, fc.PR.Repo, fc.PR.Number, body); err != nil {
		return err
	}

	_, err = fc.States.Update(fc.PR.Key(), func(st *model.PRState) {
		st.DescriptionGenerated = true
	})
	if err != nil {
		return err
	}

	fc.Log.Info("Generated PR description",
		zap.String("pr", fc.PR.Key()),
		zap.Int("length", len(body)),
	)
	return nil
}
