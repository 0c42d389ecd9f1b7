package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/model"
)

func TestBuildPromptFirstReview(t *testing.T) {
	prompt := buildPrompt(&promptInput{
		PR: &model.PullRequest{
			Title:      "Add health endpoint",
			Body:       "Exposes /health for the load balancer.",
			HeadBranch: "feature/health",
			BaseBranch: "main",
		},
		State: &model.PRState{},
		Diff:  sampleDiff,
	})

	assert.Contains(t, prompt, "Title: Add health endpoint")
	assert.Contains(t, prompt, "Branch: feature/health -> main")
	assert.Contains(t, prompt, "Exposes /health")
	assert.Contains(t, prompt, "```diff")
	assert.Contains(t, prompt, `"verdict"`)
	assert.NotContains(t, prompt, "re-review")
	assert.NotContains(t, prompt, "checked out at")
}

func TestBuildPromptReReview(t *testing.T) {
	st := &model.PRState{
		Reviews: []model.ReviewRecord{{
			Sha:     "abc1234deadbeef",
			Verdict: model.VerdictRequestChanges,
			Findings: []model.Finding{
				{Severity: model.SeverityIssue, Blocking: true, Path: "a.go", Line: 3, Body: "unchecked error"},
			},
		}},
	}
	prompt := buildPrompt(&promptInput{
		PR:    &model.PullRequest{Title: "t", HeadBranch: "h", BaseBranch: "m"},
		State: st,
		Diff:  sampleDiff,
	})

	assert.Contains(t, prompt, "This is a re-review")
	assert.Contains(t, prompt, "abc1234d")
	assert.Contains(t, prompt, "REQUEST_CHANGES")
	assert.Contains(t, prompt, "a.go:3 (issue [blocking]): unchecked error")
}

func TestBuildPromptOptionalSections(t *testing.T) {
	prompt := buildPrompt(&promptInput{
		PR:            &model.PullRequest{Title: "t", HeadBranch: "h", BaseBranch: "m"},
		State:         &model.PRState{},
		Diff:          sampleDiff,
		SecurityPaths: []string{"internal/auth/token.go"},
		FocusPaths:    []string{"internal/server.go"},
		Language:      config.ParseLanguage("zh-cn"),
		CodebaseDir:   "/tmp/worktrees/acme/widgets/7",
	})

	assert.Contains(t, prompt, "Focus your review on these paths: internal/server.go")
	assert.Contains(t, prompt, "security-sensitive")
	assert.Contains(t, prompt, "internal/auth/token.go")
	assert.Contains(t, prompt, "checked out at /tmp/worktrees/acme/widgets/7")
	assert.Contains(t, prompt, "Write all review text in")
}

func TestPriorFindingsDedup(t *testing.T) {
	st := &model.PRState{
		Reviews: []model.ReviewRecord{
			{Findings: []model.Finding{
				{Path: "a.go", Line: 3, Body: "dup", Blocking: true},
				{Path: "b.go", Line: 9, Body: "old only"},
			}},
			{Findings: []model.Finding{
				{Path: "a.go", Line: 3, Body: "dup", Blocking: true},
				{Path: "c.go", Line: 1, Body: "new only"},
			}},
		},
	}

	findings := priorFindings(st)
	assert.Len(t, findings, 3)

	var locations []string
	for i := range findings {
		locations = append(locations, findings[i].Location())
	}
	// Newest review wins the dedup; older-only findings still survive.
	assert.Equal(t, []string{"a.go:3", "c.go:1", "b.go:9"}, locations)
}

func TestShortSha(t *testing.T) {
	assert.Equal(t, "abc1234d", shortSha("abc1234deadbeef"))
	assert.Equal(t, "abc", shortSha("abc"))
	assert.Equal(t, "", shortSha(""))
}

func TestBuildPromptDiffTrailingNewline(t *testing.T) {
	prompt := buildPrompt(&promptInput{
		PR:    &model.PullRequest{Title: "t", HeadBranch: "h", BaseBranch: "m"},
		State: &model.PRState{},
		Diff:  strings.TrimRight(sampleDiff, "\n"),
	})
	assert.True(t, strings.HasSuffix(prompt, "```\n"))
	assert.NotContains(t, prompt, "}```")
}
