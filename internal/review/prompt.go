package review

import (
	"fmt"
	"strings"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/model"
)

// reviewSchema constrains the LLM output. The parser tolerates prose
// around the JSON, but the schema keeps the happy path structured.
const reviewSchema = `{
  "verdict": "APPROVE | REQUEST_CHANGES | COMMENT",
  "summary": "one-paragraph review summary",
  "pr_summary": "optional TL;DR of what the PR does",
  "findings": [
    {
      "severity": "issue | suggestion | nitpick | question | praise",
      "blocking": true,
      "path": "relative/file/path",
      "line": 1,
      "body": "the finding text",
      "confidence": 0.9,
      "security_related": false
    }
  ],
  "resolutions": [
    {
      "path": "relative/file/path",
      "line": 1,
      "body": "the original finding text",
      "resolution": "resolved | wont_fix | open"
    }
  ],
  "overall": "optional closing remark"
}`

// promptInput carries everything the prompt builder needs for one run.
type promptInput struct {
	PR            *model.PullRequest
	State         *model.PRState
	Diff          string
	SecurityPaths []string
	FocusPaths    []string
	Language      *config.LanguageConfig
	CodebaseDir   string
}

// buildPrompt renders the review prompt. Re-reviews carry the previous
// verdict and the deduplicated history of all prior findings so the LLM
// can emit resolutions instead of repeating itself.
func buildPrompt(in *promptInput) string {
	var sb strings.Builder

	sb.WriteString("You are a senior code reviewer. Review the pull request below.\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", in.PR.Title)
	fmt.Fprintf(&sb, "Branch: %s -> %s\n", in.PR.HeadBranch, in.PR.BaseBranch)
	if body := strings.TrimSpace(in.PR.Body); body != "" {
		fmt.Fprintf(&sb, "Description:\n%s\n", body)
	}
	sb.WriteString("\n")

	if in.CodebaseDir != "" {
		fmt.Fprintf(&sb, "The full codebase is checked out at %s for context. Read files as needed, but review only the diff.\n\n", in.CodebaseDir)
	}

	if prev := previousReviewContext(in.State); prev != "" {
		sb.WriteString(prev)
	}

	if len(in.FocusPaths) > 0 {
		fmt.Fprintf(&sb, "Focus your review on these paths: %s\n\n", strings.Join(in.FocusPaths, ", "))
	}
	if len(in.SecurityPaths) > 0 {
		fmt.Fprintf(&sb, "These changed files are security-sensitive; scrutinize them for injection, authentication, authorization, and secret-handling problems: %s\n\n", strings.Join(in.SecurityPaths, ", "))
	}

	sb.WriteString("Rules:\n")
	sb.WriteString("- Report real problems; do not pad the review with filler findings.\n")
	sb.WriteString("- severity \"issue\" with blocking=true is reserved for bugs, data loss, and security problems.\n")
	sb.WriteString("- line numbers refer to the new side of the diff.\n")
	sb.WriteString("- Verdict APPROVE only when nothing blocking remains.\n")
	if in.Language != nil {
		fmt.Fprintf(&sb, "- Write all review text in %s.\n", in.Language.PromptInstruction())
	}
	sb.WriteString("\nRespond with exactly one JSON object matching this schema, and nothing else:\n")
	sb.WriteString(reviewSchema)
	sb.WriteString("\n\nDiff:\n```diff\n")
	sb.WriteString(in.Diff)
	if !strings.HasSuffix(in.Diff, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")

	return sb.String()
}

// previousReviewContext renders the re-review section: previous verdict
// and sha plus the deduplicated union of all prior findings.
func previousReviewContext(st *model.PRState) string {
	if st == nil || len(st.Reviews) == 0 {
		return ""
	}
	last := st.Reviews[len(st.Reviews)-1]

	var sb strings.Builder
	fmt.Fprintf(&sb, "This is a re-review. Your previous review at commit %s gave verdict %s.\n", shortSha(last.Sha), last.Verdict)

	findings := priorFindings(st)
	if len(findings) > 0 {
		sb.WriteString("Previously reported findings (check each against the current code and emit a resolution for it):\n")
		for _, f := range findings {
			marker := ""
			if f.Blocking {
				marker = " [blocking]"
			}
			fmt.Fprintf(&sb, "- %s:%d (%s%s): %s\n", f.Path, f.Line, f.Severity, marker, f.Body)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// priorFindings returns the union of findings across the retained
// review history, deduplicated by path:line:body, newest wins.
func priorFindings(st *model.PRState) []model.Finding {
	seen := make(map[string]bool)
	var out []model.Finding
	for i := len(st.Reviews) - 1; i >= 0; i-- {
		for _, f := range st.Reviews[i].Findings {
			dedup := fmt.Sprintf("%s:%d:%s", f.Path, f.Line, f.Body)
			if seen[dedup] {
				continue
			}
			seen[dedup] = true
			out = append(out, f)
		}
	}
	return out
}

// shortSha abbreviates a commit sha for display.
func shortSha(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
