package review

import (
	"fmt"
	"strings"

	"github.com/prpatrol/prpatrol/internal/diff"
	"github.com/prpatrol/prpatrol/internal/model"
)

// severityOrder fixes the grouping order in the review body.
var severityOrder = []model.Severity{
	model.SeverityIssue,
	model.SeveritySuggestion,
	model.SeverityNitpick,
	model.SeverityQuestion,
	model.SeverityPraise,
}

var severityHeadings = map[model.Severity]string{
	model.SeverityIssue:      "Issues",
	model.SeveritySuggestion: "Suggestions",
	model.SeverityNitpick:    "Nitpicks",
	model.SeverityQuestion:   "Questions",
	model.SeverityPraise:     "Praise",
}

// snapFindings places findings as inline comments at the nearest
// commentable diff line. Findings that cannot be placed, and praise
// findings which are never inline, come back as orphans.
func snapFindings(findings []model.Finding, lines diff.CommentableLines) (inline []model.InlineComment, orphans []model.Finding) {
	for _, f := range findings {
		if f.Severity == model.SeverityPraise {
			orphans = append(orphans, f)
			continue
		}
		line, ok := lines.Nearest(f.Path, f.Line, diff.DefaultMaxSnapDistance)
		if !ok {
			orphans = append(orphans, f)
			continue
		}
		inline = append(inline, model.InlineComment{
			Path: f.Path,
			Line: line,
			Body: inlineBody(&f),
		})
	}
	return inline, orphans
}

// inlineBody renders one finding as an inline comment.
func inlineBody(f *model.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**", f.Severity)
	if f.Blocking {
		sb.WriteString(" (blocking)")
	}
	sb.WriteString(": ")
	sb.WriteString(f.Body)
	return sb.String()
}

// escalateVerdict forces REQUEST_CHANGES while any previously reported
// blocking finding remains unresolved.
func escalateVerdict(review *model.StructuredReview, st *model.PRState) model.Verdict {
	verdict := review.Verdict
	if verdict == model.VerdictRequestChanges {
		return verdict
	}
	if st != nil && model.BlockingOpen(priorFindings(st), review.Resolutions) {
		return model.VerdictRequestChanges
	}
	return verdict
}

// composeReviewBody renders the review summary body: overall summary,
// per-severity grouped findings, orphan section, resolutions, optional
// PR summary, and a footer carrying the comment tag and reviewed sha.
func composeReviewBody(review *model.StructuredReview, verdict model.Verdict, orphans []model.Finding, headSha, commentTag string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Code review: %s\n\n", verdict)
	if review.Summary != "" {
		sb.WriteString(review.Summary)
		sb.WriteString("\n\n")
	}
	if verdict == model.VerdictRequestChanges && review.Verdict != model.VerdictRequestChanges {
		sb.WriteString("> Verdict escalated: a previously reported blocking finding is still open.\n\n")
	}

	if len(review.Findings) > 0 {
		bySeverity := make(map[model.Severity][]model.Finding)
		for _, f := range review.Findings {
			bySeverity[f.Severity] = append(bySeverity[f.Severity], f)
		}
		for _, sev := range severityOrder {
			group := bySeverity[sev]
			if len(group) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "### %s\n\n", severityHeadings[sev])
			for _, f := range group {
				marker := ""
				if f.Blocking {
					marker = " **[blocking]**"
				}
				fmt.Fprintf(&sb, "- `%s:%d`%s %s\n", f.Path, f.Line, marker, f.Body)
			}
			sb.WriteString("\n")
		}
	}

	if len(orphans) > 0 {
		sb.WriteString("### Outside the diff\n\n")
		sb.WriteString("These findings reference lines that are not commentable in the current diff:\n\n")
		for _, f := range orphans {
			fmt.Fprintf(&sb, "- `%s:%d` (%s) %s\n", f.Path, f.Line, f.Severity, f.Body)
		}
		sb.WriteString("\n")
	}

	if len(review.Resolutions) > 0 {
		sb.WriteString("### Previous findings\n\n")
		for _, r := range review.Resolutions {
			fmt.Fprintf(&sb, "- `%s:%d` — %s: %s\n", r.Path, r.Line, r.Resolution, r.Body)
		}
		sb.WriteString("\n")
	}

	if review.PRSummary != "" {
		sb.WriteString("### TL;DR\n\n")
		sb.WriteString(review.PRSummary)
		sb.WriteString("\n\n")
	}
	if review.Overall != "" {
		sb.WriteString(review.Overall)
		sb.WriteString("\n\n")
	}

	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "%s\nReviewed commit `%s`.\n", commentTag, shortSha(headSha))
	return sb.String()
}

// composeFallbackBody wraps freeform LLM output into the tagged issue
// comment used when structured extraction fails.
func composeFallbackBody(text, headSha, commentTag string) string {
	var sb strings.Builder
	sb.WriteString("## Code review\n\n")
	sb.WriteString(strings.TrimSpace(text))
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "%s\nReviewed commit `%s`.\n", commentTag, shortSha(headSha))
	return sb.String()
}

// threadsToResolve matches forge review threads against the review's
// "resolved" resolutions. A thread matches when it sits at the same
// path:line and its body contains any previously recorded finding body
// at that location; the containment check accommodates the LLM
// rephrasing the same issue across iterations.
func threadsToResolve(review *model.StructuredReview, st *model.PRState, threads []model.ReviewThread) []string {
	byLocation := make(map[string][]string)
	for _, f := range priorFindings(st) {
		loc := f.Location()
		byLocation[loc] = append(byLocation[loc], f.Body)
	}

	var ids []string
	for _, r := range review.Resolutions {
		if r.Resolution != model.ResolutionResolved {
			continue
		}
		for _, th := range threads {
			if th.IsResolved || th.Path != r.Path || th.Line != r.Line {
				continue
			}
			if threadMatches(th.Body, byLocation[r.Location()], r.Body) {
				ids = append(ids, th.ID)
			}
		}
	}
	return ids
}

// threadMatches checks the thread body against the candidate finding
// bodies (and the resolution's own body text) by containment either way.
func threadMatches(threadBody string, candidates []string, resolutionBody string) bool {
	for _, body := range append(candidates, resolutionBody) {
		if body == "" {
			continue
		}
		if strings.Contains(threadBody, body) || strings.Contains(body, threadBody) {
			return true
		}
	}
	return false
}
