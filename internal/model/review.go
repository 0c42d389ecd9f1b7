package model

import (
	"fmt"
	"strings"
)

// Verdict is the overall recommendation of a review.
type Verdict string

const (
	VerdictApprove        Verdict = "APPROVE"
	VerdictRequestChanges Verdict = "REQUEST_CHANGES"
	VerdictComment        Verdict = "COMMENT"
	VerdictUnknown        Verdict = "unknown"
)

// NormalizeVerdict maps arbitrary LLM verdict spellings onto the known
// set, defaulting to unknown.
func NormalizeVerdict(s string) Verdict {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVE", "APPROVED":
		return VerdictApprove
	case "REQUEST_CHANGES", "REQUEST CHANGES", "CHANGES_REQUESTED":
		return VerdictRequestChanges
	case "COMMENT", "COMMENTED":
		return VerdictComment
	default:
		return VerdictUnknown
	}
}

// Severity classifies a single review finding.
type Severity string

const (
	SeverityIssue      Severity = "issue"
	SeveritySuggestion Severity = "suggestion"
	SeverityNitpick    Severity = "nitpick"
	SeverityQuestion   Severity = "question"
	SeverityPraise     Severity = "praise"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityIssue, SeveritySuggestion, SeverityNitpick, SeverityQuestion, SeverityPraise:
		return true
	}
	return false
}

// ResolutionState is the LLM's judgement of a previously-raised finding.
type ResolutionState string

const (
	ResolutionResolved ResolutionState = "resolved"
	ResolutionWontFix  ResolutionState = "wont_fix"
	ResolutionOpen     ResolutionState = "open"
)

// Finding is a single reviewer observation.
type Finding struct {
	Severity        Severity `json:"severity"`
	Blocking        bool     `json:"blocking"`
	Path            string   `json:"path"`
	Line            int      `json:"line"`
	Body            string   `json:"body"`
	Confidence      float64  `json:"confidence,omitempty"`
	SecurityRelated bool     `json:"security_related,omitempty"`
	IsNew           bool     `json:"is_new,omitempty"`
}

/// Location returns "path:line" for dedup keys and log lines.
func (f *Finding) Location() string {
	return fmt.Sprintf("%s:%d", f.Path, f.Line)
}

// Resolution reports the state of a finding from a prior review.
// Resolutions appear only on re-reviews.
type Resolution struct {
	Path       string          `json:"path"`
	Line       int             `json:"line"`
	Body       string          `json:"body,omitempty"`
	Resolution ResolutionState `json:"resolution"`
}

// Location returns "path:line".
func (r *Resolution) Location() string {
	return fmt.Sprintf("%s:%d", r.Path, r.Line)
}

// StructuredReview is the JSON-validated output of an LLM review run.
type StructuredReview struct {
	Verdict     Verdict      `json:"verdict"`
	Summary     string       `json:"summary"`
	PRSummary   string       `json:"pr_summary,omitempty"`
	Findings    []Finding    `json:"findings"`
	Resolutions []Resolution `json:"resolutions,omitempty"`
	Overall     string       `json:"overall,omitempty"`
}

// Validate checks the structural constraints on a parsed review.
// Findings with unknown severities or non-positive lines are rejected so
// the caller can fall back to freeform posting.
func (r *StructuredReview) Validate() error {
	if r.Verdict == "" {
		return fmt.Errorf("review verdict is empty")
	}
	for i := range r.Findings {
		f := &r.Findings[i]
		if !ValidSeverity(f.Severity) {
			return fmt.Errorf("finding %d: unknown severity %q", i, f.Severity)
		}
		if f.Path == "" {
			return fmt.Errorf("finding %d: empty path", i)
		}
		if f.Line < 1 {
			return fmt.Errorf("finding %d: line %d < 1", i, f.Line)
		}
		if f.Body == "" {
			return fmt.Errorf("finding %d: empty body", i)
		}
	}
	for i := range r.Resolutions {
		switch r.Resolutions[i].Resolution {
		case ResolutionResolved, ResolutionWontFix, ResolutionOpen:
		default:
			return fmt.Errorf("resolution %d: unknown state %q", i, r.Resolutions[i].Resolution)
		}
	}
	return nil
}

// BlockingOpen reports whether any previous blocking finding at some
// path:line remains unresolved given the current review's resolutions.
// A finding is unresolved when no resolution matches its location or
// the matching resolution is "open".
func BlockingOpen(previous []Finding, resolutions []Resolution) bool {
	resolved := make(map[string]ResolutionState, len(resolutions))
	for i := range resolutions {
		resolved[resolutions[i].Location()] = resolutions[i].Resolution
	}
	for i := range previous {
		f := &previous[i]
		if !f.Blocking {
			continue
		}
		state, ok := resolved[f.Location()]
		if !ok || state == ResolutionOpen {
			return true
		}
	}
	return false
}

// InlineComment is a review comment anchored to a diff line.
type InlineComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// ReviewThread is a forge review discussion thread.
type ReviewThread struct {
	ID         string
	Path       string
	Line       int
	Body       string
	IsResolved bool
}

// ReviewUsage carries token and cost accounting from an LLM run.
type ReviewUsage struct {
	InputTokens              int64   `json:"input_tokens"`
	OutputTokens             int64   `json:"output_tokens"`
	CacheCreationInputTokens int64   `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64   `json:"cache_read_input_tokens"`
	CostUSD                  float64 `json:"cost_usd"`
	Model                    string  `json:"model"`
	NumTurns                 int     `json:"num_turns"`
	DurationMS               int64   `json:"duration_ms"`
	DurationAPIMS            int64   `json:"duration_api_ms"`
}
