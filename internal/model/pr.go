// Package model defines the data models for the application.
// PR lifecycle state is persisted as JSON in the state file; archive
// records use GORM for SQLite storage.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status represents the lifecycle status of a tracked pull request.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusReviewing     Status = "reviewing"
	StatusReviewed      Status = "reviewed"
	StatusChangesPushed Status = "changes_pushed"
	StatusSkipped       Status = "skipped"
	StatusError         Status = "error"
	StatusMerged        Status = "merged"
	StatusClosed        Status = "closed"
)

// IsTerminal reports whether the status is a terminal sink state.
// Terminal states are never left once entered.
func (s Status) IsTerminal() bool {
	return s == StatusMerged || s == StatusClosed
}

// Skip reasons recorded in PRState.SkipReason.
const (
	SkipReasonDraft        = "draft"
	SkipReasonWIPTitle     = "wip_title"
	SkipReasonDiffTooLarge = "diff_too_large"
)

// Review phases recorded in LastError.Phase.
const (
	PhaseInitialize   = "initialize"
	PhaseDiffFetch    = "diff_fetch"
	PhasePreFeatures  = "pre_features"
	PhaseClonePrepare = "clone_prepare"
	PhaseClaudeReview = "claude_review"
	PhaseCommentPost  = "comment_post"
	PhaseFinalize     = "finalize"
)

// LastError captures the most recent review failure for a PR.
type LastError struct {
	Phase      string    `json:"phase"`
	Kind       string    `json:"kind"` // transient or permanent
	Message    string    `json:"message"`
	Sha        string    `json:"sha"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReviewRecord is one completed review run in a PR's history.
// Posted is false under dry-run. The most recent record provides the
// previous-review context on re-review.
type ReviewRecord struct {
	Sha       string    `json:"sha"`
	ReviewedAt time.Time `json:"reviewed_at"`
	CommentID *int64    `json:"comment_id"`
	ReviewID  *int64    `json:"review_id"`
	Verdict   Verdict   `json:"verdict"`
	Posted    bool      `json:"posted"`
	Findings  []Finding `json:"findings,omitempty"`
}

// FeatureExecution records one feature run against a PR.
type FeatureExecution struct {
	Feature    string    `json:"feature"`
	Phase      string    `json:"phase"` // pre_review or post_review
	Status     string    `json:"status"` // completed, skipped, error
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// PRState is the durable per-PR lifecycle record. The state store owns
// all instances; other components receive snapshots.
type PRState struct {
	// Identity
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`

	Status Status `json:"status"`

	// PR metadata as last observed
	Title      string `json:"title"`
	HeadSha    string `json:"head_sha"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	IsDraft    bool   `json:"is_draft"`

	// Review history, newest last, truncated from the head when it
	// exceeds the configured history limit.
	Reviews []ReviewRecord `json:"reviews,omitempty"`

	LastReviewedSha string     `json:"last_reviewed_sha,omitempty"`
	LastReviewedAt  *time.Time `json:"last_reviewed_at,omitempty"`

	// Skip tracking
	SkipReason    string `json:"skip_reason,omitempty"`
	SkipDiffLines int    `json:"skip_diff_lines,omitempty"`
	SkippedAtSha  string `json:"skipped_at_sha,omitempty"`

	// Error tracking
	LastError         *LastError `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`

	// Artifact handles from the forge
	CommentID      *int64     `json:"comment_id,omitempty"`
	ReviewID       *int64     `json:"review_id,omitempty"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`

	// Feature state
	JiraKey              string             `json:"jira_key,omitempty"`
	JiraValidated        bool               `json:"jira_validated,omitempty"`
	DescriptionGenerated bool               `json:"description_generated,omitempty"`
	LabelsApplied        []string           `json:"labels_applied,omitempty"`
	FeatureExecutions    []FeatureExecution `json:"feature_executions,omitempty"`

	// Timestamps
	FirstSeenAt time.Time  `json:"first_seen_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	LastPushAt  *time.Time `json:"last_push_at,omitempty"`
}

// Key returns the canonical state key "owner/repo#number".
func (s *PRState) Key() string {
	return PRKey(s.Owner, s.Repo, s.Number)
}

// LastReview returns the most recent review record, or nil.
func (s *PRState) LastReview() *ReviewRecord {
	if len(s.Reviews) == 0 {
		return nil
	}
	return &s.Reviews[len(s.Reviews)-1]
}

// PRKey builds the canonical state key for a pull request.
func PRKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

// ParsePRKey splits a canonical key back into its parts.
func ParsePRKey(key string) (owner, repo string, number int, err error) {
	hash := strings.LastIndex(key, "#")
	if hash < 0 {
		return "", "", 0, fmt.Errorf("invalid PR key %q", key)
	}
	number, err = strconv.Atoi(key[hash+1:])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR key %q: %w", key, err)
	}
	slash := strings.Index(key[:hash], "/")
	if slash <= 0 || slash == hash-1 {
		return "", "", 0, fmt.Errorf("invalid PR key %q", key)
	}
	return key[:slash], key[slash+1 : hash], number, nil
}

// ReviewOverrides carries per-request parameter overrides parsed from a
// comment trigger.
type ReviewOverrides struct {
	MaxTurns        int      `json:"max_turns,omitempty"`
	SkipDescription bool     `json:"skip_description,omitempty"`
	SkipLabels      bool     `json:"skip_labels,omitempty"`
	FocusPaths      []string `json:"focus_paths,omitempty"`
}

// PullRequest is the normalized PR record both ingresses hand to the
// review coordinator.
type PullRequest struct {
	Owner      string
	Repo       string
	Number     int
	Title      string
	Body       string
	Author     string
	HeadSha    string
	HeadBranch string
	BaseBranch string
	IsDraft    bool

	// ForceReview bypasses debounce and same-SHA suppression. Set by
	// comment triggers.
	ForceReview bool
	Overrides   *ReviewOverrides
}

// Key returns the canonical state key for the pull request.
func (pr *PullRequest) Key() string {
	return PRKey(pr.Owner, pr.Repo, pr.Number)
}

// FullRepo returns "owner/repo".
func (pr *PullRequest) FullRepo() string {
	return pr.Owner + "/" + pr.Repo
}

// PRLifecycleState is the forge-reported state of a pull request.
type PRLifecycleState string

const (
	PRStateOpen   PRLifecycleState = "OPEN"
	PRStateClosed PRLifecycleState = "CLOSED"
	PRStateMerged PRLifecycleState = "MERGED"
)

// PRStateInfo is the result of a forge state probe.
type PRStateInfo struct {
	State    PRLifecycleState
	MergedAt *time.Time
}
