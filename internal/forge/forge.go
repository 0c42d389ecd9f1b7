// Package forge defines the interface for Git hosting providers.
// Different forges (GitHub, Gitea, GitLab) implement this interface and
// register themselves at init time; the server picks one by config.
package forge

import (
	"context"
	"net/http"
	"strings"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// ReviewEvent is the verdict attached to a posted review.
type ReviewEvent string

const (
	ReviewEventComment        ReviewEvent = "COMMENT"
	ReviewEventApprove        ReviewEvent = "APPROVE"
	ReviewEventRequestChanges ReviewEvent = "REQUEST_CHANGES"
)

// Review is a summary plus inline comments posted as one forge review.
type Review struct {
	Body     string
	CommitID string
	Event    ReviewEvent
	Comments []model.InlineComment
}

// ReviewStatus reports whether a previously posted review still stands.
type ReviewStatus struct {
	Exists    bool
	Dismissed bool
}

// Normalized PR event action names. Providers map their native action
// vocabulary onto these before classification.
const (
	ActionOpened           = "opened"
	ActionSynchronize      = "synchronize"
	ActionReopened         = "reopened"
	ActionReadyForReview   = "ready_for_review"
	ActionEdited           = "edited"
	ActionClosed           = "closed"
	ActionConvertedToDraft = "converted_to_draft"
)

// ClassifyPRAction maps a normalized PR action onto the event class the
// ingress dispatches on.
func ClassifyPRAction(action string) model.EventClass {
	switch strings.ToLower(action) {
	case ActionOpened, ActionSynchronize, ActionReopened, ActionReadyForReview:
		return model.EventClassReview
	case ActionEdited:
		return model.EventClassConditional
	case ActionClosed, ActionConvertedToDraft:
		return model.EventClassLifecycle
	default:
		return model.EventClassIgnored
	}
}

// Provider is the forge abstraction the rest of the system talks to.
// All operations inject the configured auth token; callers never see
// credentials.
type Provider interface {
	// Name returns the provider name (github, gitea, gitlab).
	Name() string

	// CloneURL returns the https clone URL for a repository, without
	// embedded credentials.
	CloneURL(owner, repo string) string

	// PRRef returns the provider's fetchable pseudo-ref for a PR head.
	// GitHub/Gitea: "refs/pull/{n}/head", GitLab: "refs/merge-requests/{n}/head".
	PRRef(number int) string

	// AuthToken returns the configured access token for git fetches.
	AuthToken() string

	// ListOpenPRs lists open pull requests for a repository.
	ListOpenPRs(ctx context.Context, owner, repo string) ([]*model.PullRequest, error)

	// GetPRDetails retrieves a single pull request.
	GetPRDetails(ctx context.Context, owner, repo string, number int) (*model.PullRequest, error)

	// GetPRState probes the lifecycle state of a pull request.
	GetPRState(ctx context.Context, owner, repo string, number int) (*model.PRStateInfo, error)

	// GetPRDiff fetches the unified diff text of a pull request.
	GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error)

	// GetPRBody returns the PR description.
	GetPRBody(ctx context.Context, owner, repo string, number int) (string, error)

	// UpdatePRBody replaces the PR description.
	UpdatePRBody(ctx context.Context, owner, repo string, number int, body string) error

	// GetPRLabels returns the label names currently on the PR.
	GetPRLabels(ctx context.Context, owner, repo string, number int) ([]string, error)

	// AddLabels adds labels to the PR, creating none.
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error

	// RemoveLabels removes labels from the PR. Absent labels are not errors.
	RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) error

	// FindExistingComment scans PR comments for one containing tag and
	// returns its id, or nil when none matches.
	FindExistingComment(ctx context.Context, owner, repo string, number int, tag string) (*int64, error)

	// PostComment posts a PR-level comment and returns its id.
	PostComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)

	// UpdateComment replaces the body of an existing comment.
	UpdateComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error

	// DeleteComment removes a comment by id.
	DeleteComment(ctx context.Context, owner, repo string, number int, commentID int64) error

	// CommentExists reports whether a comment id still resolves.
	CommentExists(ctx context.Context, owner, repo string, number int, commentID int64) (bool, error)

	// PostReview posts a review with inline comments and returns the
	// review id.
	PostReview(ctx context.Context, owner, repo string, number int, review *Review) (int64, error)

	// ReviewExists probes a posted review for existence and dismissal.
	ReviewExists(ctx context.Context, owner, repo string, number int, reviewID int64) (*ReviewStatus, error)

	// GetReviewThreads lists review discussion threads on the PR.
	GetReviewThreads(ctx context.Context, owner, repo string, number int) ([]model.ReviewThread, error)

	// ResolveReviewThread marks a review thread resolved. Providers that
	// cannot express resolution return an unsupported error.
	ResolveReviewThread(ctx context.Context, owner, repo string, number int, threadID string) error

	// ParseWebhook validates and parses an incoming webhook delivery
	// into the normalized event the ingress consumes.
	ParseWebhook(r *http.Request, secret string) (*model.WebhookEvent, error)

	// ValidateToken checks the configured token against the forge.
	ValidateToken(ctx context.Context) error
}

// Options holds configuration for creating a provider.
type Options struct {
	Token              string // access token
	BaseURL            string // base URL for self-hosted instances
	InsecureSkipVerify bool   // skip SSL certificate verification
}

// Factory creates a provider instance.
type Factory func(opts *Options) (Provider, error)

// Registry holds registered provider factories.
var Registry = make(map[string]Factory)

// Register registers a provider factory under a name.
func Register(name string, factory Factory) {
	Registry[name] = factory
}

// Create creates a provider by name.
func Create(name string, opts *Options) (Provider, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeForgeUnsupported, "forge type not registered: "+name)
	}
	return factory(opts)
}

// Unsupported builds the error providers return for operations their
// forge cannot express. Callers treat it as "feature absent".
func Unsupported(provider, op string) error {
	return errors.New(errors.ErrCodeForgeUnsupported, provider+" does not support "+op)
}

// IsUnsupported reports whether err marks an operation the forge cannot
// express.
func IsUnsupported(err error) bool {
	return errors.HasCode(err, errors.ErrCodeForgeUnsupported)
}
