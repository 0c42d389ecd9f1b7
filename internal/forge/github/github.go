// Package github implements the forge provider interface for GitHub.
// It covers both github.com and GitHub Enterprise instances.
package github

import (
	"context"
	"crypto/tls"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

const (
	// API pagination configuration
	defaultPerPage = 100

	// Default GitHub URL for public GitHub
	defaultGitHubURL = "https://github.com"
)

func init() {
	forge.Register("github", NewProvider)
}

// Provider implements the forge.Provider interface for GitHub.
type Provider struct {
	client  *github.Client
	graphql *graphQLClient
	token   string
	baseURL string
}

// NewProvider creates a new GitHub provider instance.
func NewProvider(opts *forge.Options) (forge.Provider, error) {
	ctx := context.Background()

	token := opts.Token
	baseURL := opts.BaseURL

	var httpClient *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
		if opts.InsecureSkipVerify {
			transport := httpClient.Transport.(*oauth2.Transport)
			if transport.Base == nil {
				transport.Base = &http.Transport{}
			}
			if t, ok := transport.Base.(*http.Transport); ok {
				if t.TLSClientConfig == nil {
					t.TLSClientConfig = &tls.Config{}
				}
				t.TLSClientConfig.InsecureSkipVerify = true
			}
		}
	} else {
		transport := &http.Transport{}
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{
				InsecureSkipVerify: true,
			}
		}
		httpClient = &http.Client{Transport: transport}
	}

	var client *github.Client
	var err error

	if baseURL != "" && baseURL != defaultGitHubURL {
		// GitHub Enterprise
		client, err = github.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeForgeAuth, "failed to create enterprise client", err)
		}
	} else {
		client = github.NewClient(httpClient)
	}

	logger.Info("GitHub provider initialized",
		zap.String("base_url", baseURL),
		zap.Bool("authenticated", token != ""),
	)

	return &Provider{
		client:  client,
		graphql: newGraphQLClient(httpClient, baseURL),
		token:   token,
		baseURL: baseURL,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "github"
}

// hostname returns the web host for clone URLs.
func (p *Provider) hostname() string {
	if p.baseURL == "" || p.baseURL == defaultGitHubURL {
		return "github.com"
	}
	host := strings.TrimPrefix(p.baseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

// CloneURL returns the https clone URL without embedded credentials.
func (p *Provider) CloneURL(owner, repo string) string {
	return fmt.Sprintf("https://%s/%s/%s.git", p.hostname(), owner, repo)
}

// PRRef returns the fetchable pseudo-ref for a PR head.
func (p *Provider) PRRef(number int) string {
	return fmt.Sprintf("refs/pull/%d/head", number)
}

// AuthToken returns the configured access token.
func (p *Provider) AuthToken() string {
	return p.token
}

// convertPR maps a go-github pull request onto the normalized record.
func convertPR(owner, repo string, pr *github.PullRequest) *model.PullRequest {
	return &model.PullRequest{
		Owner:      owner,
		Repo:       repo,
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		Author:     pr.GetUser().GetLogin(),
		HeadSha:    pr.GetHead().GetSHA(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		IsDraft:    pr.GetDraft(),
	}
}

// ListOpenPRs lists open pull requests for a repository.
func (p *Provider) ListOpenPRs(ctx context.Context, owner, repo string) ([]*model.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: defaultPerPage},
	}

	var result []*model.PullRequest
	for {
		prs, resp, err := p.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, wrapErr("failed to list pull requests", err)
		}
		for _, pr := range prs {
			result = append(result, convertPR(owner, repo, pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// GetPRDetails retrieves a single pull request.
func (p *Provider) GetPRDetails(ctx context.Context, owner, repo string, number int) (*model.PullRequest, error) {
	pr, _, err := p.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapErr("failed to get pull request", err)
	}
	return convertPR(owner, repo, pr), nil
}

// GetPRState probes the lifecycle state of a pull request.
func (p *Provider) GetPRState(ctx context.Context, owner, repo string, number int) (*model.PRStateInfo, error) {
	pr, _, err := p.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapErr("failed to get pull request state", err)
	}

	info := &model.PRStateInfo{State: model.PRStateOpen}
	if pr.GetState() == "closed" {
		info.State = model.PRStateClosed
		if pr.GetMerged() {
			info.State = model.PRStateMerged
			if ts := pr.GetMergedAt().Time; !ts.IsZero() {
				info.MergedAt = &ts
			}
		}
	}
	return info, nil
}

// GetPRDiff fetches the unified diff text of a pull request.
func (p *Provider) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := p.client.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", wrapErr("failed to fetch pull request diff", err)
	}
	return diff, nil
}

// GetPRBody returns the PR description.
func (p *Provider) GetPRBody(ctx context.Context, owner, repo string, number int) (string, error) {
	pr, _, err := p.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", wrapErr("failed to get pull request body", err)
	}
	return pr.GetBody(), nil
}

// UpdatePRBody replaces the PR description.
func (p *Provider) UpdatePRBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := p.client.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Body: github.String(body),
	})
	if err != nil {
		return wrapErr("failed to update pull request body", err)
	}
	return nil
}

// GetPRLabels returns the label names currently on the PR.
func (p *Provider) GetPRLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	opts := &github.ListOptions{PerPage: defaultPerPage}

	var names []string
	for {
		labels, resp, err := p.client.Issues.ListLabelsByIssue(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, wrapErr("failed to list labels", err)
		}
		for _, l := range labels {
			names = append(names, l.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// AddLabels adds labels to the PR.
func (p *Provider) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	_, _, err := p.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return wrapErr("failed to add labels", err)
	}
	return nil
}

// RemoveLabels removes labels from the PR. Labels already absent are
// not errors.
func (p *Provider) RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	for _, label := range labels {
		_, err := p.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
		if err != nil && !isNotFound(err) {
			return wrapErr("failed to remove label "+label, err)
		}
	}
	return nil
}

// FindExistingComment scans PR comments for one containing tag.
func (p *Provider) FindExistingComment(ctx context.Context, owner, repo string, number int, tag string) (*int64, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: defaultPerPage},
	}

	for {
		comments, resp, err := p.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, wrapErr("failed to list comments", err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), tag) {
				id := c.GetID()
				return &id, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return nil, nil
}

// PostComment posts a PR-level comment and returns its id.
func (p *Provider) PostComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	comment, _, err := p.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return 0, wrapErr("failed to post comment", err)
	}
	return comment.GetID(), nil
}

// UpdateComment replaces the body of an existing comment.
func (p *Provider) UpdateComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	_, _, err := p.client.Issues.EditComment(ctx, owner, repo, commentID, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return wrapErr("failed to update comment", err)
	}
	return nil
}

// DeleteComment removes a comment by id.
func (p *Provider) DeleteComment(ctx context.Context, owner, repo string, number int, commentID int64) error {
	_, err := p.client.Issues.DeleteComment(ctx, owner, repo, commentID)
	if err != nil {
		return wrapErr("failed to delete comment", err)
	}
	return nil
}

// CommentExists reports whether a comment id still resolves.
func (p *Provider) CommentExists(ctx context.Context, owner, repo string, number int, commentID int64) (bool, error) {
	_, _, err := p.client.Issues.GetComment(ctx, owner, repo, commentID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, wrapErr("failed to get comment", err)
	}
	return true, nil
}

// PostReview posts a review with inline comments and returns its id.
func (p *Provider) PostReview(ctx context.Context, owner, repo string, number int, review *forge.Review) (int64, error) {
	comments := make([]*github.DraftReviewComment, 0, len(review.Comments))
	for _, c := range review.Comments {
		comments = append(comments, &github.DraftReviewComment{
			Path: github.String(c.Path),
			Line: github.Int(c.Line),
			Side: github.String("RIGHT"),
			Body: github.String(c.Body),
		})
	}

	req := &github.PullRequestReviewRequest{
		CommitID: github.String(review.CommitID),
		Body:     github.String(review.Body),
		Event:    github.String(string(review.Event)),
		Comments: comments,
	}

	posted, _, err := p.client.PullRequests.CreateReview(ctx, owner, repo, number, req)
	if err != nil {
		return 0, wrapErr("failed to post review", err)
	}

	logger.Info("Posted review",
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("pr", number),
		zap.Int64("review_id", posted.GetID()),
		zap.Int("inline_comments", len(comments)),
	)
	return posted.GetID(), nil
}

// ReviewExists probes a posted review for existence and dismissal.
func (p *Provider) ReviewExists(ctx context.Context, owner, repo string, number int, reviewID int64) (*forge.ReviewStatus, error) {
	review, _, err := p.client.PullRequests.GetReview(ctx, owner, repo, number, reviewID)
	if err != nil {
		if isNotFound(err) {
			return &forge.ReviewStatus{Exists: false}, nil
		}
		return nil, wrapErr("failed to get review", err)
	}
	return &forge.ReviewStatus{
		Exists:    true,
		Dismissed: review.GetState() == "DISMISSED",
	}, nil
}

// GetReviewThreads lists review discussion threads on the PR.
func (p *Provider) GetReviewThreads(ctx context.Context, owner, repo string, number int) ([]model.ReviewThread, error) {
	return p.graphql.listReviewThreads(ctx, owner, repo, number)
}

// ResolveReviewThread marks a review thread resolved.
func (p *Provider) ResolveReviewThread(ctx context.Context, owner, repo string, number int, threadID string) error {
	return p.graphql.resolveReviewThread(ctx, threadID)
}

// ValidateToken validates the GitHub token.
func (p *Provider) ValidateToken(ctx context.Context) error {
	_, _, err := p.client.Users.Get(ctx, "")
	if err != nil {
		return errors.Wrap(errors.ErrCodeForgeAuth, "invalid token", err)
	}
	return nil
}

// ParseWebhook validates and parses an incoming webhook delivery.
func (p *Provider) ParseWebhook(r *http.Request, secret string) (*model.WebhookEvent, error) {
	var body []byte
	var err error

	// ValidatePayload reads the body and checks the X-Hub-Signature-256
	// header with a constant-time comparison.
	if secret != "" {
		body, err = github.ValidatePayload(r, []byte(secret))
		if err != nil {
			logger.Warn("Failed to validate webhook payload", zap.Error(err))
			return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "invalid webhook signature", err)
		}
	} else {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to read webhook body", err)
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")

	switch eventType {
	case "pull_request":
		return p.parsePullRequestEvent(body)
	case "issue_comment":
		return p.parseIssueCommentEvent(body)
	default:
		// Deliberate drop: ping, push and anything else we did not
		// subscribe to review semantics for.
		return &model.WebhookEvent{Class: model.EventClassIgnored, Action: eventType}, nil
	}
}

// parsePullRequestEvent normalizes a pull_request delivery.
func (p *Provider) parsePullRequestEvent(body []byte) (*model.WebhookEvent, error) {
	var payload github.PullRequestEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to parse pull_request event", err)
	}

	owner := payload.GetRepo().GetOwner().GetLogin()
	repo := payload.GetRepo().GetName()
	if owner == "" || repo == "" {
		// Some deliveries only carry full_name.
		parts := strings.SplitN(payload.GetRepo().GetFullName(), "/", 2)
		if len(parts) == 2 {
			owner, repo = parts[0], parts[1]
		}
	}

	pr := payload.GetPullRequest()
	action := strings.ToLower(payload.GetAction())
	class := forge.ClassifyPRAction(action)

	event := &model.WebhookEvent{
		Class:  class,
		Action: action,
		Owner:  owner,
		Repo:   repo,
	}
	if class == model.EventClassIgnored {
		return event, nil
	}

	if pr == nil || owner == "" || repo == "" || pr.GetNumber() == 0 ||
		pr.GetHead().GetSHA() == "" || pr.GetHead().GetRef() == "" || pr.GetBase().GetRef() == "" {
		return nil, errors.New(errors.ErrCodeForgeWebhook, "malformed pull_request payload: missing nested fields")
	}

	event.PR = convertPR(owner, repo, pr)

	switch action {
	case forge.ActionClosed:
		event.Merged = pr.GetMerged()
	case forge.ActionEdited:
		event.TitleChanged = payload.GetChanges().GetTitle() != nil
	}

	logger.Debug("Parsed GitHub pull_request webhook",
		zap.String("action", action),
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("pr_number", event.PR.Number),
	)
	return event, nil
}

// parseIssueCommentEvent normalizes an issue_comment delivery. Only
// created comments on pull requests are interesting.
func (p *Provider) parseIssueCommentEvent(body []byte) (*model.WebhookEvent, error) {
	var payload github.IssueCommentEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to parse issue_comment event", err)
	}

	action := strings.ToLower(payload.GetAction())
	owner := payload.GetRepo().GetOwner().GetLogin()
	repo := payload.GetRepo().GetName()
	issue := payload.GetIssue()

	if action != "created" || !issue.IsPullRequest() {
		return &model.WebhookEvent{Class: model.EventClassIgnored, Action: action, Owner: owner, Repo: repo}, nil
	}
	if owner == "" || repo == "" || issue.GetNumber() == 0 {
		return nil, errors.New(errors.ErrCodeForgeWebhook, "malformed issue_comment payload: missing nested fields")
	}

	// The comment payload carries no head SHA; the ingress fetches full
	// PR details before submitting.
	return &model.WebhookEvent{
		Class:  model.EventClassComment,
		Action: action,
		Owner:  owner,
		Repo:   repo,
		PR: &model.PullRequest{
			Owner:  owner,
			Repo:   repo,
			Number: issue.GetNumber(),
			Title:  issue.GetTitle(),
		},
		CommentBody:      payload.GetComment().GetBody(),
		CommentAuthorBot: payload.GetComment().GetUser().GetType() == "Bot",
	}, nil
}

// isNotFound reports whether err is a GitHub 404.
func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if goerrors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// wrapErr maps a go-github error onto an application error code. Rate
// limits and 4xx responses classify as permanent; everything else stays
// transient.
func wrapErr(message string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if goerrors.As(err, &rateErr) || goerrors.As(err, &abuseErr) {
		return errors.Wrap(errors.ErrCodeForgeRateLimit, message, err)
	}

	var ghErr *github.ErrorResponse
	if goerrors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrap(errors.ErrCodeForgeAuth, message, err)
		case http.StatusNotFound:
			return errors.Wrap(errors.ErrCodeForgeNotFound, message, err)
		case http.StatusUnprocessableEntity:
			return errors.Wrap(errors.ErrCodeForgeUnprocessable, message, err)
		}
	}

	return errors.Wrap(errors.ErrCodeForgeUnavailable, message, err)
}
