// Package gitea implements the forge provider interface for Gitea.
// It supports both gitea.com and self-hosted instances through the
// official Gitea Go SDK.
package gitea

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"code.gitea.io/sdk/gitea"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// Gitea API pagination configuration
const defaultPerPage = 100

// Default Gitea cloud URL
const defaultGiteaURL = "https://gitea.com"

func init() {
	forge.Register("gitea", NewProvider)
}

// Provider implements the forge.Provider interface for Gitea.
type Provider struct {
	client  *gitea.Client
	token   string
	baseURL string
}

// NewProvider creates a new Gitea provider instance.
func NewProvider(opts *forge.Options) (forge.Provider, error) {
	token := opts.Token
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultGiteaURL
	}

	clientOpts := []gitea.ClientOption{
		gitea.SetToken(token),
	}
	if opts.InsecureSkipVerify {
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // User explicitly enabled insecure mode
				},
			},
		}
		clientOpts = append(clientOpts, gitea.SetHTTPClient(httpClient))
		logger.Warn("Gitea client configured with InsecureSkipVerify=true, SSL certificate verification is disabled")
	}

	client, err := gitea.NewClient(baseURL, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeAuth, "failed to create gitea client", err)
	}

	logger.Info("Gitea provider initialized",
		zap.String("base_url", baseURL),
		zap.Bool("insecure_skip_verify", opts.InsecureSkipVerify),
	)

	return &Provider{
		client:  client,
		token:   token,
		baseURL: baseURL,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "gitea"
}

// hostname extracts protocol and host from the configured base URL.
func (p *Provider) hostname() (protocol, host string) {
	protocol = "https"
	host = "gitea.com"

	baseURL := p.baseURL
	if strings.HasPrefix(baseURL, "https://") {
		host = strings.TrimSuffix(strings.TrimPrefix(baseURL, "https://"), "/")
	} else if strings.HasPrefix(baseURL, "http://") {
		protocol = "http"
		host = strings.TrimSuffix(strings.TrimPrefix(baseURL, "http://"), "/")
	}
	if idx := strings.Index(host, "/"); idx > 0 {
		host = host[:idx]
	}
	return protocol, host
}

// CloneURL returns the https clone URL without embedded credentials.
func (p *Provider) CloneURL(owner, repo string) string {
	protocol, host := p.hostname()
	return fmt.Sprintf("%s://%s/%s/%s.git", protocol, host, owner, repo)
}

// PRRef returns the fetchable pseudo-ref for a PR head.
func (p *Provider) PRRef(number int) string {
	return fmt.Sprintf("refs/pull/%d/head", number)
}

// AuthToken returns the configured access token.
func (p *Provider) AuthToken() string {
	return p.token
}

// isDraftTitle applies Gitea's work-in-progress title convention. The
// API exposes no draft flag; Gitea itself keys off these prefixes.
func isDraftTitle(title string) bool {
	lower := strings.ToLower(title)
	return strings.HasPrefix(lower, "wip:") || strings.HasPrefix(lower, "[wip]")
}

// convertPR maps a Gitea pull request onto the normalized record.
func convertPR(owner, repo string, pr *gitea.PullRequest) *model.PullRequest {
	author := ""
	if pr.Poster != nil {
		author = pr.Poster.UserName
	}
	out := &model.PullRequest{
		Owner:   owner,
		Repo:    repo,
		Number:  int(pr.Index),
		Title:   pr.Title,
		Body:    pr.Body,
		Author:  author,
		IsDraft: isDraftTitle(pr.Title),
	}
	if pr.Head != nil {
		out.HeadSha = pr.Head.Sha
		out.HeadBranch = pr.Head.Ref
	}
	if pr.Base != nil {
		out.BaseBranch = pr.Base.Ref
	}
	return out
}

// ListOpenPRs lists open pull requests for a repository.
func (p *Provider) ListOpenPRs(ctx context.Context, owner, repo string) ([]*model.PullRequest, error) {
	var result []*model.PullRequest
	page := 1

	for {
		prs, resp, err := p.client.ListRepoPullRequests(owner, repo, gitea.ListPullRequestsOptions{
			State: gitea.StateOpen,
			ListOptions: gitea.ListOptions{
				Page:     page,
				PageSize: defaultPerPage,
			},
		})
		if err != nil {
			return nil, wrapErr("failed to list pull requests", resp, err)
		}
		for _, pr := range prs {
			result = append(result, convertPR(owner, repo, pr))
		}
		if len(prs) < defaultPerPage {
			break
		}
		page++
	}

	return result, nil
}

// GetPRDetails retrieves a single pull request.
func (p *Provider) GetPRDetails(ctx context.Context, owner, repo string, number int) (*model.PullRequest, error) {
	pr, resp, err := p.client.GetPullRequest(owner, repo, int64(number))
	if err != nil {
		return nil, wrapErr("failed to get pull request", resp, err)
	}
	return convertPR(owner, repo, pr), nil
}

// GetPRState probes the lifecycle state of a pull request.
func (p *Provider) GetPRState(ctx context.Context, owner, repo string, number int) (*model.PRStateInfo, error) {
	pr, resp, err := p.client.GetPullRequest(owner, repo, int64(number))
	if err != nil {
		return nil, wrapErr("failed to get pull request state", resp, err)
	}

	info := &model.PRStateInfo{State: model.PRStateOpen}
	if pr.State == gitea.StateClosed {
		info.State = model.PRStateClosed
		if pr.HasMerged {
			info.State = model.PRStateMerged
			info.MergedAt = pr.Merged
		}
	}
	return info, nil
}

// GetPRDiff fetches the unified diff text of a pull request.
func (p *Provider) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, resp, err := p.client.GetPullRequestDiff(owner, repo, int64(number), gitea.PullRequestDiffOptions{
		Binary: false,
	})
	if err != nil {
		return "", wrapErr("failed to fetch pull request diff", resp, err)
	}
	return string(diff), nil
}

// GetPRBody returns the PR description.
func (p *Provider) GetPRBody(ctx context.Context, owner, repo string, number int) (string, error) {
	pr, resp, err := p.client.GetPullRequest(owner, repo, int64(number))
	if err != nil {
		return "", wrapErr("failed to get pull request body", resp, err)
	}
	return pr.Body, nil
}

// UpdatePRBody replaces the PR description.
func (p *Provider) UpdatePRBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := p.client.EditPullRequest(owner, repo, int64(number), gitea.EditPullRequestOption{
		Body: &body,
	})
	if err != nil {
		return wrapErr("failed to update pull request body", resp, err)
	}
	return nil
}

// GetPRLabels returns the label names currently on the PR.
func (p *Provider) GetPRLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	labels, resp, err := p.client.GetIssueLabels(owner, repo, int64(number), gitea.ListLabelsOptions{
		ListOptions: gitea.ListOptions{PageSize: defaultPerPage},
	})
	if err != nil {
		return nil, wrapErr("failed to list issue labels", resp, err)
	}

	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names, nil
}

// repoLabelIDs resolves label names to repository label ids. Unknown
// names are skipped; Gitea cannot attach labels that do not exist.
func (p *Provider) repoLabelIDs(owner, repo string, names []string) ([]int64, error) {
	labels, resp, err := p.client.ListRepoLabels(owner, repo, gitea.ListLabelsOptions{
		ListOptions: gitea.ListOptions{PageSize: defaultPerPage},
	})
	if err != nil {
		return nil, wrapErr("failed to list repo labels", resp, err)
	}

	byName := make(map[string]int64, len(labels))
	for _, l := range labels {
		byName[strings.ToLower(l.Name)] = l.ID
	}

	var ids []int64
	for _, name := range names {
		id, ok := byName[strings.ToLower(name)]
		if !ok {
			logger.Warn("Label does not exist in repository, skipping",
				zap.String("owner", owner),
				zap.String("repo", repo),
				zap.String("label", name),
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AddLabels adds labels to the PR.
func (p *Provider) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	ids, err := p.repoLabelIDs(owner, repo, labels)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	_, resp, err := p.client.AddIssueLabels(owner, repo, int64(number), gitea.IssueLabelsOption{Labels: ids})
	if err != nil {
		return wrapErr("failed to add labels", resp, err)
	}
	return nil
}

// RemoveLabels removes labels from the PR. Labels already absent are
// not errors.
func (p *Provider) RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	ids, err := p.repoLabelIDs(owner, repo, labels)
	if err != nil {
		return err
	}

	for _, id := range ids {
		resp, err := p.client.DeleteIssueLabel(owner, repo, int64(number), id)
		if err != nil && !isNotFound(resp) {
			return wrapErr("failed to remove label", resp, err)
		}
	}
	return nil
}

// listAllComments pages through the issue comments of a PR.
func (p *Provider) listAllComments(owner, repo string, number int) ([]*gitea.Comment, error) {
	var all []*gitea.Comment
	page := 1

	for {
		comments, resp, err := p.client.ListIssueComments(owner, repo, int64(number), gitea.ListIssueCommentOptions{
			ListOptions: gitea.ListOptions{
				Page:     page,
				PageSize: defaultPerPage,
			},
		})
		if err != nil {
			return nil, wrapErr("failed to list comments", resp, err)
		}
		all = append(all, comments...)
		if len(comments) < defaultPerPage {
			break
		}
		page++
	}
	return all, nil
}

// FindExistingComment scans PR comments for one containing tag.
func (p *Provider) FindExistingComment(ctx context.Context, owner, repo string, number int, tag string) (*int64, error) {
	comments, err := p.listAllComments(owner, repo, number)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		if strings.Contains(c.Body, tag) {
			id := c.ID
			return &id, nil
		}
	}
	return nil, nil
}

// PostComment posts a PR-level comment and returns its id.
func (p *Provider) PostComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	comment, resp, err := p.client.CreateIssueComment(owner, repo, int64(number), gitea.CreateIssueCommentOption{
		Body: body,
	})
	if err != nil {
		return 0, wrapErr("failed to post comment", resp, err)
	}
	return comment.ID, nil
}

// UpdateComment replaces the body of an existing comment.
func (p *Provider) UpdateComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	_, resp, err := p.client.EditIssueComment(owner, repo, commentID, gitea.EditIssueCommentOption{
		Body: body,
	})
	if err != nil {
		return wrapErr("failed to update comment", resp, err)
	}
	return nil
}

// DeleteComment removes a comment by id.
func (p *Provider) DeleteComment(ctx context.Context, owner, repo string, number int, commentID int64) error {
	resp, err := p.client.DeleteIssueComment(owner, repo, commentID)
	if err != nil {
		return wrapErr("failed to delete comment", resp, err)
	}
	return nil
}

// CommentExists reports whether a comment id still resolves. The SDK
// has no comment-by-id lookup, so the PR's comments are scanned.
func (p *Provider) CommentExists(ctx context.Context, owner, repo string, number int, commentID int64) (bool, error) {
	comments, err := p.listAllComments(owner, repo, number)
	if err != nil {
		return false, err
	}
	for _, c := range comments {
		if c.ID == commentID {
			return true, nil
		}
	}
	return false, nil
}

// reviewState maps the normalized review event onto Gitea's state enum.
func reviewState(event forge.ReviewEvent) gitea.ReviewStateType {
	switch event {
	case forge.ReviewEventApprove:
		return gitea.ReviewStateApproved
	case forge.ReviewEventRequestChanges:
		return gitea.ReviewStateRequestChanges
	default:
		return gitea.ReviewStateComment
	}
}

// PostReview posts a review with inline comments and returns its id.
func (p *Provider) PostReview(ctx context.Context, owner, repo string, number int, review *forge.Review) (int64, error) {
	comments := make([]gitea.CreatePullReviewComment, 0, len(review.Comments))
	for _, c := range review.Comments {
		comments = append(comments, gitea.CreatePullReviewComment{
			Path:       c.Path,
			Body:       c.Body,
			NewLineNum: int64(c.Line),
		})
	}

	posted, resp, err := p.client.CreatePullReview(owner, repo, int64(number), gitea.CreatePullReviewOptions{
		State:    reviewState(review.Event),
		Body:     review.Body,
		CommitID: review.CommitID,
		Comments: comments,
	})
	if err != nil {
		return 0, wrapErr("failed to post review", resp, err)
	}

	logger.Info("Posted review",
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("pr", number),
		zap.Int64("review_id", posted.ID),
		zap.Int("inline_comments", len(comments)),
	)
	return posted.ID, nil
}

// ReviewExists probes a posted review for existence and dismissal.
func (p *Provider) ReviewExists(ctx context.Context, owner, repo string, number int, reviewID int64) (*forge.ReviewStatus, error) {
	review, resp, err := p.client.GetPullReview(owner, repo, int64(number), reviewID)
	if err != nil {
		if isNotFound(resp) {
			return &forge.ReviewStatus{Exists: false}, nil
		}
		return nil, wrapErr("failed to get review", resp, err)
	}
	return &forge.ReviewStatus{
		Exists:    true,
		Dismissed: review.Dismissed,
	}, nil
}

// GetReviewThreads lists review comments as one thread each. Gitea's
// API exposes no thread resolution state.
func (p *Provider) GetReviewThreads(ctx context.Context, owner, repo string, number int) ([]model.ReviewThread, error) {
	reviews, resp, err := p.client.ListPullReviews(owner, repo, int64(number), gitea.ListPullReviewsOptions{
		ListOptions: gitea.ListOptions{PageSize: defaultPerPage},
	})
	if err != nil {
		return nil, wrapErr("failed to list reviews", resp, err)
	}

	var threads []model.ReviewThread
	for _, review := range reviews {
		if review.CodeCommentsCount == 0 {
			continue
		}
		comments, resp, err := p.client.ListPullReviewComments(owner, repo, int64(number), review.ID)
		if err != nil {
			return nil, wrapErr("failed to list review comments", resp, err)
		}
		for _, c := range comments {
			threads = append(threads, model.ReviewThread{
				ID:   strconv.FormatInt(c.ID, 10),
				Path: c.Path,
				Line: int(c.LineNum),
				Body: c.Body,
			})
		}
	}
	return threads, nil
}

// ResolveReviewThread is not expressible through the Gitea API.
func (p *Provider) ResolveReviewThread(ctx context.Context, owner, repo string, number int, threadID string) error {
	return forge.Unsupported("gitea", "review thread resolution")
}

// ValidateToken validates the Gitea token by fetching the current user.
func (p *Provider) ValidateToken(ctx context.Context) error {
	user, _, err := p.client.GetMyUserInfo()
	if err != nil {
		return errors.Wrap(errors.ErrCodeForgeAuth, "invalid token", err)
	}
	logger.Info("Gitea token validated successfully",
		zap.String("username", user.UserName),
	)
	return nil
}

// ParseWebhook validates and parses an incoming webhook delivery.
// Gitea signs deliveries with HMAC-SHA256 in X-Gitea-Signature.
func (p *Provider) ParseWebhook(r *http.Request, secret string) (*model.WebhookEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to read webhook body", err)
	}

	if secret != "" {
		signature := r.Header.Get("X-Gitea-Signature")
		if signature == "" {
			return nil, errors.New(errors.ErrCodeForgeWebhook, "missing webhook signature header (X-Gitea-Signature)")
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expectedSig := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
			logger.Warn("Invalid webhook signature received",
				zap.Int("expected_length", len(expectedSig)),
				zap.Int("received_length", len(signature)),
			)
			return nil, errors.New(errors.ErrCodeForgeWebhook, "invalid webhook signature")
		}
	}

	eventType := r.Header.Get("X-Gitea-Event")

	switch eventType {
	case "pull_request":
		return p.parsePullRequestEvent(body)
	case "issue_comment":
		return p.parseIssueCommentEvent(body)
	default:
		return &model.WebhookEvent{Class: model.EventClassIgnored, Action: eventType}, nil
	}
}

// normalizeAction maps Gitea PR action names onto the unified set.
// Gitea uses "synchronized" where GitHub uses "synchronize".
func normalizeAction(action string) string {
	switch strings.ToLower(action) {
	case "opened":
		return forge.ActionOpened
	case "synchronized", "synchronize":
		return forge.ActionSynchronize
	case "reopened":
		return forge.ActionReopened
	case "edited":
		return forge.ActionEdited
	case "closed":
		return forge.ActionClosed
	default:
		return strings.ToLower(action)
	}
}

// parsePullRequestEvent normalizes a pull_request delivery.
func (p *Provider) parsePullRequestEvent(body []byte) (*model.WebhookEvent, error) {
	var payload struct {
		Action      string `json:"action"`
		Number      int64  `json:"number"`
		PullRequest struct {
			Title  string `json:"title"`
			Body   string `json:"body"`
			Merged bool   `json:"merged"`
			User   struct {
				Login string `json:"login"`
			} `json:"user"`
			Head struct {
				Ref string `json:"ref"`
				Sha string `json:"sha"`
			} `json:"head"`
			Base struct {
				Ref string `json:"ref"`
			} `json:"base"`
		} `json:"pull_request"`
		Changes *struct {
			Title *struct {
				From string `json:"from"`
			} `json:"title"`
		} `json:"changes"`
		Repository struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to parse pull_request event", err)
	}

	owner := payload.Repository.Owner.Login
	repo := payload.Repository.Name
	action := normalizeAction(payload.Action)
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

	pr := payload.PullRequest
	if owner == "" || repo == "" || payload.Number == 0 ||
		pr.Head.Sha == "" || pr.Head.Ref == "" || pr.Base.Ref == "" {
		return nil, errors.New(errors.ErrCodeForgeWebhook, "malformed pull_request payload: missing nested fields")
	}

	event.PR = &model.PullRequest{
		Owner:      owner,
		Repo:       repo,
		Number:     int(payload.Number),
		Title:      pr.Title,
		Body:       pr.Body,
		Author:     pr.User.Login,
		HeadSha:    pr.Head.Sha,
		HeadBranch: pr.Head.Ref,
		BaseBranch: pr.Base.Ref,
		IsDraft:    isDraftTitle(pr.Title),
	}

	switch action {
	case forge.ActionClosed:
		event.Merged = pr.Merged
	case forge.ActionEdited:
		event.TitleChanged = payload.Changes != nil && payload.Changes.Title != nil
	}

	return event, nil
}

// parseIssueCommentEvent normalizes an issue_comment delivery. Issues
// carrying a pull_request stub are PR comments.
func (p *Provider) parseIssueCommentEvent(body []byte) (*model.WebhookEvent, error) {
	var payload struct {
		Action string `json:"action"`
		Issue  struct {
			Number      int64  `json:"number"`
			Title       string `json:"title"`
			PullRequest *struct {
				Merged bool `json:"merged"`
			} `json:"pull_request"`
		} `json:"issue"`
		Comment struct {
			Body string `json:"body"`
			User struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"comment"`
		Repository struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to parse issue_comment event", err)
	}

	action := strings.ToLower(payload.Action)
	owner := payload.Repository.Owner.Login
	repo := payload.Repository.Name

	if action != "created" || payload.Issue.PullRequest == nil {
		return &model.WebhookEvent{Class: model.EventClassIgnored, Action: action, Owner: owner, Repo: repo}, nil
	}
	if owner == "" || repo == "" || payload.Issue.Number == 0 {
		return nil, errors.New(errors.ErrCodeForgeWebhook, "malformed issue_comment payload: missing nested fields")
	}

	return &model.WebhookEvent{
		Class:  model.EventClassComment,
		Action: action,
		Owner:  owner,
		Repo:   repo,
		PR: &model.PullRequest{
			Owner:  owner,
			Repo:   repo,
			Number: int(payload.Issue.Number),
			Title:  payload.Issue.Title,
		},
		CommentBody:      payload.Comment.Body,
		CommentAuthorBot: isBotLogin(payload.Comment.User.Login),
	}, nil
}

// isBotLogin applies the common bot-account naming conventions. Gitea
// exposes no bot flag over webhooks.
func isBotLogin(login string) bool {
	lower := strings.ToLower(login)
	return strings.HasSuffix(lower, "[bot]") || strings.HasSuffix(lower, "-bot") || strings.HasSuffix(lower, "_bot")
}

// isNotFound reports whether the response is a Gitea 404.
func isNotFound(resp *gitea.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// wrapErr maps a Gitea SDK error onto an application error code using
// the HTTP response status when available.
func wrapErr(message string, resp *gitea.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrap(errors.ErrCodeForgeAuth, message, err)
		case http.StatusNotFound:
			return errors.Wrap(errors.ErrCodeForgeNotFound, message, err)
		case http.StatusUnprocessableEntity:
			return errors.Wrap(errors.ErrCodeForgeUnprocessable, message, err)
		case http.StatusTooManyRequests:
			return errors.Wrap(errors.ErrCodeForgeRateLimit, message, err)
		}
	}
	return errors.Wrap(errors.ErrCodeForgeUnavailable, message, err)
}
