// Package gitlab implements the forge provider interface for GitLab.
// It supports both GitLab.com and self-hosted instances through the
// official GitLab API client library. GitLab has no review object, so
// posted reviews become a summary note plus one diff discussion per
// inline comment.
package gitlab

import (
	"context"
	"crypto/hmac"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// GitLab API pagination configuration
const defaultPerPage = 100

// Default GitLab SaaS URL
const defaultGitLabURL = "https://gitlab.com"

func init() {
	forge.Register("gitlab", NewProvider)
}

// Provider implements the forge.Provider interface for GitLab.
type Provider struct {
	client  *gitlab.Client
	token   string
	baseURL string
}

// NewProvider creates a new GitLab provider instance.
func NewProvider(opts *forge.Options) (forge.Provider, error) {
	token := opts.Token
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultGitLabURL
	}

	clientOpts := []gitlab.ClientOptionFunc{}
	if baseURL != defaultGitLabURL {
		clientOpts = append(clientOpts, gitlab.WithBaseURL(baseURL))
	}
	if opts.InsecureSkipVerify {
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // User explicitly enabled insecure mode
				},
			},
		}
		clientOpts = append(clientOpts, gitlab.WithHTTPClient(httpClient))
		logger.Warn("GitLab client configured with InsecureSkipVerify=true, SSL certificate verification is disabled")
	}

	client, err := gitlab.NewClient(token, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeAuth, "failed to create gitlab client", err)
	}

	logger.Info("GitLab provider initialized",
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
	return "gitlab"
}

// projectPath returns the GitLab project path. GitLab subgroups arrive
// already joined into the owner segment.
func projectPath(owner, repo string) string {
	return owner + "/" + repo
}

// hostname extracts protocol and host from the configured base URL.
func (p *Provider) hostname() (protocol, host string) {
	protocol = "https"
	host = "gitlab.com"

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

// PRRef returns the fetchable pseudo-ref for a merge request head.
// Self-hosted instances need merge request refs enabled.
func (p *Provider) PRRef(number int) string {
	return fmt.Sprintf("refs/merge-requests/%d/head", number)
}

// AuthToken returns the configured access token.
func (p *Provider) AuthToken() string {
	return p.token
}

// ListOpenPRs lists open merge requests for a project.
func (p *Provider) ListOpenPRs(ctx context.Context, owner, repo string) ([]*model.PullRequest, error) {
	pid := projectPath(owner, repo)
	var result []*model.PullRequest
	page := int64(1)

	for {
		mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(pid, &gitlab.ListProjectMergeRequestsOptions{
			State: gitlab.Ptr("opened"),
			ListOptions: gitlab.ListOptions{
				Page:    page,
				PerPage: defaultPerPage,
			},
		}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapErr("failed to list merge requests", resp, err)
		}
		for _, mr := range mrs {
			result = append(result, &model.PullRequest{
				Owner:      owner,
				Repo:       repo,
				Number:     int(mr.IID),
				Title:      mr.Title,
				Body:       mr.Description,
				Author:     mr.Author.Username,
				HeadSha:    mr.SHA,
				HeadBranch: mr.SourceBranch,
				BaseBranch: mr.TargetBranch,
				IsDraft:    mr.Draft,
			})
		}
		if len(mrs) < defaultPerPage {
			break
		}
		page++
	}

	return result, nil
}

// getMR retrieves the full merge request record.
func (p *Provider) getMR(ctx context.Context, owner, repo string, number int) (*gitlab.MergeRequest, error) {
	mr, resp, err := p.client.MergeRequests.GetMergeRequest(projectPath(owner, repo), int64(number), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("failed to get merge request", resp, err)
	}
	return mr, nil
}

// GetPRDetails retrieves a single merge request.
func (p *Provider) GetPRDetails(ctx context.Context, owner, repo string, number int) (*model.PullRequest, error) {
	mr, err := p.getMR(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	return &model.PullRequest{
		Owner:      owner,
		Repo:       repo,
		Number:     int(mr.IID),
		Title:      mr.Title,
		Body:       mr.Description,
		Author:     mr.Author.Username,
		HeadSha:    mr.SHA,
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		IsDraft:    mr.Draft,
	}, nil
}

// GetPRState probes the lifecycle state of a merge request.
func (p *Provider) GetPRState(ctx context.Context, owner, repo string, number int) (*model.PRStateInfo, error) {
	mr, err := p.getMR(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	info := &model.PRStateInfo{State: model.PRStateOpen}
	switch mr.State {
	case "merged":
		info.State = model.PRStateMerged
		info.MergedAt = mr.MergedAt
	case "closed":
		info.State = model.PRStateClosed
	}
	return info, nil
}

// GetPRDiff reconstructs the unified diff of a merge request. The diffs
// endpoint returns per-file hunks without patch headers, so headers are
// synthesized to keep the output parseable as a standard diff.
func (p *Provider) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	pid := projectPath(owner, repo)
	var sb strings.Builder
	page := int64(1)

	for {
		diffs, resp, err := p.client.MergeRequests.ListMergeRequestDiffs(pid, int64(number), &gitlab.ListMergeRequestDiffsOptions{
			ListOptions: gitlab.ListOptions{
				Page:    page,
				PerPage: defaultPerPage,
			},
		}, gitlab.WithContext(ctx))
		if err != nil {
			return "", wrapErr("failed to fetch merge request diff", resp, err)
		}
		for _, d := range diffs {
			fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
			if d.NewFile {
				fmt.Fprintf(&sb, "--- /dev/null\n+++ b/%s\n", d.NewPath)
			} else if d.DeletedFile {
				fmt.Fprintf(&sb, "--- a/%s\n+++ /dev/null\n", d.OldPath)
			} else {
				fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", d.OldPath, d.NewPath)
			}
			sb.WriteString(d.Diff)
			if !strings.HasSuffix(d.Diff, "\n") {
				sb.WriteString("\n")
			}
		}
		if len(diffs) < defaultPerPage {
			break
		}
		page++
	}

	return sb.String(), nil
}

// GetPRBody returns the MR description.
func (p *Provider) GetPRBody(ctx context.Context, owner, repo string, number int) (string, error) {
	mr, err := p.getMR(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return mr.Description, nil
}

// UpdatePRBody replaces the MR description.
func (p *Provider) UpdatePRBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(projectPath(owner, repo), int64(number), &gitlab.UpdateMergeRequestOptions{
		Description: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("failed to update merge request description", resp, err)
	}
	return nil
}

// GetPRLabels returns the label names currently on the MR.
func (p *Provider) GetPRLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	mr, err := p.getMR(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	return []string(mr.Labels), nil
}

// AddLabels adds labels to the MR. GitLab creates unknown labels on the
// fly, so no name resolution is needed.
func (p *Provider) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	add := gitlab.LabelOptions(labels)
	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(projectPath(owner, repo), int64(number), &gitlab.UpdateMergeRequestOptions{
		AddLabels: &add,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("failed to add labels", resp, err)
	}
	return nil
}

// RemoveLabels removes labels from the MR. Labels already absent are
// not errors.
func (p *Provider) RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	remove := gitlab.LabelOptions(labels)
	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(projectPath(owner, repo), int64(number), &gitlab.UpdateMergeRequestOptions{
		RemoveLabels: &remove,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("failed to remove labels", resp, err)
	}
	return nil
}

// listAllNotes pages through the notes of a merge request, skipping
// system notes.
func (p *Provider) listAllNotes(ctx context.Context, owner, repo string, number int) ([]*gitlab.Note, error) {
	pid := projectPath(owner, repo)
	var all []*gitlab.Note
	page := int64(1)

	for {
		notes, resp, err := p.client.Notes.ListMergeRequestNotes(pid, int64(number), &gitlab.ListMergeRequestNotesOptions{
			ListOptions: gitlab.ListOptions{
				Page:    page,
				PerPage: defaultPerPage,
			},
		}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapErr("failed to list notes", resp, err)
		}
		for _, n := range notes {
			if n.System {
				continue
			}
			all = append(all, n)
		}
		if len(notes) < defaultPerPage {
			break
		}
		page++
	}
	return all, nil
}

// FindExistingComment scans MR notes for one containing tag.
func (p *Provider) FindExistingComment(ctx context.Context, owner, repo string, number int, tag string) (*int64, error) {
	notes, err := p.listAllNotes(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		if strings.Contains(n.Body, tag) {
			id := int64(n.ID)
			return &id, nil
		}
	}
	return nil, nil
}

// PostComment posts an MR-level note and returns its id.
func (p *Provider) PostComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	note, resp, err := p.client.Notes.CreateMergeRequestNote(projectPath(owner, repo), int64(number), &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return 0, wrapErr("failed to post note", resp, err)
	}
	return int64(note.ID), nil
}

// UpdateComment replaces the body of an existing note.
func (p *Provider) UpdateComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	_, resp, err := p.client.Notes.UpdateMergeRequestNote(projectPath(owner, repo), int64(number), commentID, &gitlab.UpdateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("failed to update note", resp, err)
	}
	return nil
}

// DeleteComment removes a note by id.
func (p *Provider) DeleteComment(ctx context.Context, owner, repo string, number int, commentID int64) error {
	resp, err := p.client.Notes.DeleteMergeRequestNote(projectPath(owner, repo), int64(number), commentID, gitlab.WithContext(ctx))
	if err != nil && !isNotFound(resp) {
		return wrapErr("failed to delete note", resp, err)
	}
	return nil
}

// CommentExists reports whether a note id still resolves.
func (p *Provider) CommentExists(ctx context.Context, owner, repo string, number int, commentID int64) (bool, error) {
	_, resp, err := p.client.Notes.GetMergeRequestNote(projectPath(owner, repo), int64(number), commentID, gitlab.WithContext(ctx))
	if err != nil {
		if isNotFound(resp) {
			return false, nil
		}
		return false, wrapErr("failed to get note", resp, err)
	}
	return true, nil
}

// PostReview posts a review as a summary note plus diff discussions.
// GitLab has no grouped review object: inline comments become individual
// discussions positioned against the MR diff refs, and an APPROVE event
// additionally records an approval. The summary note id identifies the
// review.
func (p *Provider) PostReview(ctx context.Context, owner, repo string, number int, review *forge.Review) (int64, error) {
	pid := projectPath(owner, repo)

	mr, err := p.getMR(ctx, owner, repo, number)
	if err != nil {
		return 0, err
	}

	posted := 0
	for _, c := range review.Comments {
		opts := &gitlab.CreateMergeRequestDiscussionOptions{
			Body: gitlab.Ptr(c.Body),
			Position: &gitlab.PositionOptions{
				PositionType: gitlab.Ptr("text"),
				BaseSHA:      gitlab.Ptr(mr.DiffRefs.BaseSha),
				StartSHA:     gitlab.Ptr(mr.DiffRefs.StartSha),
				HeadSHA:      gitlab.Ptr(mr.DiffRefs.HeadSha),
				NewPath:      gitlab.Ptr(c.Path),
				NewLine:      gitlab.Ptr(int64(c.Line)),
			},
		}
		_, resp, err := p.client.Discussions.CreateMergeRequestDiscussion(pid, int64(number), opts, gitlab.WithContext(ctx))
		if err != nil {
			// The line may have moved out of the diff between snap and
			// post. Degrade to a plain note rather than losing the finding.
			logger.Warn("Failed to create diff discussion, posting as note",
				zap.String("owner", owner),
				zap.String("repo", repo),
				zap.Int("mr", number),
				zap.String("path", c.Path),
				zap.Int("line", c.Line),
				zap.Error(err),
			)
			fallback := fmt.Sprintf("`%s:%d`\n\n%s", c.Path, c.Line, c.Body)
			if _, noteErr := p.PostComment(ctx, owner, repo, number, fallback); noteErr != nil {
				return 0, wrapErr("failed to post inline comment", resp, err)
			}
		}
		posted++
	}

	summaryID, err := p.PostComment(ctx, owner, repo, number, review.Body)
	if err != nil {
		return 0, err
	}

	if review.Event == forge.ReviewEventApprove {
		_, resp, err := p.client.MergeRequestApprovals.ApproveMergeRequest(pid, int64(number), &gitlab.ApproveMergeRequestOptions{}, gitlab.WithContext(ctx))
		if err != nil {
			// Approvals can be disabled or forbidden for the token's user.
			logger.Warn("Failed to approve merge request",
				zap.String("owner", owner),
				zap.String("repo", repo),
				zap.Int("mr", number),
				zap.Error(wrapErr("approve failed", resp, err)),
			)
		}
	}

	logger.Info("Posted review",
		zap.String("owner", owner),
		zap.String("repo", repo),
		zap.Int("mr", number),
		zap.Int64("note_id", summaryID),
		zap.Int("inline_comments", posted),
	)
	return summaryID, nil
}

// ReviewExists probes the review's summary note for existence. GitLab
// has no review dismissal concept.
func (p *Provider) ReviewExists(ctx context.Context, owner, repo string, number int, reviewID int64) (*forge.ReviewStatus, error) {
	exists, err := p.CommentExists(ctx, owner, repo, number, reviewID)
	if err != nil {
		return nil, err
	}
	return &forge.ReviewStatus{Exists: exists}, nil
}

// GetReviewThreads lists resolvable diff discussions on the MR.
func (p *Provider) GetReviewThreads(ctx context.Context, owner, repo string, number int) ([]model.ReviewThread, error) {
	pid := projectPath(owner, repo)
	var threads []model.ReviewThread
	page := int64(1)

	for {
		discussions, resp, err := p.client.Discussions.ListMergeRequestDiscussions(pid, int64(number), &gitlab.ListMergeRequestDiscussionsOptions{
			ListOptions: gitlab.ListOptions{
				Page:    page,
				PerPage: defaultPerPage,
			},
		}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, wrapErr("failed to list discussions", resp, err)
		}
		for _, d := range discussions {
			for _, n := range d.Notes {
				if n.System || !n.Resolvable {
					continue
				}
				thread := model.ReviewThread{
					ID:         d.ID,
					Body:       n.Body,
					IsResolved: n.Resolved,
				}
				if n.Position != nil {
					thread.Path = n.Position.NewPath
					thread.Line = int(n.Position.NewLine)
				}
				threads = append(threads, thread)
				break
			}
		}
		if len(discussions) < defaultPerPage {
			break
		}
		page++
	}

	return threads, nil
}

// ResolveReviewThread marks a diff discussion resolved.
func (p *Provider) ResolveReviewThread(ctx context.Context, owner, repo string, number int, threadID string) error {
	_, resp, err := p.client.Discussions.ResolveMergeRequestDiscussion(projectPath(owner, repo), int64(number), threadID, &gitlab.ResolveMergeRequestDiscussionOptions{
		Resolved: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return wrapErr("failed to resolve discussion", resp, err)
	}
	return nil
}

// ValidateToken validates the GitLab token by fetching the current user.
func (p *Provider) ValidateToken(ctx context.Context) error {
	user, _, err := p.client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return errors.Wrap(errors.ErrCodeForgeAuth, "invalid token", err)
	}
	logger.Info("GitLab token validated successfully",
		zap.String("username", user.Username),
	)
	return nil
}

// ParseWebhook validates and parses an incoming webhook delivery.
// GitLab sends the shared secret verbatim in X-Gitlab-Token.
func (p *Provider) ParseWebhook(r *http.Request, secret string) (*model.WebhookEvent, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to read webhook body", err)
	}

	if secret != "" {
		token := r.Header.Get("X-Gitlab-Token")
		if !hmac.Equal([]byte(token), []byte(secret)) {
			logger.Warn("Invalid webhook token received",
				zap.Int("received_length", len(token)),
			)
			return nil, errors.New(errors.ErrCodeForgeWebhook, "invalid webhook token")
		}
	}

	eventType := r.Header.Get("X-Gitlab-Event")

	switch eventType {
	case "Merge Request Hook":
		return p.parseMergeRequestEvent(body)
	case "Note Hook":
		return p.parseNoteEvent(body)
	default:
		return &model.WebhookEvent{Class: model.EventClassIgnored, Action: eventType}, nil
	}
}

// splitProjectPath splits path_with_namespace into owner and repo. The
// last segment is the project, everything before it the namespace.
func splitProjectPath(path string) (owner, repo string, ok bool) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

// normalizeAction maps GitLab MR action names onto the unified set.
// New commits and metadata edits both arrive as "update"; oldrev is set
// only when the head moved.
func normalizeAction(action string, hasOldrev bool) string {
	switch strings.ToLower(action) {
	case "open":
		return forge.ActionOpened
	case "update":
		if hasOldrev {
			return forge.ActionSynchronize
		}
		return forge.ActionEdited
	case "reopen":
		return forge.ActionReopened
	case "close", "merge":
		return forge.ActionClosed
	default:
		return strings.ToLower(action)
	}
}

// parseMergeRequestEvent normalizes a Merge Request Hook delivery.
func (p *Provider) parseMergeRequestEvent(body []byte) (*model.WebhookEvent, error) {
	var payload struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Project struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
		ObjectAttributes struct {
			IID          int    `json:"iid"`
			Title        string `json:"title"`
			Description  string `json:"description"`
			State        string `json:"state"`
			Action       string `json:"action"`
			Oldrev       string `json:"oldrev"`
			SourceBranch string `json:"source_branch"`
			TargetBranch string `json:"target_branch"`
			Draft        bool   `json:"draft"`
			LastCommit   struct {
				ID string `json:"id"`
			} `json:"last_commit"`
		} `json:"object_attributes"`
		Changes *struct {
			Title *struct {
				Previous string `json:"previous"`
				Current  string `json:"current"`
			} `json:"title"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to parse merge request event", err)
	}

	owner, repo, ok := splitProjectPath(payload.Project.PathWithNamespace)
	attrs := payload.ObjectAttributes
	action := normalizeAction(attrs.Action, attrs.Oldrev != "")
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

	if !ok || attrs.IID == 0 || attrs.LastCommit.ID == "" ||
		attrs.SourceBranch == "" || attrs.TargetBranch == "" {
		return nil, errors.New(errors.ErrCodeForgeWebhook, "malformed merge request payload: missing nested fields")
	}

	event.PR = &model.PullRequest{
		Owner:      owner,
		Repo:       repo,
		Number:     attrs.IID,
		Title:      attrs.Title,
		Body:       attrs.Description,
		Author:     payload.User.Username,
		HeadSha:    attrs.LastCommit.ID,
		HeadBranch: attrs.SourceBranch,
		BaseBranch: attrs.TargetBranch,
		IsDraft:    attrs.Draft,
	}

	switch action {
	case forge.ActionClosed:
		event.Merged = attrs.State == "merged" || strings.EqualFold(attrs.Action, "merge")
	case forge.ActionEdited:
		event.TitleChanged = payload.Changes != nil && payload.Changes.Title != nil
	}

	return event, nil
}

// parseNoteEvent normalizes a Note Hook delivery. Only notes attached
// to merge requests matter.
func (p *Provider) parseNoteEvent(body []byte) (*model.WebhookEvent, error) {
	var payload struct {
		User struct {
			Username string `json:"username"`
			Bot      bool   `json:"bot"`
		} `json:"user"`
		Project struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
		ObjectAttributes struct {
			Note         string `json:"note"`
			NoteableType string `json:"noteable_type"`
		} `json:"object_attributes"`
		MergeRequest *struct {
			IID   int    `json:"iid"`
			Title string `json:"title"`
		} `json:"merge_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeWebhook, "failed to parse note event", err)
	}

	owner, repo, ok := splitProjectPath(payload.Project.PathWithNamespace)

	if payload.ObjectAttributes.NoteableType != "MergeRequest" || payload.MergeRequest == nil {
		return &model.WebhookEvent{Class: model.EventClassIgnored, Action: "note", Owner: owner, Repo: repo}, nil
	}
	if !ok || payload.MergeRequest.IID == 0 {
		return nil, errors.New(errors.ErrCodeForgeWebhook, "malformed note payload: missing nested fields")
	}

	return &model.WebhookEvent{
		Class:  model.EventClassComment,
		Action: "created",
		Owner:  owner,
		Repo:   repo,
		PR: &model.PullRequest{
			Owner:  owner,
			Repo:   repo,
			Number: payload.MergeRequest.IID,
			Title:  payload.MergeRequest.Title,
		},
		CommentBody:      payload.ObjectAttributes.Note,
		CommentAuthorBot: payload.User.Bot || isBotLogin(payload.User.Username),
	}, nil
}

// isBotLogin applies the common bot-account naming conventions as a
// fallback when the payload omits the bot flag.
func isBotLogin(login string) bool {
	lower := strings.ToLower(login)
	return strings.HasSuffix(lower, "[bot]") || strings.HasSuffix(lower, "-bot") || strings.HasSuffix(lower, "_bot")
}

// isNotFound reports whether the response is a GitLab 404.
func isNotFound(resp *gitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// wrapErr maps a GitLab client error onto an application error code
// using the HTTP response status when available.
func wrapErr(message string, resp *gitlab.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrap(errors.ErrCodeForgeAuth, message, err)
		case http.StatusNotFound:
			return errors.Wrap(errors.ErrCodeForgeNotFound, message, err)
		case http.StatusUnprocessableEntity, http.StatusBadRequest:
			return errors.Wrap(errors.ErrCodeForgeUnprocessable, message, err)
		case http.StatusTooManyRequests:
			return errors.Wrap(errors.ErrCodeForgeRateLimit, message, err)
		}
	}
	return errors.Wrap(errors.ErrCodeForgeUnavailable, message, err)
}
