// Package fake provides an in-memory forge.Provider for tests. State
// mutations are recorded so tests can assert on posted comments,
// reviews, and labels without a live forge.
package fake

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// PostedComment is one comment recorded by the fake.
type PostedComment struct {
	ID   int64
	Body string
}

// PostedReview is one review recorded by the fake.
type PostedReview struct {
	ID     int64
	Review forge.Review
}

// Provider implements forge.Provider in memory. The zero value is
// usable; configure fields before handing it to the code under test.
type Provider struct {
	mu sync.Mutex

	// Inputs
	OpenPRs    map[string][]*model.PullRequest // keyed by "owner/repo"
	Diffs      map[string]string               // keyed by PR key
	States     map[string]*model.PRStateInfo   // keyed by PR key
	Labels     map[string][]string             // keyed by PR key
	Bodies     map[string]string               // keyed by PR key
	Threads    map[string][]model.ReviewThread // keyed by PR key
	ReviewStat map[int64]*forge.ReviewStatus   // keyed by review id

	// Err, when set, is returned by every operation.
	Err error

	// Recorded outputs
	Comments        map[string][]PostedComment
	Reviews         map[string][]PostedReview
	AddedLabels     map[string][]string
	RemovedLabels   map[string][]string
	ResolvedThreads []string
	DeletedComments []int64
	UpdatedBodies   map[string]string

	nextID int64
}

var _ forge.Provider = (*Provider)(nil)

// New builds an empty fake provider.
func New() *Provider {
	return &Provider{
		OpenPRs:       make(map[string][]*model.PullRequest),
		Diffs:         make(map[string]string),
		States:        make(map[string]*model.PRStateInfo),
		Labels:        make(map[string][]string),
		Bodies:        make(map[string]string),
		Threads:       make(map[string][]model.ReviewThread),
		ReviewStat:    make(map[int64]*forge.ReviewStatus),
		Comments:      make(map[string][]PostedComment),
		Reviews:       make(map[string][]PostedReview),
		AddedLabels:   make(map[string][]string),
		RemovedLabels: make(map[string][]string),
		UpdatedBodies: make(map[string]string),
		nextID:        100,
	}
}

func key(owner, repo string, number int) string {
	return model.PRKey(owner, repo, number)
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) CloneURL(owner, repo string) string {
	return fmt.Sprintf("https://fake.invalid/%s/%s.git", owner, repo)
}

func (p *Provider) PRRef(number int) string {
	return fmt.Sprintf("refs/pull/%d/head", number)
}

func (p *Provider) AuthToken() string { return "fake-token" }

func (p *Provider) ListOpenPRs(ctx context.Context, owner, repo string) ([]*model.PullRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.OpenPRs[owner+"/"+repo], nil
}

func (p *Provider) GetPRDetails(ctx context.Context, owner, repo string, number int) (*model.PullRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	for _, pr := range p.OpenPRs[owner+"/"+repo] {
		if pr.Number == number {
			return pr, nil
		}
	}
	return nil, errors.New(errors.ErrCodeForgeNotFound, "pull request not found")
}

func (p *Provider) GetPRState(ctx context.Context, owner, repo string, number int) (*model.PRStateInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if info, ok := p.States[key(owner, repo, number)]; ok {
		return info, nil
	}
	return &model.PRStateInfo{State: model.PRStateOpen}, nil
}

func (p *Provider) GetPRDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.Diffs[key(owner, repo, number)], nil
}

func (p *Provider) GetPRBody(ctx context.Context, owner, repo string, number int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.Bodies[key(owner, repo, number)], nil
}

func (p *Provider) UpdatePRBody(ctx context.Context, owner, repo string, number int, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	k := key(owner, repo, number)
	p.Bodies[k] = body
	p.UpdatedBodies[k] = body
	return nil
}

func (p *Provider) GetPRLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Labels[key(owner, repo, number)], nil
}

func (p *Provider) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	k := key(owner, repo, number)
	p.AddedLabels[k] = append(p.AddedLabels[k], labels...)
	p.Labels[k] = append(p.Labels[k], labels...)
	return nil
}

func (p *Provider) RemoveLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	k := key(owner, repo, number)
	p.RemovedLabels[k] = append(p.RemovedLabels[k], labels...)

	remove := make(map[string]bool, len(labels))
	for _, l := range labels {
		remove[strings.ToLower(l)] = true
	}
	var kept []string
	for _, l := range p.Labels[k] {
		if !remove[strings.ToLower(l)] {
			kept = append(kept, l)
		}
	}
	p.Labels[k] = kept
	return nil
}

func (p *Provider) FindExistingComment(ctx context.Context, owner, repo string, number int, tag string) (*int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	for _, c := range p.Comments[key(owner, repo, number)] {
		if strings.Contains(c.Body, tag) {
			id := c.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (p *Provider) PostComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return 0, p.Err
	}
	p.nextID++
	id := p.nextID
	k := key(owner, repo, number)
	p.Comments[k] = append(p.Comments[k], PostedComment{ID: id, Body: body})
	return id, nil
}

func (p *Provider) UpdateComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	k := key(owner, repo, number)
	for i, c := range p.Comments[k] {
		if c.ID == commentID {
			p.Comments[k][i].Body = body
			return nil
		}
	}
	return errors.New(errors.ErrCodeForgeNotFound, "comment not found")
}

func (p *Provider) DeleteComment(ctx context.Context, owner, repo string, number int, commentID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.DeletedComments = append(p.DeletedComments, commentID)
	k := key(owner, repo, number)
	var kept []PostedComment
	for _, c := range p.Comments[k] {
		if c.ID != commentID {
			kept = append(kept, c)
		}
	}
	p.Comments[k] = kept
	return nil
}

func (p *Provider) CommentExists(ctx context.Context, owner, repo string, number int, commentID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return false, p.Err
	}
	for _, c := range p.Comments[key(owner, repo, number)] {
		if c.ID == commentID {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) PostReview(ctx context.Context, owner, repo string, number int, review *forge.Review) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return 0, p.Err
	}
	p.nextID++
	id := p.nextID
	k := key(owner, repo, number)
	p.Reviews[k] = append(p.Reviews[k], PostedReview{ID: id, Review: *review})
	p.ReviewStat[id] = &forge.ReviewStatus{Exists: true}
	return id, nil
}

func (p *Provider) ReviewExists(ctx context.Context, owner, repo string, number int, reviewID int64) (*forge.ReviewStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if status, ok := p.ReviewStat[reviewID]; ok {
		return status, nil
	}
	return &forge.ReviewStatus{Exists: false}, nil
}

func (p *Provider) GetReviewThreads(ctx context.Context, owner, repo string, number int) ([]model.ReviewThread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Threads[key(owner, repo, number)], nil
}

func (p *Provider) ResolveReviewThread(ctx context.Context, owner, repo string, number int, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.ResolvedThreads = append(p.ResolvedThreads, threadID)
	return nil
}

func (p *Provider) ParseWebhook(r *http.Request, secret string) (*model.WebhookEvent, error) {
	return nil, forge.Unsupported("fake", "webhooks")
}

func (p *Provider) ValidateToken(ctx context.Context) error {
	if p.Err != nil {
		return p.Err
	}
	return nil
}

// LastReview returns the most recently posted review for a PR, or nil.
func (p *Provider) LastReview(owner, repo string, number int) *PostedReview {
	p.mu.Lock()
	defer p.mu.Unlock()
	reviews := p.Reviews[key(owner, repo, number)]
	if len(reviews) == 0 {
		return nil
	}
	return &reviews[len(reviews)-1]
}
