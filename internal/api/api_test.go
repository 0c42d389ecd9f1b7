package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/feature"
	"github.com/prpatrol/prpatrol/internal/forge/fake"
	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/llm/mock"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/internal/store"
)

const apiDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+var debug = false

 func main() {}
`

// webhookProvider wraps the fake with a canned ParseWebhook result.
type webhookProvider struct {
	*fake.Provider
	event *model.WebhookEvent
	err   error
}

func (p *webhookProvider) ParseWebhook(r *http.Request, secret string) (*model.WebhookEvent, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.event, nil
}

type apiHarness struct {
	server *Server
	router http.Handler
	forge  *webhookProvider
	coord  *review.Coordinator
	states *state.Store
	cfg    *config.Config
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	dir := t.TempDir()

	states, err := state.New(filepath.Join(dir, "state"))
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	auditLog, err := audit.New(filepath.Join(dir, "audit.jsonl"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{Repositories: []string{"acme/widgets"}}
	cfg.Review.MaxDiffLines = 5000
	cfg.Review.MaxConcurrentReviews = 2
	cfg.Review.MaxRetries = 3
	cfg.Review.MaxReviewHistory = 10
	cfg.Review.SkipDrafts = true
	cfg.Review.CommentTag = "<!-- prpatrol -->"
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Auth = config.DashboardAuthConfig{
		Username:     "admin",
		PasswordHash: string(hash),
		JWTSecret:    "test-secret",
	}

	archive, err := store.Open(filepath.Join(dir, "archive.db"))
	require.NoError(t, err)

	provider := &webhookProvider{Provider: fake.New()}
	client := mock.New()
	approve, err := json.Marshal(&model.StructuredReview{Verdict: model.VerdictApprove, Summary: "ok"})
	require.NoError(t, err)
	client.Default = &llm.Envelope{Result: string(approve)}

	coord := review.New(review.Deps{
		Config:   cfg,
		States:   states,
		Forge:    provider,
		LLM:      client,
		Guard:    guard.New(),
		Features: feature.NewRunner(states),
		Audit:    auditLog,
		Archive:  archive,
	})

	server := NewServer(context.Background(), Deps{
		Config:   cfg,
		States:   states,
		Coord:    coord,
		Provider: provider,
		Guard:    guard.New(),
		Audit:    auditLog,
		Archive:  archive,
	})
	return &apiHarness{
		server: server,
		router: server.Router(),
		forge:  provider,
		coord:  coord,
		states: states,
		cfg:    cfg,
	}
}

func (h *apiHarness) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) login(t *testing.T) string {
	t.Helper()
	w := h.do(http.MethodPost, "/api/v1/auth/login",
		[]byte(`{"username":"admin","password":"hunter2"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginAndProtectedStatus(t *testing.T) {
	h := newAPIHarness(t)

	// Without a token the protected routes reject.
	w := h.do(http.MethodGet, "/api/v1/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := h.login(t)
	w = h.do(http.MethodGet, "/api/v1/status", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"inflight"`)
	assert.Contains(t, w.Body.String(), `"guard"`)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(http.MethodPost, "/api/v1/auth/login",
		[]byte(`{"username":"admin","password":"wrong"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/auth/login",
		[]byte(`{"username":"nobody","password":"hunter2"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthManagerRejectsExpiredToken(t *testing.T) {
	auth := NewAuthManager(&config.DashboardAuthConfig{
		Username:        "admin",
		PasswordHash:    "$2a$04$invalid", // unused in this test
		JWTSecret:       "secret",
		TokenTTLMinutes: 10,
	})
	base := time.Now()
	auth.now = func() time.Time { return base }

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	auth.passwordHash = string(hash)

	token, _, err := auth.Login("admin", "pw")
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.NoError(t, err)

	auth.now = func() time.Time { return base.Add(11 * time.Minute) }
	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestWebhookReviewEventAccepted(t *testing.T) {
	h := newAPIHarness(t)
	pr := &model.PullRequest{
		Owner: "acme", Repo: "widgets", Number: 7,
		Title: "Change", HeadSha: "aaa111", HeadBranch: "f", BaseBranch: "main",
	}
	h.forge.Diffs[pr.Key()] = apiDiff
	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassReview, Action: "opened",
		Owner: "acme", Repo: "widgets", PR: pr,
	}

	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	h.coord.Wait()
	assert.Len(t, h.forge.Reviews[pr.Key()], 1)
}

func TestWebhookDropsUntrackedRepo(t *testing.T) {
	h := newAPIHarness(t)
	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassReview, Action: "opened",
		Owner: "other", Repo: "repo",
		PR: &model.PullRequest{Owner: "other", Repo: "repo", Number: 1},
	}

	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not tracked")
}

func TestWebhookEditedOnlyOnTitleChange(t *testing.T) {
	h := newAPIHarness(t)
	pr := &model.PullRequest{Owner: "acme", Repo: "widgets", Number: 7, HeadSha: "aaa111"}
	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassConditional, Action: "edited",
		Owner: "acme", Repo: "widgets", PR: pr,
	}

	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	h.forge.event.TitleChanged = true
	w = h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestWebhookLifecycleClosed(t *testing.T) {
	h := newAPIHarness(t)
	key := model.PRKey("acme", "widgets", 7)
	_, _, err := h.states.GetOrCreate(key, &model.PRState{
		Owner: "acme", Repo: "widgets", Number: 7,
		Status: model.StatusReviewed, FirstSeenAt: time.Now(),
	})
	require.NoError(t, err)

	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassLifecycle, Action: "closed", Merged: true,
		Owner: "acme", Repo: "widgets",
		PR: &model.PullRequest{Owner: "acme", Repo: "widgets", Number: 7},
	}
	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusMerged, st.Status)
}

func TestWebhookConvertedToDraft(t *testing.T) {
	h := newAPIHarness(t)
	key := model.PRKey("acme", "widgets", 7)
	_, _, err := h.states.GetOrCreate(key, &model.PRState{
		Owner: "acme", Repo: "widgets", Number: 7,
		Status: model.StatusPendingReview, FirstSeenAt: time.Now(),
	})
	require.NoError(t, err)

	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassLifecycle, Action: "converted_to_draft",
		Owner: "acme", Repo: "widgets",
		PR: &model.PullRequest{Owner: "acme", Repo: "widgets", Number: 7},
	}
	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	st, _ := h.states.Get(key)
	assert.Equal(t, model.StatusSkipped, st.Status)
	assert.Equal(t, model.SkipReasonDraft, st.SkipReason)
	assert.True(t, st.IsDraft)
}

func TestWebhookIgnoresBotComments(t *testing.T) {
	h := newAPIHarness(t)
	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassComment, Action: "created",
		Owner: "acme", Repo: "widgets",
		PR:               &model.PullRequest{Owner: "acme", Repo: "widgets", Number: 7},
		CommentBody:      "/review",
		CommentAuthorBot: true,
	}
	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookCommentTrigger(t *testing.T) {
	h := newAPIHarness(t)
	pr := &model.PullRequest{
		Owner: "acme", Repo: "widgets", Number: 7,
		Title: "Change", HeadSha: "aaa111", HeadBranch: "f", BaseBranch: "main",
	}
	h.forge.OpenPRs["acme/widgets"] = []*model.PullRequest{pr}
	h.forge.Diffs[pr.Key()] = apiDiff
	h.forge.event = &model.WebhookEvent{
		Class: model.EventClassComment, Action: "created",
		Owner: "acme", Repo: "widgets",
		PR:          &model.PullRequest{Owner: "acme", Repo: "widgets", Number: 7},
		CommentBody: "/review --max-turns=5",
	}

	w := h.do(http.MethodPost, "/api/v1/webhooks/fake", []byte(`{}`), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// The trigger runs asynchronously; wait for the review to land.
	require.Eventually(t, func() bool {
		st, ok := h.states.Get(pr.Key())
		return ok && st.Status == model.StatusReviewed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSettingsRoundTrip(t *testing.T) {
	h := newAPIHarness(t)
	token := h.login(t)
	auth := map[string]string{"Authorization": "Bearer " + token}

	w := h.do(http.MethodPut, "/api/v1/settings/theme", []byte(`{"value":"dark"}`), auth)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/v1/settings", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"theme"`)
	assert.Contains(t, w.Body.String(), `"dark"`)
}

func TestUsageEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	token := h.login(t)

	w := h.do(http.MethodGet, "/api/v1/usage", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cost_usd"`)
}

func TestParseOverrides(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *model.ReviewOverrides
	}{
		{"none", "/review", nil},
		{"max turns", "/review --max-turns=12", &model.ReviewOverrides{MaxTurns: 12}},
		{"skip flags", "/review --skip-description --skip-labels",
			&model.ReviewOverrides{SkipDescription: true, SkipLabels: true}},
		{"focus", "/review --focus=internal/api,pkg/errors",
			&model.ReviewOverrides{FocusPaths: []string{"internal/api", "pkg/errors"}}},
		{"invalid turns ignored", "/review --max-turns=abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOverrides(tt.body))
		})
	}
}
