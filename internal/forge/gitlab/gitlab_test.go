package gitlab

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/model"
)

func TestNewProvider(t *testing.T) {
	prov, err := NewProvider(&forge.Options{Token: "test-token"})
	if err != nil {
		t.Fatalf("NewProvider() failed: %v", err)
	}
	if prov.Name() != "gitlab" {
		t.Errorf("Name() = %q, want 'gitlab'", prov.Name())
	}
}

func TestCloneURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"default", "https://gitlab.com", "https://gitlab.com/group/proj.git"},
		{"self-hosted https", "https://git.example.com", "https://git.example.com/group/proj.git"},
		{"self-hosted http", "http://git.internal/", "http://git.internal/group/proj.git"},
		{"api path stripped", "https://git.example.com/api/v4", "https://git.example.com/group/proj.git"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provider{baseURL: tt.baseURL}
			if got := p.CloneURL("group", "proj"); got != tt.want {
				t.Errorf("CloneURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPRRef(t *testing.T) {
	p := &Provider{}
	if got := p.PRRef(42); got != "refs/merge-requests/42/head" {
		t.Errorf("PRRef(42) = %q", got)
	}
}

func TestSplitProjectPath(t *testing.T) {
	tests := []struct {
		path      string
		wantOwner string
		wantRepo  string
		wantOK    bool
	}{
		{"group/proj", "group", "proj", true},
		{"group/subgroup/proj", "group/subgroup", "proj", true},
		{"proj", "", "", false},
		{"group/", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		owner, repo, ok := splitProjectPath(tt.path)
		if owner != tt.wantOwner || repo != tt.wantRepo || ok != tt.wantOK {
			t.Errorf("splitProjectPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, owner, repo, ok, tt.wantOwner, tt.wantRepo, tt.wantOK)
		}
	}
}

func TestNormalizeAction(t *testing.T) {
	tests := []struct {
		action    string
		hasOldrev bool
		want      string
	}{
		{"open", false, forge.ActionOpened},
		{"update", true, forge.ActionSynchronize},
		{"update", false, forge.ActionEdited},
		{"reopen", false, forge.ActionReopened},
		{"close", false, forge.ActionClosed},
		{"merge", false, forge.ActionClosed},
		{"approved", false, "approved"},
	}
	for _, tt := range tests {
		if got := normalizeAction(tt.action, tt.hasOldrev); got != tt.want {
			t.Errorf("normalizeAction(%q, %v) = %q, want %q", tt.action, tt.hasOldrev, got, tt.want)
		}
	}
}

const mrPayload = `{
	"user": {"username": "alice"},
	"project": {"path_with_namespace": "group/proj"},
	"object_attributes": {
		"iid": 7,
		"title": "Add feature",
		"description": "details",
		"state": "opened",
		"action": "update",
		"oldrev": "aaa111",
		"source_branch": "feature",
		"target_branch": "main",
		"draft": false,
		"last_commit": {"id": "bbb222"}
	}
}`

func TestParseWebhookMergeRequest(t *testing.T) {
	p := &Provider{}
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(mrPayload))
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	req.Header.Set("X-Gitlab-Token", "s3cret")

	event, err := p.ParseWebhook(req, "s3cret")
	if err != nil {
		t.Fatalf("ParseWebhook() failed: %v", err)
	}
	if event.Class != model.EventClassReview {
		t.Errorf("Class = %q, want review", event.Class)
	}
	if event.Action != forge.ActionSynchronize {
		t.Errorf("Action = %q, want synchronize", event.Action)
	}
	if event.PR == nil || event.PR.Number != 7 || event.PR.HeadSha != "bbb222" {
		t.Errorf("unexpected PR: %+v", event.PR)
	}
	if event.PR.Owner != "group" || event.PR.Repo != "proj" {
		t.Errorf("owner/repo = %q/%q", event.PR.Owner, event.PR.Repo)
	}
}

func TestParseWebhookInvalidToken(t *testing.T) {
	p := &Provider{}
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(mrPayload))
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	req.Header.Set("X-Gitlab-Token", "wrong")

	if _, err := p.ParseWebhook(req, "s3cret"); err == nil {
		t.Fatal("expected error for invalid webhook token")
	}
}

func TestParseWebhookMergeAction(t *testing.T) {
	payload := `{
		"project": {"path_with_namespace": "group/proj"},
		"object_attributes": {
			"iid": 9,
			"title": "Fix",
			"state": "merged",
			"action": "merge",
			"source_branch": "fix",
			"target_branch": "main",
			"last_commit": {"id": "ccc333"}
		}
	}`
	p := &Provider{}
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(payload))
	req.Header.Set("X-Gitlab-Event", "Merge Request Hook")

	event, err := p.ParseWebhook(req, "")
	if err != nil {
		t.Fatalf("ParseWebhook() failed: %v", err)
	}
	if event.Class != model.EventClassLifecycle {
		t.Errorf("Class = %q, want lifecycle", event.Class)
	}
	if !event.Merged {
		t.Error("Merged = false, want true")
	}
}

func TestParseWebhookNote(t *testing.T) {
	payload := `{
		"user": {"username": "bob", "bot": false},
		"project": {"path_with_namespace": "group/proj"},
		"object_attributes": {"note": "/review --max-turns=10", "noteable_type": "MergeRequest"},
		"merge_request": {"iid": 5, "title": "WIP: thing"}
	}`
	p := &Provider{}
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(payload))
	req.Header.Set("X-Gitlab-Event", "Note Hook")

	event, err := p.ParseWebhook(req, "")
	if err != nil {
		t.Fatalf("ParseWebhook() failed: %v", err)
	}
	if event.Class != model.EventClassComment {
		t.Errorf("Class = %q, want comment", event.Class)
	}
	if event.CommentBody != "/review --max-turns=10" {
		t.Errorf("CommentBody = %q", event.CommentBody)
	}
	if event.PR == nil || event.PR.Number != 5 {
		t.Errorf("unexpected PR: %+v", event.PR)
	}
}

func TestParseWebhookIssueNoteIgnored(t *testing.T) {
	payload := `{
		"project": {"path_with_namespace": "group/proj"},
		"object_attributes": {"note": "hi", "noteable_type": "Issue"}
	}`
	p := &Provider{}
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(payload))
	req.Header.Set("X-Gitlab-Event", "Note Hook")

	event, err := p.ParseWebhook(req, "")
	if err != nil {
		t.Fatalf("ParseWebhook() failed: %v", err)
	}
	if event.Class != model.EventClassIgnored {
		t.Errorf("Class = %q, want ignored", event.Class)
	}
}

func TestParseWebhookUnknownEventIgnored(t *testing.T) {
	p := &Provider{}
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Gitlab-Event", "Pipeline Hook")

	event, err := p.ParseWebhook(req, "")
	if err != nil {
		t.Fatalf("ParseWebhook() failed: %v", err)
	}
	if event.Class != model.EventClassIgnored {
		t.Errorf("Class = %q, want ignored", event.Class)
	}
}

func TestIsBotLogin(t *testing.T) {
	tests := []struct {
		login string
		want  bool
	}{
		{"prpatrol-bot", true},
		{"renovate[bot]", true},
		{"ci_bot", true},
		{"alice", false},
		{"robotics", false},
	}
	for _, tt := range tests {
		if got := isBotLogin(tt.login); got != tt.want {
			t.Errorf("isBotLogin(%q) = %v, want %v", tt.login, got, tt.want)
		}
	}
}
