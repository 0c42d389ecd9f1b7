package feature

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prpatrol/prpatrol/internal/config"
)

func TestJiraExtractKey(t *testing.T) {
	j := NewJira(&config.JiraFeatureConfig{ProjectKeys: []string{"PROJ", "OPS"}})

	tests := []struct {
		name string
		text string
		want string
	}{
		{"key in title", "PROJ-123: add rate limiter", "PROJ-123"},
		{"key in branch", "feature/proj-42-limiter", "PROJ-42"},
		{"second project", "OPS-7 hotfix", "OPS-7"},
		{"no key", "add rate limiter", ""},
		{"wrong project", "OTHER-99 fix", ""},
		{"key must be word bounded", "REPROJ-1 fix", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, j.extractKey(tt.text))
		})
	}
}

func TestJiraShouldRun(t *testing.T) {
	states := newTestStore(t)
	fc := newTestContext(t, states)

	noKeys := NewJira(&config.JiraFeatureConfig{})
	assert.False(t, noKeys.ShouldRun(fc))

	j := NewJira(&config.JiraFeatureConfig{ProjectKeys: []string{"PROJ"}})
	assert.True(t, j.ShouldRun(fc))

	st, _ := states.Get(fc.PR.Key())
	st.JiraValidated = true
	fc.State = st
	assert.False(t, j.ShouldRun(fc))
}

func TestJiraExecuteValidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/PROJ-123", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"key":"PROJ-123","fields":{"summary":"Add limiter"}}`))
	}))
	defer srv.Close()

	states := newTestStore(t)
	fc := newTestContext(t, states)
	fc.PR.Title = "PROJ-123: add rate limiter"

	j := NewJira(&config.JiraFeatureConfig{
		URL:         srv.URL,
		Token:       "tok",
		ProjectKeys: []string{"PROJ"},
	})
	require.NoError(t, j.Execute(fc))

	st, ok := states.Get(fc.PR.Key())
	require.True(t, ok)
	assert.Equal(t, "PROJ-123", st.JiraKey)
	assert.True(t, st.JiraValidated)
}

func TestJiraExecuteUnknownIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	states := newTestStore(t)
	fc := newTestContext(t, states)
	fc.PR.Title = "PROJ-999 ghost issue"

	j := NewJira(&config.JiraFeatureConfig{
		URL:         srv.URL,
		ProjectKeys: []string{"PROJ"},
	})
	require.NoError(t, j.Execute(fc))

	st, ok := states.Get(fc.PR.Key())
	require.True(t, ok)
	assert.Equal(t, "PROJ-999", st.JiraKey)
	assert.False(t, st.JiraValidated)
}

func TestJiraExecuteNoKeyIsNoop(t *testing.T) {
	states := newTestStore(t)
	fc := newTestContext(t, states)
	fc.PR.Title = "no issue reference"
	fc.PR.HeadBranch = "feature/limiter"

	j := NewJira(&config.JiraFeatureConfig{ProjectKeys: []string{"PROJ"}})
	require.NoError(t, j.Execute(fc))

	st, ok := states.Get(fc.PR.Key())
	require.True(t, ok)
	assert.Empty(t, st.JiraKey)
}
