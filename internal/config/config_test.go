package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
forge:
  type: github
  token: tok-123
repositories:
  - acme/widgets
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxDiffLines, cfg.Review.MaxDiffLines)
	assert.Equal(t, DefaultMaxConcurrentReviews, cfg.Review.MaxConcurrentReviews)
	assert.Equal(t, DefaultMaxReviewHistory, cfg.Review.MaxReviewHistory)
	assert.True(t, cfg.Review.SkipDrafts)
	assert.Equal(t, "claude", cfg.LLM.Client)
	assert.Equal(t, ModeBoth, cfg.Server.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("PRPATROL_TEST_TOKEN", "secret-token")

	path := writeConfig(t, `
forge:
  type: github
  token: ${PRPATROL_TEST_TOKEN}
  url: ${PRPATROL_TEST_URL:-https://github.example.com}
repositories:
  - acme/widgets
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", cfg.Forge.Token)
	assert.Equal(t, "https://github.example.com", cfg.Forge.URL)
	// Only the variable that supplied a value is locked; the default
	// fallback is not environment-sourced.
	assert.Equal(t, []string{"PRPATROL_TEST_TOKEN"}, cfg.LockedKeys())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Forge.Token = "tok"
		cfg.Repositories = []string{"acme/widgets"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no repos", func(c *Config) { c.Repositories = nil }, "repository"},
		{"malformed repo", func(c *Config) { c.Repositories = []string{"acme"} }, "owner/name"},
		{"no token", func(c *Config) { c.Forge.Token = " " }, "token"},
		{"bad forge type", func(c *Config) { c.Forge.Type = "bitbucket" }, "forge type"},
		{"bad mode", func(c *Config) { c.Server.Mode = "hybrid" }, "mode"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"zero diff lines", func(c *Config) { c.Review.MaxDiffLines = 0 }, "max_diff_lines"},
		{"zero concurrency", func(c *Config) { c.Review.MaxConcurrentReviews = 0 }, "max_concurrent_reviews"},
		{"bad trigger regexp", func(c *Config) { c.Review.CommentTrigger = "(" }, "comment_trigger"},
		{"dashboard without secret", func(c *Config) { c.Dashboard.Enabled = true }, "jwt_secret"},
		{"dashboard short secret", func(c *Config) {
			c.Dashboard.Enabled = true
			c.Dashboard.Auth.JWTSecret = "short"
		}, "jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Forge.Token = "tok"
	cfg.Forge.WebhookSecret = "hook"
	cfg.LLM.APIKey = "key"
	cfg.Features.Jira.Token = "jira"
	cfg.Features.Slack.WebhookURL = "https://hooks.slack.com/x"
	cfg.Dashboard.Auth.JWTSecret = "jwt-secret-jwt-secret-jwt-secret"
	cfg.Dashboard.Auth.PasswordHash = "$2a$10$abcdefghijklmnopqrstuvwxyz012345678901234567890123456"

	red := cfg.Redacted()

	assert.Equal(t, maskedValue, red.Forge.Token)
	assert.Equal(t, maskedValue, red.Forge.WebhookSecret)
	assert.Equal(t, maskedValue, red.LLM.APIKey)
	assert.Equal(t, maskedValue, red.Features.Jira.Token)
	assert.Equal(t, maskedValue, red.Features.Slack.WebhookURL)
	assert.Equal(t, maskedValue, red.Dashboard.Auth.JWTSecret)
	assert.Equal(t, maskedValue, red.Dashboard.Auth.PasswordHash)

	// Original must be untouched.
	assert.Equal(t, "tok", cfg.Forge.Token)
}

func TestTrackedRepos(t *testing.T) {
	cfg := Default()
	cfg.Repositories = []string{"acme/widgets", "acme/gadgets", "broken"}

	repos := cfg.TrackedRepos()
	require.Len(t, repos, 2)
	assert.Equal(t, Repo{Owner: "acme", Name: "widgets"}, repos[0])
	assert.Equal(t, "acme/gadgets", repos[1].FullName())

	assert.True(t, cfg.IsTracked("acme", "widgets"))
	assert.False(t, cfg.IsTracked("acme", "sprockets"))
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, "English", ParseLanguage("").PromptInstruction())
	assert.Equal(t, "English", ParseLanguage("not-a-language-!!").PromptInstruction())
	assert.Equal(t, "Chinese (Simplified Chinese preferred)", ParseLanguage("zh-CN").PromptInstruction())
	assert.Equal(t, "ja", ParseLanguage("ja").String())
}

func TestIsValidBcryptHash(t *testing.T) {
	assert.True(t, IsValidBcryptHash("$2a$10$abcdefghijklmnopqrstuvwxyz012345678901234567890123456"))
	assert.False(t, IsValidBcryptHash("plaintext"))
	assert.False(t, IsValidBcryptHash("$2a$10$short"))
}
