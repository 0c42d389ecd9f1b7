package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prpatrol/prpatrol/pkg/errors"
)

// MinJWTSecretLength is the minimum JWT secret length (256 bits for HS256).
const MinJWTSecretLength = 32

// maskedValue replaces sensitive fields on egress.
const maskedValue = "********"

// Validate checks the configuration for fatal errors. The process must
// not start when it returns non-nil.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "at least one tracked repository is required")
	}
	for _, full := range c.Repositories {
		owner, name, ok := strings.Cut(full, "/")
		if !ok || owner == "" || name == "" {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("repository %q is not in owner/name form", full))
		}
	}

	switch c.Forge.Type {
	case "github", "gitea", "gitlab":
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown forge type %q (expected github, gitea or gitlab)", c.Forge.Type))
	}
	if strings.TrimSpace(c.Forge.Token) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "forge token is required")
	}

	switch c.Server.Mode {
	case "", ModePolling, ModeWebhook, ModeBoth:
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown server mode %q (expected polling, webhook or both)", c.Server.Mode))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("server port %d out of range", c.Server.Port))
	}

	if c.Review.MaxDiffLines < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "review.max_diff_lines must be positive")
	}
	if c.Review.MaxConcurrentReviews < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "review.max_concurrent_reviews must be positive")
	}
	if c.Review.MaxRetries < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "review.max_retries must be positive")
	}
	if c.Review.MaxReviewHistory < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "review.max_review_history must be positive")
	}
	if c.Review.CommentTrigger != "" {
		if _, err := regexp.Compile(c.Review.CommentTrigger); err != nil {
			return errors.Wrap(errors.ErrCodeConfigInvalid, "review.comment_trigger is not a valid regexp", err)
		}
	}

	if c.Dashboard.Enabled {
		auth := c.Dashboard.Auth
		if strings.TrimSpace(auth.JWTSecret) == "" {
			return errors.New(errors.ErrCodeJWTSecretInvalid,
				"dashboard.auth.jwt_secret is required when the dashboard is enabled")
		}
		if len(auth.JWTSecret) < MinJWTSecretLength {
			return errors.New(errors.ErrCodeJWTSecretInvalid,
				fmt.Sprintf("dashboard.auth.jwt_secret must be at least %d characters (HS256 requires 256 bits)", MinJWTSecretLength))
		}
		if auth.PasswordHash != "" && !IsValidBcryptHash(auth.PasswordHash) {
			return errors.New(errors.ErrCodeConfigInvalid,
				"dashboard.auth.password_hash is not a bcrypt hash")
		}
	}

	return nil
}

// IsValidBcryptHash checks whether a string looks like a bcrypt hash
// ($2a$, $2b$ or $2y$ prefix, 60 characters minimum).
func IsValidBcryptHash(hash string) bool {
	if len(hash) < 60 {
		return false
	}
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}

// Redacted returns a copy of the configuration with every sensitive
// field masked, safe to serve through the dashboard API or log.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Forge.Token != "" {
		out.Forge.Token = maskedValue
	}
	if out.Forge.WebhookSecret != "" {
		out.Forge.WebhookSecret = maskedValue
	}
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = maskedValue
	}
	if out.Features.Jira.Token != "" {
		out.Features.Jira.Token = maskedValue
	}
	if out.Features.Slack.WebhookURL != "" {
		out.Features.Slack.WebhookURL = maskedValue
	}
	if out.Dashboard.Auth.PasswordHash != "" {
		out.Dashboard.Auth.PasswordHash = maskedValue
	}
	if out.Dashboard.Auth.JWTSecret != "" {
		out.Dashboard.Auth.JWTSecret = maskedValue
	}
	return &out
}
