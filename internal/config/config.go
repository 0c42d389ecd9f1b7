// Package config provides configuration management for the application.
// It supports a single YAML configuration file with environment variable
// expansion; values sourced from the environment are authoritative and
// reported as locked to the dashboard.
package config

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/prpatrol/prpatrol/pkg/logger"
	"github.com/prpatrol/prpatrol/pkg/telemetry"
)

// Default configuration values
const (
	DefaultMaxDiffLines           = 5000
	DefaultMaxConcurrentReviews   = 3
	DefaultDebouncePeriodSeconds  = 120
	DefaultMaxRetries             = 3
	DefaultMaxReviewHistory       = 10
	DefaultReviewTimeoutMinutes   = 10
	DefaultMaxTurns               = 30
	DefaultPollingIntervalSeconds = 300
	DefaultStaleClosedDays        = 7
	DefaultStaleErrorDays         = 14
	DefaultCommentVerifyMinutes   = 60
	DefaultWorktreeMaxAgeMinutes  = 240
	DefaultArchiveRetentionDays   = 90
	DefaultAuditMaxEntries        = 10000
	DefaultTokenTTLMinutes        = 12 * 60
	DefaultOTLPEndpoint           = "localhost:4317"
	DefaultPrometheusPort         = 9090

	defaultStateFile    = "./data/state.json"
	defaultAuditFile    = "./data/audit.jsonl"
	defaultCloneDir     = "./data/clones"
	defaultDatabaseFile = "./data/prpatrol.db"
	defaultCommentTag   = "<!-- prpatrol -->"
	defaultTrigger      = `^/review\b`
)

// Run modes for the server section.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
	ModeBoth    = "both"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig     `yaml:"server"`
	Logging      logger.Config    `yaml:"logging"`
	Telemetry    telemetry.Config `yaml:"telemetry"`
	Forge        ForgeConfig      `yaml:"forge"`
	Repositories []string         `yaml:"repositories"` // "owner/name"
	Review       ReviewConfig     `yaml:"review"`
	LLM          LLMConfig        `yaml:"llm"`
	Features     FeaturesConfig   `yaml:"features"`
	Dashboard    DashboardConfig  `yaml:"dashboard"`
	Storage      StorageConfig    `yaml:"storage"`

	// lockedKeys are the environment variable names that supplied
	// values during expansion. The dashboard reports the touched
	// fields read-only.
	lockedKeys []string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Debug       bool     `yaml:"debug"`
	Mode        string   `yaml:"mode"` // polling, webhook, both
	CORSOrigins []string `yaml:"cors_origins"`
}

// ForgeConfig holds the Git forge connection settings
type ForgeConfig struct {
	Type               string `yaml:"type"`                 // github, gitea, gitlab
	URL                string `yaml:"url"`                  // for self-hosted instances
	Token              string `yaml:"token" sensitive:"true"`
	WebhookSecret      string `yaml:"webhook_secret" sensitive:"true"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ReviewConfig holds review process configuration
type ReviewConfig struct {
	MaxDiffLines          int  `yaml:"max_diff_lines"`
	MaxConcurrentReviews  int  `yaml:"max_concurrent_reviews"`
	DebouncePeriodSeconds int  `yaml:"debounce_period_seconds"`
	MaxRetries            int  `yaml:"max_retries"`
	MaxReviewHistory      int  `yaml:"max_review_history"`
	ReviewTimeoutMinutes  int  `yaml:"review_timeout_minutes"`
	MaxTurns              int  `yaml:"max_turns"`
	SkipDrafts            bool `yaml:"skip_drafts"`
	SkipWip               bool `yaml:"skip_wip"`
	DryRun                bool `yaml:"dry_run"`
	CodebaseAccess        bool `yaml:"codebase_access"`

	ExcludePaths  []string `yaml:"exclude_paths"`
	SecurityPaths []string `yaml:"security_paths"`

	CommentTag     string `yaml:"comment_tag"`
	CommentTrigger string `yaml:"comment_trigger"`
	OutputLanguage string `yaml:"output_language"` // ISO 639-1 code, e.g. en, zh-cn

	PollingIntervalSeconds       int `yaml:"polling_interval_seconds"`
	CommentVerifyIntervalMinutes int `yaml:"comment_verify_interval_minutes"`
	StaleClosedDays              int `yaml:"stale_closed_days"`
	StaleErrorDays               int `yaml:"stale_error_days"`
	WorktreeMaxAgeMinutes        int `yaml:"worktree_max_age_minutes"`
	ArchiveRetentionDays         int `yaml:"archive_retention_days"`
}

// LLMConfig holds LLM CLI client configuration
type LLMConfig struct {
	Client    string `yaml:"client"`   // registered client name, default "claude"
	CLIPath   string `yaml:"cli_path"` // path to the CLI binary
	Model     string `yaml:"model"`
	ExtraArgs string `yaml:"extra_args"`
	APIKey    string `yaml:"api_key" sensitive:"true"`
}

// FeaturesConfig holds feature plugin toggles and settings
type FeaturesConfig struct {
	Jira        JiraFeatureConfig        `yaml:"jira"`
	Description DescriptionFeatureConfig `yaml:"description"`
	Labels      LabelsFeatureConfig      `yaml:"labels"`
	Slack       SlackFeatureConfig       `yaml:"slack"`
}

// JiraFeatureConfig configures the Jira issue-key extraction feature
type JiraFeatureConfig struct {
	Enabled     bool     `yaml:"enabled"`
	URL         string   `yaml:"url"`
	Token       string   `yaml:"token" sensitive:"true"`
	ProjectKeys []string `yaml:"project_keys"`
}

// DescriptionFeatureConfig configures the auto-description feature
type DescriptionFeatureConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LabelsFeatureConfig configures the auto-labeling feature
type LabelsFeatureConfig struct {
	Enabled bool     `yaml:"enabled"`
	Allowed []string `yaml:"allowed"`
}

// SlackFeatureConfig configures the Slack notification feature
type SlackFeatureConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" sensitive:"true"`
}

// DashboardConfig holds dashboard API configuration
type DashboardConfig struct {
	Enabled bool                `yaml:"enabled"`
	Auth    DashboardAuthConfig `yaml:"auth"`
}

// DashboardAuthConfig holds dashboard authentication settings
type DashboardAuthConfig struct {
	Username        string `yaml:"username"`
	PasswordHash    string `yaml:"password_hash" sensitive:"true"` // bcrypt hash
	JWTSecret       string `yaml:"jwt_secret" sensitive:"true"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// StorageConfig holds file and database locations
type StorageConfig struct {
	StateFile       string `yaml:"state_file"`
	AuditFile       string `yaml:"audit_file"`
	CloneDir        string `yaml:"clone_dir"`
	DatabaseFile    string `yaml:"database_file"`
	AuditMaxEntries int    `yaml:"audit_max_entries"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:  "0.0.0.0",
			Port:  8080,
			Debug: false,
			Mode:  ModeBoth,
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   false,
		},
		Telemetry: telemetry.Config{
			Enabled: false,
			OTLP: telemetry.OTLPConfig{
				Enabled:  false,
				Endpoint: DefaultOTLPEndpoint,
				Insecure: true,
			},
			Prometheus: telemetry.PrometheusConfig{
				Enabled: false,
				Port:    DefaultPrometheusPort,
			},
		},
		Forge: ForgeConfig{
			Type: "github",
		},
		Review: ReviewConfig{
			MaxDiffLines:                 DefaultMaxDiffLines,
			MaxConcurrentReviews:         DefaultMaxConcurrentReviews,
			DebouncePeriodSeconds:        DefaultDebouncePeriodSeconds,
			MaxRetries:                   DefaultMaxRetries,
			MaxReviewHistory:             DefaultMaxReviewHistory,
			ReviewTimeoutMinutes:         DefaultReviewTimeoutMinutes,
			MaxTurns:                     DefaultMaxTurns,
			SkipDrafts:                   true,
			SkipWip:                      true,
			CodebaseAccess:               true,
			CommentTag:                   defaultCommentTag,
			CommentTrigger:               defaultTrigger,
			PollingIntervalSeconds:       DefaultPollingIntervalSeconds,
			CommentVerifyIntervalMinutes: DefaultCommentVerifyMinutes,
			StaleClosedDays:              DefaultStaleClosedDays,
			StaleErrorDays:               DefaultStaleErrorDays,
			WorktreeMaxAgeMinutes:        DefaultWorktreeMaxAgeMinutes,
			ArchiveRetentionDays:         DefaultArchiveRetentionDays,
		},
		LLM: LLMConfig{
			Client: "claude",
		},
		Dashboard: DashboardConfig{
			Auth: DashboardAuthConfig{
				Username:        "admin",
				TokenTTLMinutes: DefaultTokenTTLMinutes,
			},
		},
		Storage: StorageConfig{
			StateFile:       defaultStateFile,
			AuditFile:       defaultAuditFile,
			CloneDir:        defaultCloneDir,
			DatabaseFile:    defaultDatabaseFile,
			AuditMaxEntries: DefaultAuditMaxEntries,
		},
	}
}

// Load loads configuration from a YAML file with environment variable
// expansion. Values supplied by the environment are recorded as locked.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded, locked := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.lockedKeys = locked

	return cfg, nil
}

// envVarRe matches ${VAR_NAME} and ${VAR_NAME:-default} only. Bare
// $VAR is left alone so bcrypt hashes survive expansion.
var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} patterns with environment values and
// returns the names of the variables that actually supplied a value.
func expandEnvVars(content string) (string, []string) {
	used := make(map[string]bool)

	expanded := envVarRe.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		// Support default values: ${VAR_NAME:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]

		if value := os.Getenv(varName); value != "" {
			used[varName] = true
			return value
		}
		if len(parts) > 1 {
			return parts[1]
		}
		return ""
	})

	locked := make([]string, 0, len(used))
	for name := range used {
		locked = append(locked, name)
	}
	sort.Strings(locked)
	return expanded, locked
}

// LockedKeys returns the environment variable names that supplied
// configuration values. The dashboard treats fields they touched as
// read-only.
func (c *Config) LockedKeys() []string {
	return append([]string(nil), c.lockedKeys...)
}

// Address returns the server address string
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// PollingEnabled reports whether the poll loop should run.
func (c *ServerConfig) PollingEnabled() bool {
	return c.Mode == ModePolling || c.Mode == ModeBoth || c.Mode == ""
}

// WebhookEnabled reports whether the webhook ingress should run.
func (c *ServerConfig) WebhookEnabled() bool {
	return c.Mode == ModeWebhook || c.Mode == ModeBoth || c.Mode == ""
}

// Repo is one tracked repository.
type Repo struct {
	Owner string
	Name  string
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// TrackedRepos parses the repositories list into owner/name pairs,
// skipping malformed entries. Validation rejects them earlier, so a
// skip here only happens on a hand-edited file.
func (c *Config) TrackedRepos() []Repo {
	repos := make([]Repo, 0, len(c.Repositories))
	for _, full := range c.Repositories {
		owner, name, ok := strings.Cut(full, "/")
		if !ok || owner == "" || name == "" {
			continue
		}
		repos = append(repos, Repo{Owner: owner, Name: name})
	}
	return repos
}

// IsTracked reports whether owner/repo is in the tracked set.
func (c *Config) IsTracked(owner, repo string) bool {
	full := owner + "/" + repo
	for _, r := range c.Repositories {
		if r == full {
			return true
		}
	}
	return false
}
