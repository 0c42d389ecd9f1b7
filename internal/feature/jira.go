package feature

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// Jira extracts an issue key from the PR title or head branch and
// validates it against the Jira REST API.
type Jira struct {
	cfg    *config.JiraFeatureConfig
	client *http.Client
}

// NewJira builds the Jira feature.
func NewJira(cfg *config.JiraFeatureConfig) *Jira {
	return &Jira{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (j *Jira) Name() string {
	return "jira"
}

func (j *Jira) Phase() Phase {
	return PhasePreReview
}

// ShouldRun skips PRs whose key was already extracted and validated.
func (j *Jira) ShouldRun(fc *Context) bool {
	if len(j.cfg.ProjectKeys) == 0 {
		return false
	}
	return fc.State == nil || !fc.State.JiraValidated
}

// Execute finds the issue key, validates it when a Jira URL is
// configured, and records the result in the PR state.
func (j *Jira) Execute(fc *Context) error {
	key := j.extractKey(fc.PR.Title)
	if key == "" {
		key = j.extractKey(fc.PR.HeadBranch)
	}
	if key == "" {
		fc.Log.Debug("No Jira key found",
			zap.String("pr", fc.PR.Key()),
		)
		return nil
	}

	validated := false
	if j.cfg.URL != "" {
		ok, err := j.validate(fc, key)
		if err != nil {
			return err
		}
		validated = ok
	}

	_, err := fc.States.Update(fc.PR.Key(), func(st *model.PRState) {
		st.JiraKey = key
		st.JiraValidated = validated
	})
	if err != nil {
		return err
	}

	fc.Log.Info("Jira key recorded",
		zap.String("pr", fc.PR.Key()),
		zap.String("jira_key", key),
		zap.Bool("validated", validated),
	)
	return nil
}

// extractKey scans text for the first issue key matching a configured
// project prefix.
func (j *Jira) extractKey(text string) string {
	if text == "" {
		return ""
	}
	upper := strings.ToUpper(text)
	for _, project := range j.cfg.ProjectKeys {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToUpper(project)) + `-\d+\b`)
		if match := re.FindString(upper); match != "" {
			return match
		}
	}
	return ""
}

// validate probes the Jira issue endpoint. A 404 means the key does not
// resolve; that is a negative validation, not an error.
func (j *Jira) validate(fc *Context, key string) (bool, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=summary", strings.TrimSuffix(j.cfg.URL, "/"), key)

	req, err := http.NewRequestWithContext(fc.Ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, "failed to build jira request", err)
	}
	if j.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+j.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, "jira request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var issue struct {
			Key string `json:"key"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &issue); err != nil {
			return false, errors.Wrap(errors.ErrCodeInternal, "failed to parse jira response", err)
		}
		return strings.EqualFold(issue.Key, key), nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("jira returned status %d for %s", resp.StatusCode, key))
	}
}
