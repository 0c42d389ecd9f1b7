package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// Slack posts a compact review summary to a Slack incoming webhook.
type Slack struct {
	cfg    *config.SlackFeatureConfig
	client *http.Client
}

// slackMessage is the incoming-webhook payload.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlack builds the Slack notification feature.
func NewSlack(cfg *config.SlackFeatureConfig) *Slack {
	return &Slack{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Slack) Name() string {
	return "slack"
}

func (s *Slack) Phase() Phase {
	return PhasePostReview
}

// ShouldRun requires a completed review and a configured webhook URL.
func (s *Slack) ShouldRun(fc *Context) bool {
	return s.cfg.WebhookURL != "" && fc.Review != nil
}

// Execute sends the review summary to the webhook.
func (s *Slack) Execute(fc *Context) error {
	msg := s.buildMessage(fc)

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to marshal slack message", err)
	}

	req, err := http.NewRequestWithContext(fc.Ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to build slack request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to send slack request", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("slack returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	fc.Log.Debug("Slack notification sent",
		zap.String("pr", fc.PR.Key()),
	)
	return nil
}

// buildMessage renders the review into the Slack attachment format.
func (s *Slack) buildMessage(fc *Context) *slackMessage {
	review := fc.Review

	var emoji, color string
	switch review.Verdict {
	case model.VerdictApprove:
		emoji = ":white_check_mark:"
		color = "good"
	case model.VerdictRequestChanges:
		emoji = ":x:"
		color = "danger"
	default:
		emoji = ":speech_balloon:"
		color = "#439FE0"
	}

	blocking := 0
	for _, f := range review.Findings {
		if f.Blocking {
			blocking++
		}
	}

	fields := []slackField{
		{Title: "Repository", Value: fc.PR.FullRepo(), Short: true},
		{Title: "PR", Value: fmt.Sprintf("#%d %s", fc.PR.Number, fc.PR.Title), Short: true},
		{Title: "Verdict", Value: string(review.Verdict), Short: true},
		{Title: "Findings", Value: fmt.Sprintf("%d (%d blocking)", len(review.Findings), blocking), Short: true},
	}
	if review.Summary != "" {
		fields = append(fields, slackField{
			Title: "Summary",
			Value: truncate(review.Summary, 500),
			Short: false,
		})
	}

	return &slackMessage{
		Text: fmt.Sprintf("%s *Review %s* for %s#%d", emoji, review.Verdict, fc.PR.FullRepo(), fc.PR.Number),
		Attachments: []slackAttachment{
			{
				Color:     color,
				Title:     fmt.Sprintf("Code review: %s", fc.PR.Title),
				Fields:    fields,
				Footer:    "PRPatrol",
				Timestamp: time.Now().Unix(),
			},
		},
	}
}

// truncate bounds text to maxLen with an ellipsis.
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-3] + "..."
}
