package llm

import (
	"encoding/json"
	"strings"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// Envelope is the JSON document the CLI emits on stdout in
// --output-format json mode. Result carries the model's textual answer,
// which may or may not itself be JSON.
type Envelope struct {
	Result        string  `json:"result"`
	IsError       bool    `json:"is_error"`
	SessionID     string  `json:"session_id"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	CacheCreation int64   `json:"cache_creation_input_tokens"`
	CacheRead     int64   `json:"cache_read_input_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	Model         string  `json:"model"`
	NumTurns      int     `json:"num_turns"`
	DurationMS    int64   `json:"duration_ms"`
	DurationAPIMS int64   `json:"duration_api_ms"`
}

// Usage converts the envelope accounting fields into the model type
// recorded with the review.
func (e *Envelope) Usage() model.ReviewUsage {
	return model.ReviewUsage{
		InputTokens:              e.InputTokens,
		OutputTokens:             e.OutputTokens,
		CacheCreationInputTokens: e.CacheCreation,
		CacheReadInputTokens:     e.CacheRead,
		CostUSD:                  e.CostUSD,
		Model:                    e.Model,
		NumTurns:                 e.NumTurns,
		DurationMS:               e.DurationMS,
		DurationAPIMS:            e.DurationAPIMS,
	}
}

// ParseEnvelope decodes the CLI stdout into an Envelope. Some CLI
// versions print progress lines before the final JSON document, so a
// direct decode is retried from the first '{'.
func ParseEnvelope(output string) (*Envelope, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, errors.New(errors.ErrCodeReviewParse, "empty CLI output")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil {
		return &env, nil
	}

	if idx := strings.Index(trimmed, "{"); idx > 0 {
		if err := json.Unmarshal([]byte(trimmed[idx:]), &env); err == nil {
			return &env, nil
		}
	}
	return nil, errors.New(errors.ErrCodeReviewParse, "CLI output is not a JSON envelope")
}

// Rate-limit / spending-limit / auth signal patterns in envelope
// results and stderr. Matching is case-insensitive.
var (
	spendingLimitPatterns = []string{
		"spending limit",
		"credit balance",
		"usage limit reached",
		"monthly limit",
	}
	rateLimitPatterns = []string{
		"rate limit",
		"rate-limit",
		"too many requests",
		"overloaded",
		"429",
	}
	authPatterns = []string{
		"not logged in",
		"authentication failed",
		"invalid api key",
		"unauthorized",
		"please run /login",
	}
)

// ClassifyFailure maps an error-result envelope (or raw stderr text)
// onto the LLM error code the coordinator reports to the rate limit
// guard. Unrecognized failures are generic review-run errors.
func ClassifyFailure(text string) errors.ErrorCode {
	lower := strings.ToLower(text)
	for _, p := range spendingLimitPatterns {
		if strings.Contains(lower, p) {
			return errors.ErrCodeLLMSpendingLimit
		}
	}
	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return errors.ErrCodeLLMRateLimit
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(lower, p) {
			return errors.ErrCodeLLMAuth
		}
	}
	return errors.ErrCodeReviewRun
}
