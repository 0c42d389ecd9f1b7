package llm

import (
	"encoding/json"
	"strings"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// ExtractStructuredReview parses the model's textual result into a
// validated StructuredReview using a three-tier strategy: direct JSON,
// fenced code block extraction, then a scan for the last well-formed
// top-level object in mixed prose. A nil return with a non-nil error
// means the caller should fall back to freeform posting.
func ExtractStructuredReview(result string) (*model.StructuredReview, error) {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return nil, errors.New(errors.ErrCodeReviewParse, "empty review result")
	}

	// Tier 1: the whole result is JSON.
	if review, ok := tryDecode(trimmed); ok {
		return review, nil
	}

	// Tier 2: a ```json fenced block.
	if block := extractFencedBlock(trimmed); block != "" {
		if review, ok := tryDecode(block); ok {
			return review, nil
		}
	}

	// Tier 3: the last balanced {...} object in mixed output.
	if obj := lastJSONObject(trimmed); obj != "" {
		if review, ok := tryDecode(obj); ok {
			return review, nil
		}
	}

	return nil, errors.New(errors.ErrCodeReviewParse, "no valid structured review in result")
}

// tryDecode decodes and validates one candidate document. Normalizing
// the verdict happens before validation so "Approved" passes.
func tryDecode(candidate string) (*model.StructuredReview, bool) {
	var review model.StructuredReview
	dec := json.NewDecoder(strings.NewReader(candidate))
	if err := dec.Decode(&review); err != nil {
		return nil, false
	}
	review.Verdict = model.NormalizeVerdict(string(review.Verdict))
	if err := review.Validate(); err != nil {
		return nil, false
	}
	return &review, true
}

// extractFencedBlock returns the contents of the first ```json (or
// bare ```) fenced block, or empty.
func extractFencedBlock(text string) string {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end])
	}
	return ""
}

// lastJSONObject scans for the last balanced top-level {...} span,
// respecting strings and escapes so braces inside finding bodies do
// not break the balance.
func lastJSONObject(text string) string {
	var best string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					best = text[start : i+1]
				}
			}
		}
	}
	return best
}
