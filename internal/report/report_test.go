package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prpatrol/prpatrol/internal/model"
)

func sampleArchive() *model.ReviewArchive {
	return &model.ReviewArchive{
		ID:        "cabc123def456ghi789j",
		CreatedAt: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Owner:     "acme",
		Repo:      "widgets",
		Number:    42,
		Sha:       "abc1234deadbeef",
		Verdict:   string(model.VerdictRequestChanges),
		Summary:   "Two blocking problems in the retry path.",
		Findings: model.FindingList{
			{Severity: model.SeverityIssue, Blocking: true, Path: "internal/retry.go", Line: 18, Body: "unchecked error"},
			{Severity: model.SeveritySuggestion, Path: "internal/retry.go", Line: 30, Body: "extract helper"},
		},
		Posted:       true,
		InputTokens:  1200,
		OutputTokens: 340,
		CostUSD:      0.0421,
		Model:        "claude-sonnet-4",
		NumTurns:     6,
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := renderHTML(sampleArchive())
	require.NoError(t, err)

	s := string(html)
	assert.Contains(t, s, "acme/widgets#42")
	assert.Contains(t, s, "abc1234d") // short sha
	assert.Contains(t, s, "Changes requested")
	assert.Contains(t, s, "verdict-request-changes")
	assert.Contains(t, s, "internal/retry.go:18")
	assert.Contains(t, s, "issue (blocking)")
	assert.Contains(t, s, "$0.0421")
	assert.Contains(t, s, "2025-03-14 09:30 UTC")
	assert.NotContains(t, s, "dry run")
}

func TestRenderHTMLEscapesFindingBodies(t *testing.T) {
	a := sampleArchive()
	a.Findings = model.FindingList{
		{Severity: model.SeverityIssue, Path: "a.go", Line: 1, Body: `<script>alert("x")</script>`},
	}
	html, err := renderHTML(a)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<script>alert")
	assert.Contains(t, string(html), "&lt;script&gt;")
}

func TestRenderHTMLDryRunAndNoFindings(t *testing.T) {
	a := sampleArchive()
	a.Posted = false
	a.Findings = nil
	a.Verdict = string(model.VerdictApprove)

	html, err := renderHTML(a)
	require.NoError(t, err)
	assert.Contains(t, string(html), "dry run, not posted")
	assert.Contains(t, string(html), "No findings were reported")
	assert.Contains(t, string(html), "Approved")
}

func TestExportFallsBackToHTMLWithoutChrome(t *testing.T) {
	e := NewExporter()
	e.findChrome = func() string { return "" }

	data, contentType, err := e.Export(context.Background(), sampleArchive())
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Contains(t, string(data), "acme/widgets#42")
}

func TestChromePathHonorsEnvOverride(t *testing.T) {
	t.Setenv("CHROME_PATH", "/definitely/not/a/browser")
	assert.Empty(t, chromePath())
}

func TestVerdictHelpers(t *testing.T) {
	assert.Equal(t, "Approved", verdictLabel(string(model.VerdictApprove)))
	assert.Equal(t, "Unknown", verdictLabel("garbage"))
	assert.Equal(t, "request-changes", verdictClass(string(model.VerdictRequestChanges)))
	assert.Equal(t, "unknown", verdictClass(""))
}
