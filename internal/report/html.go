package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/consts"
)

var reviewTmpl = template.Must(template.New("review").Funcs(template.FuncMap{
	"verdictLabel": verdictLabel,
	"verdictClass": verdictClass,
	"formatTime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04 UTC")
	},
	"formatCost": func(c float64) string {
		return fmt.Sprintf("$%.4f", c)
	},
}).Parse(reviewPage))

type reviewPageData struct {
	Service   string
	Archive   *model.ReviewArchive
	PR        string
	ShortSha  string
	Generated time.Time
}

// renderHTML builds the standalone review page. All archive values go
// through html/template's contextual escaping.
func renderHTML(archive *model.ReviewArchive) ([]byte, error) {
	sha := archive.Sha
	if len(sha) > 8 {
		sha = sha[:8]
	}
	data := reviewPageData{
		Service:   consts.DisplayName,
		Archive:   archive,
		PR:        fmt.Sprintf("%s/%s#%d", archive.Owner, archive.Repo, archive.Number),
		ShortSha:  sha,
		Generated: time.Now(),
	}
	var buf bytes.Buffer
	if err := reviewTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func verdictLabel(verdict string) string {
	switch verdict {
	case string(model.VerdictApprove):
		return "Approved"
	case string(model.VerdictRequestChanges):
		return "Changes requested"
	case string(model.VerdictComment):
		return "Commented"
	default:
		return "Unknown"
	}
}

func verdictClass(verdict string) string {
	switch verdict {
	case string(model.VerdictApprove):
		return "approve"
	case string(model.VerdictRequestChanges):
		return "request-changes"
	case string(model.VerdictComment):
		return "comment"
	default:
		return "unknown"
	}
}

const reviewPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Service}} review — {{.PR}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; color: #1f2328; margin: 2rem auto; max-width: 52rem; padding: 0 1rem; }
  h1 { font-size: 1.4rem; border-bottom: 1px solid #d1d9e0; padding-bottom: .5rem; }
  .meta { color: #59636e; font-size: .85rem; margin-bottom: 1.5rem; }
  .meta code { background: #f6f8fa; padding: .1rem .3rem; border-radius: 4px; }
  .verdict { display: inline-block; padding: .2rem .6rem; border-radius: 1rem; font-weight: 600; font-size: .85rem; }
  .verdict-approve { background: #dafbe1; color: #116329; }
  .verdict-request-changes { background: #ffebe9; color: #a40e26; }
  .verdict-comment, .verdict-unknown { background: #ddf4ff; color: #0a3069; }
  .summary { background: #f6f8fa; border-left: 4px solid #d1d9e0; padding: .75rem 1rem; margin: 1rem 0; white-space: pre-wrap; }
  table { border-collapse: collapse; width: 100%; font-size: .9rem; }
  th, td { border: 1px solid #d1d9e0; padding: .4rem .6rem; text-align: left; vertical-align: top; }
  th { background: #f6f8fa; }
  td.loc { white-space: nowrap; font-family: ui-monospace, monospace; font-size: .85rem; }
  .blocking { color: #a40e26; font-weight: 600; }
  .usage { margin-top: 2rem; color: #59636e; font-size: .85rem; }
  footer { margin-top: 3rem; color: #8c959f; font-size: .75rem; border-top: 1px solid #d1d9e0; padding-top: .5rem; }
  @media print { body { margin: 0; max-width: none; } }
</style>
</head>
<body>
<h1>Code review: {{.PR}}</h1>
<div class="meta">
  Commit <code>{{.ShortSha}}</code> · reviewed {{formatTime .Archive.CreatedAt}}
  {{- if not .Archive.Posted}} · <em>dry run, not posted</em>{{end}}
</div>

<p><span class="verdict verdict-{{verdictClass .Archive.Verdict}}">{{verdictLabel .Archive.Verdict}}</span></p>

{{if .Archive.Summary}}<div class="summary">{{.Archive.Summary}}</div>{{end}}

{{if .Archive.Findings}}
<h2>Findings ({{len .Archive.Findings}})</h2>
<table>
  <tr><th>Location</th><th>Severity</th><th>Comment</th></tr>
  {{range .Archive.Findings}}
  <tr>
    <td class="loc">{{.Path}}:{{.Line}}</td>
    <td>{{if .Blocking}}<span class="blocking">{{.Severity}} (blocking)</span>{{else}}{{.Severity}}{{end}}</td>
    <td>{{.Body}}</td>
  </tr>
  {{end}}
</table>
{{else}}
<p>No findings were reported for this revision.</p>
{{end}}

<div class="usage">
  {{if .Archive.Model}}Model {{.Archive.Model}} · {{end}}{{.Archive.InputTokens}} in / {{.Archive.OutputTokens}} out tokens
  · {{formatCost .Archive.CostUSD}} · {{.Archive.NumTurns}} turns
</div>

<footer>Generated by {{.Service}} on {{formatTime .Generated}} · archive {{.Archive.ID}}</footer>
</body>
</html>
`
