package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var titleCase = cases.Title(language.English)

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"markdown": renderMarkdown,
	"label":    func(s string) string { return titleCase.String(strings.ReplaceAll(s, "_", " ")) },
	"date":     func(r *GeneratedReport) string { return r.GeneratedAt.Format("2006-01-02 15:04 MST") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 960px; margin: 2rem auto; color: #222; line-height: 1.5; }
.summary { background: #f3f6fa; border-left: 4px solid #3a6ea5; padding: 1rem; }
.insight { border: 1px solid #ddd; border-radius: 4px; padding: 0.75rem; margin: 0.75rem 0; }
.severity-critical { border-left: 4px solid #c0392b; }
.severity-warning { border-left: 4px solid #e69f00; }
.severity-info { border-left: 4px solid #3a6ea5; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 0.4rem; text-align: left; }
.status-pass { color: #1e7b34; font-weight: bold; }
.status-fail { color: #c0392b; font-weight: bold; }
.status-unknown { color: #777; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p><small>Generated {{date .}}</small></p>
<div class="summary">{{markdown .Summary}}</div>
{{if .GateResults}}
<h2>QC Gates</h2>
<table>
<tr><th>Gate</th><th>Status</th><th>Evidence</th></tr>
{{range .GateResults}}<tr><td>{{.GateName}}</td><td class="status-{{.Status}}">{{label .Status}}</td><td>{{.Evidence}}</td></tr>
{{end}}</table>
{{end}}
{{if .Insights}}
<h2>Key Insights</h2>
{{range .Insights}}<div class="insight severity-{{.Severity}}">
<h3>{{.Title}} <small>{{label .Severity}} · {{label .Category}}</small></h3>
{{markdown .Description}}
{{with .Evidence}}<p><strong>Evidence:</strong> {{.}}</p>{{end}}
{{with .Recommendation}}<p><strong>Recommendation:</strong> {{.}}</p>{{end}}
</div>
{{end}}{{end}}
{{range .Sections}}
{{if eq .Level 1}}<h2>{{.Title}}</h2>{{else if eq .Level 2}}<h3>{{.Title}}</h3>{{else}}<h4>{{.Title}}</h4>{{end}}
{{markdown .Content}}
{{end}}
{{with .RankedHypotheses}}
<h2>Prioritized Hypotheses</h2>
<ol>
{{range .}}<li><strong>{{.Hypothesis}}</strong>
<p>{{.Rationale}}</p>
{{if .SupportingEvidence}}<p>Supporting evidence:</p><ul>{{range .SupportingEvidence}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .SuggestedTests}}<p>Suggested tests:</p><ul>{{range .SuggestedTests}}<li>{{.}}</li>{{end}}</ul>{{end}}
</li>
{{end}}</ol>
{{end}}
</body>
</html>
`))

func renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark escapes raw HTML unless configured otherwise.
	return template.HTML(buf.String()), nil
}

// RenderHTML renders the report as a standalone HTML page. Section and insight
// bodies are treated as markdown.
func RenderHTML(r *GeneratedReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMarkdown renders the report as a markdown document.
func RenderMarkdown(r *GeneratedReport) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", r.Title, strings.TrimSpace(r.Summary))
	if len(r.GateResults) > 0 {
		b.WriteString("\n## QC Gates\n\n| Gate | Status | Evidence |\n|---|---|---|\n")
		for _, g := range r.GateResults {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(g.GateName), g.Status, cell(g.Evidence))
		}
	}
	if len(r.Insights) > 0 {
		b.WriteString("\n## Key Insights\n")
		for _, in := range r.Insights {
			fmt.Fprintf(&b, "\n### %s (%s, %s)\n\n%s\n", in.Title, in.Severity, in.Category, strings.TrimSpace(in.Description))
			if in.Evidence != nil {
				fmt.Fprintf(&b, "\n**Evidence:** %s\n", *in.Evidence)
			}
			if in.Recommendation != nil {
				fmt.Fprintf(&b, "\n**Recommendation:** %s\n", *in.Recommendation)
			}
		}
	}
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "\n%s %s\n\n%s\n", strings.Repeat("#", s.Level+1), s.Title, strings.TrimSpace(s.Content))
	}
	if ranked := r.RankedHypotheses(); len(ranked) > 0 {
		b.WriteString("\n## Prioritized Hypotheses\n\n")
		for i, h := range ranked {
			fmt.Fprintf(&b, "%d. **%s**: %s\n", i+1, h.Hypothesis, h.Rationale)
			for _, t := range h.SuggestedTests {
				fmt.Fprintf(&b, "   - test: %s\n", t)
			}
		}
	}
	return []byte(b.String())
}

// Render returns the report in the requested format with its file name and
// content type.
func Render(r *GeneratedReport, format string) ([]byte, string, string, error) {
	switch strings.ToLower(format) {
	case "", FormatHTML:
		data, err := RenderHTML(r)
		return data, "qc_report.html", "text/html; charset=utf-8", err
	case FormatMarkdown, "md":
		return RenderMarkdown(r), "qc_report.md", "text/markdown; charset=utf-8", nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		return data, "qc_report.json", "application/json", err
	default:
		return nil, "", "", fmt.Errorf("unsupported report format %q", format)
	}
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
