package report

import (
	"strings"
	"testing"
	"time"
)

func sampleReport() *GeneratedReport {
	evidence := "Q30 = 71%"
	r := &GeneratedReport{
		Title:   "PBMC QC",
		Summary: "Barcode rank plot shows **low** cell recovery.",
		Sections: []Section{
			{Title: "Read Quality", Content: "- Q30 below target\n- <script>alert(1)</script>", Level: 1},
			{Title: "Details", Content: "text", Level: 2},
		},
		Insights: []Insight{{Title: "Low Q30", Description: "Quality dropped", Severity: "warning", Category: "read_quality", Evidence: &evidence}},
		Hypotheses: []Hypothesis{
			{Hypothesis: "Overloaded flow cell", Priority: 2},
			{Hypothesis: "Wrong chemistry", Priority: 1, SuggestedTests: []string{"check R1 length"}},
		},
		GateResults: []GateResult{{GateName: "q30", Status: GateFail, Evidence: "71% < 80%"}},
		GeneratedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	return r
}

func TestRenderHTML(t *testing.T) {
	data, err := RenderHTML(sampleReport())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"<title>PBMC QC</title>",
		"<strong>low</strong>",
		"<h2>Read Quality</h2>",
		"<h3>Details</h3>",
		"<li>Q30 below target</li>",
		`class="status-fail">Fail</td>`,
		"Warning · Read Quality",
		"<strong>Evidence:</strong> Q30 = 71%",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<script>alert(1)</script>") {
		t.Fatal("raw html in markdown must not pass through")
	}
	first := strings.Index(out, "Wrong chemistry")
	second := strings.Index(out, "Overloaded flow cell")
	if first < 0 || second < 0 || first > second {
		t.Fatal("hypotheses should render in priority order")
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := string(RenderMarkdown(sampleReport()))
	for _, want := range []string{
		"# PBMC QC\n",
		"| q30 | fail | 71% < 80% |",
		"## Read Quality\n",
		"### Details\n",
		"1. **Wrong chemistry**",
		"   - test: check R1 length",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderFormats(t *testing.T) {
	r := sampleReport()
	cases := []struct {
		format string
		name   string
	}{
		{"", "qc_report.html"},
		{"html", "qc_report.html"},
		{"markdown", "qc_report.md"},
		{"json", "qc_report.json"},
	}
	for _, tc := range cases {
		_, name, _, err := Render(r, tc.format)
		if err != nil || name != tc.name {
			t.Fatalf("Render(%q) = %q, %v", tc.format, name, err)
		}
	}
	if _, _, _, err := Render(r, "pdf"); err == nil {
		t.Fatal("expected error for pdf")
	}
}

func TestNormalizeAddsMissingGates(t *testing.T) {
	r := &GeneratedReport{
		Sections:    []Section{{Title: "x", Level: 7}},
		Insights:    []Insight{{Severity: "fatal"}},
		GateResults: []GateResult{{GateName: "q30", Status: "maybe"}},
	}
	r.normalize([]string{"q30", "mapping_rate"})
	if r.Sections[0].Level != 3 || r.Insights[0].Severity != "info" {
		t.Fatalf("unexpected normalization: %+v %+v", r.Sections, r.Insights)
	}
	if len(r.GateResults) != 2 || r.GateResults[0].Status != GateUnknown || r.GateResults[1].GateName != "mapping_rate" {
		t.Fatalf("unexpected gates: %+v", r.GateResults)
	}
}
