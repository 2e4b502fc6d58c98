package report

import (
	"slices"
	"time"
)

// Insight severities.
var Severities = []string{"info", "warning", "critical"}

// Gate statuses.
const (
	GatePass    = "pass"
	GateFail    = "fail"
	GateUnknown = "unknown"
)

// GateStatuses lists every gate status.
var GateStatuses = []string{GatePass, GateFail, GateUnknown}

// Download formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Section is one narrative block. Content is markdown.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content" jsonschema:"Markdown body of the section"`
	Level   int    `json:"level" jsonschema:"Heading level from 1 to 3"`
}

// Insight is a finding worth the reader's attention.
type Insight struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Severity       string  `json:"severity"`
	Category       string  `json:"category" jsonschema:"Area such as barcode, alignment, contamination"`
	Evidence       *string `json:"evidence,omitempty"`
	Recommendation *string `json:"recommendation,omitempty"`
}

// Hypothesis is a follow-up explanation ranked by priority, 1 being highest.
type Hypothesis struct {
	Hypothesis         string   `json:"hypothesis"`
	Priority           int      `json:"priority" jsonschema:"Rank starting at 1 for the most likely explanation"`
	Rationale          string   `json:"rationale"`
	SupportingEvidence []string `json:"supporting_evidence"`
	SuggestedTests     []string `json:"suggested_tests"`
}

// GateResult is the evaluated outcome of one strategy gate.
type GateResult struct {
	GateName string `json:"gate_name"`
	Status   string `json:"status"`
	Evidence string `json:"evidence" jsonschema:"Result values that decided the status"`
}

// GeneratedReport is the final QC report of a run.
type GeneratedReport struct {
	Title       string       `json:"title"`
	Summary     string       `json:"summary"`
	Sections    []Section    `json:"sections"`
	Insights    []Insight    `json:"insights"`
	Hypotheses  []Hypothesis `json:"hypotheses"`
	GateResults []GateResult `json:"gate_results"`
	GeneratedAt time.Time    `json:"generated_at"`
	Format      string       `json:"format"`
	ModelUsed   string       `json:"model_used,omitempty"`
}

// RankedHypotheses returns the hypotheses ordered by priority.
func (r *GeneratedReport) RankedHypotheses() []Hypothesis {
	out := slices.Clone(r.Hypotheses)
	slices.SortStableFunc(out, func(a, b Hypothesis) int { return a.Priority - b.Priority })
	return out
}

type draft struct {
	Title       string       `json:"title"`
	Summary     string       `json:"summary" jsonschema:"Executive summary in two to four sentences"`
	Sections    []Section    `json:"sections"`
	Insights    []Insight    `json:"insights"`
	Hypotheses  []Hypothesis `json:"hypotheses"`
	GateResults []GateResult `json:"gate_results"`
}

func (r *GeneratedReport) normalize(gates []string) {
	if r.Sections == nil {
		r.Sections = []Section{}
	}
	if r.Insights == nil {
		r.Insights = []Insight{}
	}
	if r.Hypotheses == nil {
		r.Hypotheses = []Hypothesis{}
	}
	if r.GateResults == nil {
		r.GateResults = []GateResult{}
	}
	for i := range r.Sections {
		r.Sections[i].Level = min(max(r.Sections[i].Level, 1), 3)
	}
	for i := range r.Insights {
		if !slices.Contains(Severities, r.Insights[i].Severity) {
			r.Insights[i].Severity = "info"
		}
	}
	for i := range r.Hypotheses {
		h := &r.Hypotheses[i]
		if h.Priority < 1 {
			h.Priority = i + 1
		}
		if h.SupportingEvidence == nil {
			h.SupportingEvidence = []string{}
		}
		if h.SuggestedTests == nil {
			h.SuggestedTests = []string{}
		}
	}
	for i := range r.GateResults {
		if !slices.Contains(GateStatuses, r.GateResults[i].Status) {
			r.GateResults[i].Status = GateUnknown
		}
	}
	for _, name := range gates {
		if !slices.ContainsFunc(r.GateResults, func(g GateResult) bool { return g.GateName == name }) {
			r.GateResults = append(r.GateResults, GateResult{GateName: name, Status: GateUnknown, Evidence: "not evaluated"})
		}
	}
}
