package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"aco/internal/logging"
	"aco/internal/notebook"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/llm"
	"aco/internal/strategy"
	"aco/internal/understanding"
)

const maxStdout = 2000

const reportSystem = `You are a senior sequencing QC scientist writing the final report of a QC investigation.
Evaluate every QC gate against the script results: status pass or fail only when the results
contain the evidence, unknown otherwise, and quote the values you used as evidence.
Rank follow-up hypotheses starting at priority 1 for the most likely explanation.
Write section content in markdown. Be concrete and do not invent numbers.`

var draftSchema = llm.MustSchemaFor[draft](map[string][]string{
	"insights.severity":   Severities,
	"gate_results.status": GateStatuses,
})

// Options controls Generate.
type Options struct {
	APIKey string
}

// Generator produces and stores reports.
type Generator struct {
	store         *runs.Store
	understanding *understanding.Engine
	strategy      *strategy.Engine
	planner       *scriptplan.Planner
	notebooks     *notebook.Generator
	llm           llm.Source
	logger        *slog.Logger
	now           func() time.Time
}

// NewGenerator wires the report generator.
func NewGenerator(store *runs.Store, u *understanding.Engine, s *strategy.Engine, planner *scriptplan.Planner, notebooks *notebook.Generator, source llm.Source, logger *slog.Logger) *Generator {
	return &Generator{
		store:         store,
		understanding: u,
		strategy:      s,
		planner:       planner,
		notebooks:     notebooks,
		llm:           source,
		logger:        logging.NewComponentLogger(logger, "report"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Generate writes the run's report, replacing any earlier one. Every strategy
// gate appears in gate_results; gates the model skipped are reported unknown.
func (g *Generator) Generate(ctx context.Context, id string, opts Options) (*GeneratedReport, error) {
	ctx = services.WithStep(services.WithRunID(ctx, id), "report")
	u, err := g.understanding.Get(id)
	if err != nil {
		return nil, err
	}
	s, _ := g.strategy.Get(id)
	plan, _ := g.planner.Get(id)
	if s == nil && plan == nil {
		return nil, services.Wrap(services.ErrConflict, "report", "generate", "generate a strategy or script plan before the report", nil)
	}
	prompt, err := g.prompt(id, u, s, plan)
	if err != nil {
		return nil, err
	}

	client, err := g.llm.Client(opts.APIKey)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, g.logger)
	var reply draft
	req := llm.Request{System: reportSystem, Prompt: prompt, Temperature: 0.3, MaxTokens: 8192}
	if err := client.CompleteStructured(ctx, req, draftSchema, &reply); err != nil {
		logging.WarnWithContext(logger, "report generation failed", "report_generate_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous report kept"),
		)
		return nil, llm.WrapError("report", "generate", err)
	}

	r := &GeneratedReport{
		Title:       strings.TrimSpace(reply.Title),
		Summary:     reply.Summary,
		Sections:    reply.Sections,
		Insights:    reply.Insights,
		Hypotheses:  reply.Hypotheses,
		GateResults: reply.GateResults,
		GeneratedAt: g.now(),
		Format:      FormatHTML,
		ModelUsed:   client.Model(),
	}
	if r.Title == "" {
		r.Title = "QC Report"
	}
	r.normalize(gateNames(s))
	if err := g.save(id, r); err != nil {
		return nil, err
	}
	logger.Info("report generated",
		logging.String(logging.FieldEventType, "report_generated"),
		logging.Int("sections", len(r.Sections)),
		logging.Int("insights", len(r.Insights)),
		logging.Int("gates", len(r.GateResults)),
	)
	return r, nil
}

// Get returns the stored report.
func (g *Generator) Get(id string) (*GeneratedReport, error) {
	var r GeneratedReport
	found, err := g.store.Load(id, runs.KindReport, &r)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, services.Wrap(services.ErrNotFound, "report", "get", "no report generated yet", nil)
	}
	return &r, nil
}

// Replace stores an edited report.
func (g *Generator) Replace(id string, r *GeneratedReport) error {
	if strings.TrimSpace(r.Title) == "" {
		return services.Wrap(services.ErrValidation, "report", "replace", "report needs a title", nil)
	}
	if r.Format == "" {
		r.Format = FormatHTML
	}
	r.normalize(nil)
	return g.save(id, r)
}

// Download renders the stored report in format, returning the bytes, file
// name, and content type.
func (g *Generator) Download(id, format string) ([]byte, string, string, error) {
	r, err := g.Get(id)
	if err != nil {
		return nil, "", "", err
	}
	data, name, contentType, err := Render(r, format)
	if err != nil {
		return nil, "", "", services.Wrap(services.ErrValidation, "report", "download", "render", err)
	}
	return data, name, contentType, nil
}

func (g *Generator) save(id string, r *GeneratedReport) error {
	doc, err := RenderHTML(r)
	if err != nil {
		return err
	}
	if err := g.store.Save(id, runs.KindReport, r); err != nil {
		return err
	}
	_, err = g.store.SaveFile(id, path.Join(runs.ReportDir, "qc_report.html"), doc)
	return err
}

func (g *Generator) prompt(id string, u *understanding.ExperimentUnderstanding, s *strategy.AnalysisStrategy, plan *scriptplan.ScriptPlan) (string, error) {
	encoded, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode understanding: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Experiment Understanding\n\n%s\n", encoded)

	if hyps, _ := g.strategy.GetHypotheses(id); hyps != nil {
		fmt.Fprintf(&b, "\n# User Hypotheses\n\nWhat is wrong: %s\nWhat to prove: %s\n", hyps.WhatIsWrong, hyps.WhatToProve)
		for _, h := range hyps.Hypotheses {
			fmt.Fprintf(&b, "- [%s] %s\n", h.Priority, h.Text)
		}
	}
	if s != nil {
		b.WriteString("\n# QC Gates\n\n")
		for _, gate := range s.GateChecklist {
			fmt.Fprintf(&b, "- %s (%s): pass when %s; fail when %s\n", gate.GateName, gate.Priority, gate.PassCriteria, gate.FailCriteria)
		}
		if s.Summary != "" {
			fmt.Fprintf(&b, "\nStrategy summary: %s\n", s.Summary)
		}
	}
	if plan != nil {
		b.WriteString("\n# Script Results\n")
		for _, sc := range plan.Scripts {
			fmt.Fprintf(&b, "\n## %s (%s)\n%s\n", sc.Name, sc.Category, sc.Description)
			switch r := sc.Result; {
			case r == nil:
				b.WriteString("Not executed.\n")
			case r.Success:
				fmt.Fprintf(&b, "Succeeded. Outputs: %s\nStdout:\n%s\n", strings.Join(r.OutputFiles, ", "), clip(r.Stdout))
			default:
				msg := ""
				if r.ErrorMessage != nil {
					msg = *r.ErrorMessage
				}
				fmt.Fprintf(&b, "Failed (exit %d): %s\nStderr:\n%s\n", r.ExitCode, msg, clip(r.Stderr))
			}
		}
	}
	if g.notebooks != nil {
		if nb, _ := g.notebooks.Get(id); nb != nil {
			fmt.Fprintf(&b, "\n# Analysis Notebook\n\n%s: %s\n", nb.Title, nb.Description)
		}
	}
	b.WriteString("\n# Instructions\n\nWrite the final QC report.")
	return b.String(), nil
}

func gateNames(s *strategy.AnalysisStrategy) []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.GateChecklist))
	for _, gate := range s.GateChecklist {
		names = append(names, gate.GateName)
	}
	return names
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStdout {
		return s
	}
	return s[len(s)-maxStdout:]
}
