package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"aco/internal/scriptplan"
)

const maxContextBytes = 24 << 10

// artifactContext describes the current state of the step for the prompt.
func (s *Service) artifactContext(id, step string) string {
	var b strings.Builder
	switch step {
	case StepIntake:
		b.WriteString("## Current Intake Information\n")
		m, err := s.manifests.Get(id)
		if err != nil {
			b.WriteString("No intake information available yet.")
			break
		}
		in := m.UserIntake
		fmt.Fprintf(&b, "Description: %s\n", in.ExperimentDescription)
		if in.Goals != nil {
			fmt.Fprintf(&b, "Goals: %s\n", *in.Goals)
		}
		if in.KnownIssues != nil {
			fmt.Fprintf(&b, "Known issues: %s\n", *in.KnownIssues)
		}
	case StepScanning:
		b.WriteString("## Scan Results\n")
		m, err := s.manifests.Get(id)
		if err != nil || m.ScanResult == nil {
			b.WriteString("No scan results available yet.")
			break
		}
		sr := m.ScanResult
		fmt.Fprintf(&b, "Scanned path: %s\n", sr.ScanPath)
		fmt.Fprintf(&b, "Total files: %d (%s)\n", sr.TotalFiles, sr.TotalSizeHuman)
		fmt.Fprintf(&b, "FASTQ: %d, BAM: %d, CellRanger outputs: %d, Other: %d\n", sr.FastqCount, sr.BamCount, sr.CellRangerCount, sr.OtherCount)
		if len(sr.Samples) > 0 {
			fmt.Fprintf(&b, "Samples: %s\n", strings.Join(sr.Samples, ", "))
		}
		if len(sr.Warnings) > 0 {
			fmt.Fprintf(&b, "Warnings: %s\n", strings.Join(sr.Warnings, "; "))
		}
	case StepManifest:
		b.WriteString("## Manifest Summary\n")
		m, err := s.manifests.Get(id)
		if err != nil {
			b.WriteString("No manifest available yet.")
			break
		}
		b.WriteString(clip(m.ToLLMContext()))
	case StepUnderstanding:
		writeArtifact(&b, "Experiment Understanding", "No understanding generated yet.", s.lookup(func() (any, error) { return s.understanding.Get(id) }))
	case StepHypothesis:
		writeArtifact(&b, "Hypotheses", "No hypotheses saved yet.", s.lookup(func() (any, error) { return s.strategy.GetHypotheses(id) }))
	case StepStrategy:
		writeArtifact(&b, "Analysis Strategy", "No strategy generated yet.", s.lookup(func() (any, error) { return s.strategy.Get(id) }))
	case StepScripts:
		var current any
		if plan, err := s.planner.Get(id); err == nil {
			current = planOutline(plan)
		}
		writeArtifact(&b, "Script Plan", "No script plan generated yet.", current)
	case StepNotebook:
		writeArtifact(&b, "Notebook", "No notebook generated yet.", s.lookup(func() (any, error) { return s.notebooks.Get(id) }))
	case StepReport:
		writeArtifact(&b, "Report", "No report generated yet.", s.lookup(func() (any, error) { return s.reports.Get(id) }))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) lookup(get func() (any, error)) any {
	v, err := get()
	if err != nil {
		return nil
	}
	return v
}

func writeArtifact(b *strings.Builder, heading, missing string, v any) {
	fmt.Fprintf(b, "## %s\n", heading)
	if v == nil {
		b.WriteString(missing)
		return
	}
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b.WriteString(missing)
		return
	}
	b.WriteString("```json\n")
	b.WriteString(clip(string(encoded)))
	b.WriteString("\n```")
}

// planOutline is the plan without generated code or results, which the model
// neither needs nor should echo back.
func planOutline(plan *scriptplan.ScriptPlan) map[string]any {
	scripts := make([]scriptplan.PlannedScript, len(plan.Scripts))
	for i, sc := range plan.Scripts {
		sc.Code = ""
		sc.Result = nil
		scripts[i] = sc
	}
	return map[string]any{
		"scripts":         scripts,
		"execution_order": plan.ExecutionOrder,
	}
}

func clip(s string) string {
	if len(s) <= maxContextBytes {
		return s
	}
	return s[:maxContextBytes] + "\n... [truncated]"
}
