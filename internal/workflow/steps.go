package workflow

import (
	"fmt"

	"aco/internal/services"
)

// Phases of a run.
const (
	PhaseUnderstand = "understand"
	PhaseAnalyze    = "analyze"
	PhaseSummarize  = "summarize"
)

// Step names in order.
const (
	StepIntake        = "intake"
	StepScan          = "scan"
	StepUnderstanding = "understanding"
	StepHypothesis    = "hypothesis"
	StepStrategy      = "strategy"
	StepExecute       = "execute"
	StepPlots         = "plots"
	StepNotebook      = "notebook"
	StepReport        = "report"
)

// Step is one position in the workflow.
type Step struct {
	Name  string `json:"name"`
	Phase string `json:"phase"`
	Index int    `json:"index"`
	// Requires describes the artifact that completes the step.
	Requires string `json:"requires"`
}

var steps = []Step{
	{Name: StepIntake, Phase: PhaseUnderstand, Requires: "a manifest"},
	{Name: StepScan, Phase: PhaseUnderstand, Requires: "a scan of the data directory"},
	{Name: StepUnderstanding, Phase: PhaseUnderstand, Requires: "an approved experiment understanding"},
	{Name: StepHypothesis, Phase: PhaseAnalyze, Requires: "saved hypotheses or a strategy"},
	{Name: StepStrategy, Phase: PhaseAnalyze, Requires: "an analysis strategy"},
	{Name: StepExecute, Phase: PhaseAnalyze, Requires: "an approved script plan whose scripts all succeeded"},
	{Name: StepPlots, Phase: PhaseSummarize, Requires: "a plot selection"},
	{Name: StepNotebook, Phase: PhaseSummarize, Requires: "a generated notebook"},
	{Name: StepReport, Phase: PhaseSummarize, Requires: "a generated report"},
}

func init() {
	for i := range steps {
		steps[i].Index = i
	}
}

// Steps returns every step in order.
func Steps() []Step {
	return append([]Step(nil), steps...)
}

// Lookup returns the named step.
func Lookup(name string) (Step, error) {
	for _, s := range steps {
		if s.Name == name {
			return s, nil
		}
	}
	return Step{}, services.Wrap(services.ErrValidation, "workflow", "lookup", fmt.Sprintf("unknown step %q", name), nil)
}
