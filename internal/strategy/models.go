package strategy

import "time"

// Hypothesis priorities.
var HypothesisPriorities = []string{"high", "medium", "low"}

// Gate priorities.
var GatePriorities = []string{"required", "recommended", "optional"}

// Hypothesis is one user-declared suspicion about the run.
type Hypothesis struct {
	ID        string  `json:"id" yaml:"id"`
	Text      string  `json:"text" yaml:"text"`
	Priority  string  `json:"priority" yaml:"priority"`
	Rationale *string `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// HypothesisSet is what the user thinks is wrong and wants to prove.
type HypothesisSet struct {
	ManifestID  string       `json:"manifest_id"`
	WhatIsWrong string       `json:"what_is_wrong"`
	WhatToProve string       `json:"what_to_prove"`
	Hypotheses  []Hypothesis `json:"hypotheses"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ReferenceScript is a prior script the user wants the strategy to learn from.
type ReferenceScript struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	RefType     string `json:"ref_type,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
}

// ReferenceSet is the stored reference selection.
type ReferenceSet struct {
	ManifestID string            `json:"manifest_id"`
	References []ReferenceScript `json:"references"`
	SavedAt    time.Time         `json:"saved_at"`
}

// HypothesisTest maps a hypothesis to a concrete test.
type HypothesisTest struct {
	Hypothesis      string   `json:"hypothesis" yaml:"hypothesis"`
	TestMethod      string   `json:"test_method" yaml:"test_method"`
	ExpectedOutcome string   `json:"expected_outcome" yaml:"expected_outcome"`
	RequiredData    []string `json:"required_data" yaml:"required_data"`
}

// GateCheckItem is a QC gate with pass and fail criteria.
type GateCheckItem struct {
	GateName     string  `json:"gate_name" yaml:"gate_name"`
	Description  string  `json:"description" yaml:"description"`
	PassCriteria string  `json:"pass_criteria" yaml:"pass_criteria" jsonschema:"Concrete pass condition such as mapping rate >= 80%"`
	FailCriteria string  `json:"fail_criteria" yaml:"fail_criteria"`
	ModuleName   *string `json:"module_name,omitempty" yaml:"module_name,omitempty" jsonschema:"Deterministic QC module that evaluates the gate, if any"`
	Priority     string  `json:"priority" yaml:"priority"`
}

// ExecutionStep is one step of the ordered execution plan.
type ExecutionStep struct {
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description" yaml:"description"`
	ToolOrModule     string   `json:"tool_or_module" yaml:"tool_or_module"`
	DependsOn        []string `json:"depends_on" yaml:"depends_on"`
	IsDeterministic  bool     `json:"is_deterministic" yaml:"is_deterministic" jsonschema:"True when a registered QC module performs the step"`
	EstimatedRuntime *string  `json:"estimated_runtime,omitempty" yaml:"estimated_runtime,omitempty"`
}

// ScriptInsight is what was learned from a reference script without rewriting it.
type ScriptInsight struct {
	ScriptPath      string            `json:"script_path" yaml:"script_path"`
	Intent          string            `json:"intent" yaml:"intent"`
	Parameters      map[string]string `json:"parameters" yaml:"parameters"`
	AdaptationNotes []string          `json:"adaptation_notes" yaml:"adaptation_notes"`
}

// draft is the model-authored part of a strategy.
type draft struct {
	HypothesesToTest []HypothesisTest `json:"hypotheses_to_test"`
	GateChecklist    []GateCheckItem  `json:"gate_checklist"`
	RequiredModules  []string         `json:"required_modules" jsonschema:"Deterministic QC modules needed"`
	RequiredTools    []string         `json:"required_tools" jsonschema:"External tools needed such as samtools"`
	ExecutionPlan    []ExecutionStep  `json:"execution_plan"`
	ScriptInsights   []ScriptInsight  `json:"script_insights,omitempty"`
	Summary          string           `json:"summary"`
}

// AnalysisStrategy is the plan for testing hypotheses and gating QC.
type AnalysisStrategy struct {
	ManifestID       string           `json:"manifest_id" yaml:"manifest_id"`
	HypothesesToTest []HypothesisTest `json:"hypotheses_to_test" yaml:"hypotheses_to_test"`
	GateChecklist    []GateCheckItem  `json:"gate_checklist" yaml:"gate_checklist"`
	RequiredModules  []string         `json:"required_modules" yaml:"required_modules"`
	RequiredTools    []string         `json:"required_tools" yaml:"required_tools"`
	ExecutionPlan    []ExecutionStep  `json:"execution_plan" yaml:"execution_plan"`
	ScriptInsights   []ScriptInsight  `json:"script_insights" yaml:"script_insights"`
	Summary          string           `json:"summary" yaml:"summary"`
	UserApproach     *string          `json:"user_approach" yaml:"user_approach,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at" yaml:"generated_at"`
	ModelUsed        string           `json:"model_used" yaml:"model_used"`
	IsApproved       bool             `json:"is_approved" yaml:"is_approved"`
	ApprovedAt       *time.Time       `json:"approved_at" yaml:"approved_at,omitempty"`
}

// PlotSelection is the user's choice of plots and tests for the notebook.
type PlotSelection struct {
	ManifestID         string    `json:"manifest_id"`
	SelectedPlots      []string  `json:"selected_plots"`
	CustomPlotRequests string    `json:"custom_plot_requests"`
	SelectedTests      []string  `json:"selected_tests"`
	CreatedAt          time.Time `json:"created_at"`
}

func (s *AnalysisStrategy) normalize() {
	if s.HypothesesToTest == nil {
		s.HypothesesToTest = []HypothesisTest{}
	}
	if s.GateChecklist == nil {
		s.GateChecklist = []GateCheckItem{}
	}
	for i := range s.GateChecklist {
		if s.GateChecklist[i].Priority == "" {
			s.GateChecklist[i].Priority = "required"
		}
	}
	if s.RequiredModules == nil {
		s.RequiredModules = []string{}
	}
	if s.RequiredTools == nil {
		s.RequiredTools = []string{}
	}
	if s.ExecutionPlan == nil {
		s.ExecutionPlan = []ExecutionStep{}
	}
	for i := range s.ExecutionPlan {
		step := &s.ExecutionPlan[i]
		if step.DependsOn == nil {
			step.DependsOn = []string{}
		}
		if step.IsDeterministic || step.ToolOrModule == "" {
			continue
		}
		if _, ok := LookupModule(step.ToolOrModule); ok {
			step.IsDeterministic = true
		}
	}
	if s.ScriptInsights == nil {
		s.ScriptInsights = []ScriptInsight{}
	}
}
