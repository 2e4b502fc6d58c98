package scriptplan

import "time"

// Script categories.
const (
	CategoryQCMetrics     = "qc_metrics"
	CategoryBarcode       = "barcode"
	CategoryReadStructure = "read_structure"
	CategoryAlignment     = "alignment"
	CategoryContamination = "contamination"
	CategoryVisualization = "visualization"
	CategoryCustom        = "custom"
)

// Categories lists every script category.
var Categories = []string{
	CategoryQCMetrics, CategoryBarcode, CategoryReadStructure, CategoryAlignment,
	CategoryContamination, CategoryVisualization, CategoryCustom,
}

// Script types.
const (
	TypePython = "python"
	TypeBash   = "bash"
	TypeR      = "r"
)

// ScriptTypes lists every script language.
var ScriptTypes = []string{TypePython, TypeBash, TypeR}

// Script lifecycle states reported by State.
const (
	StatePlanned  = "planned"
	StateCoded    = "coded"
	StateExecuted = "executed"
)

// ExecutionResult is the outcome of one script run. Failures are results, not
// errors.
type ExecutionResult struct {
	ScriptName      string     `json:"script_name"`
	Success         bool       `json:"success"`
	ExitCode        int        `json:"exit_code"`
	Stdout          string     `json:"stdout"`
	Stderr          string     `json:"stderr"`
	DurationSeconds float64    `json:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	OutputFiles     []string   `json:"output_files"`
	ErrorMessage    *string    `json:"error_message"`
}

// PlannedScript is one script in a plan.
type PlannedScript struct {
	Name                    string           `json:"name"`
	Category                string           `json:"category"`
	ScriptType              string           `json:"script_type"`
	Description             string           `json:"description"`
	Code                    string           `json:"code"`
	Dependencies            []string         `json:"dependencies"`
	DependsOn               []string         `json:"depends_on"`
	InputPatterns           []string         `json:"input_patterns"`
	OutputPatterns          []string         `json:"output_patterns"`
	EstimatedRuntimeSeconds int              `json:"estimated_runtime_seconds"`
	RequiresApproval        bool             `json:"requires_approval"`
	Result                  *ExecutionResult `json:"result"`
}

// State reports how far the script has progressed.
func (s PlannedScript) State() string {
	switch {
	case s.Result != nil:
		return StateExecuted
	case s.Code != "":
		return StateCoded
	default:
		return StatePlanned
	}
}

// Extension returns the file extension for the script's language.
func (s PlannedScript) Extension() string {
	return Extension(s.ScriptType)
}

// Extension maps a script type to its file extension.
func Extension(scriptType string) string {
	switch scriptType {
	case TypeBash:
		return ".sh"
	case TypeR:
		return ".R"
	default:
		return ".py"
	}
}

// ScriptPlan is the ordered set of scripts for a run.
type ScriptPlan struct {
	ManifestID                   string          `json:"manifest_id"`
	Scripts                      []PlannedScript `json:"scripts"`
	ExecutionOrder               []string        `json:"execution_order"`
	TotalEstimatedRuntimeSeconds int             `json:"total_estimated_runtime_seconds"`
	IsApproved                   bool            `json:"is_approved"`
	ApprovedAt                   *time.Time      `json:"approved_at"`
	GeneratedAt                  time.Time       `json:"generated_at"`
	ModelUsed                    string          `json:"model_used"`
}

// Script returns the named script.
func (p *ScriptPlan) Script(name string) (*PlannedScript, bool) {
	for i := range p.Scripts {
		if p.Scripts[i].Name == name {
			return &p.Scripts[i], true
		}
	}
	return nil, false
}

// Ordered returns the scripts in execution order.
func (p *ScriptPlan) Ordered() []*PlannedScript {
	out := make([]*PlannedScript, 0, len(p.ExecutionOrder))
	for _, name := range p.ExecutionOrder {
		if s, ok := p.Script(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// ChangeSummary describes how a regenerated or edited plan differs from the
// previous one.
type ChangeSummary struct {
	AddedScripts          []string `json:"added_scripts"`
	RemovedScripts        []string `json:"removed_scripts"`
	ModifiedScripts       []string `json:"modified_scripts"`
	ExecutionOrderChanged bool     `json:"execution_order_changed"`
	RuntimeChanged        bool     `json:"runtime_changed"`
	OldRuntime            int      `json:"old_runtime"`
	NewRuntime            int      `json:"new_runtime"`
}

// Empty reports whether nothing changed.
func (c ChangeSummary) Empty() bool {
	return len(c.AddedScripts) == 0 && len(c.RemovedScripts) == 0 && len(c.ModifiedScripts) == 0 &&
		!c.ExecutionOrderChanged && !c.RuntimeChanged
}
