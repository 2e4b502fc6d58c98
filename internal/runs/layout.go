package runs

import (
	"path/filepath"
	"regexp"
	"strings"

	"aco/internal/services"
)

// Kind names one artifact document of a run.
type Kind string

const (
	KindManifest      Kind = "manifest"
	KindScan          Kind = "scan"
	KindUnderstanding Kind = "understanding"
	KindHypotheses    Kind = "hypotheses"
	KindReferences    Kind = "references"
	KindStrategy      Kind = "strategy"
	KindPlots         Kind = "plots"
	KindPlan          Kind = "plan"
	KindNotebook      Kind = "notebook"
	KindReport        Kind = "report"
)

// Directory names inside a run.
const (
	ResultsDir   = "02_analyze/results"
	NotebookDir  = "03_summarize/notebook"
	ReportDir    = "03_summarize/report"
	ScriptsDir   = "scripts"
	ExecutionDir = "execution"
	ChatDir      = "chat"
	DocumentsDir = "01_understand/describe"
)

var kindPaths = map[Kind]string{
	KindManifest:      "manifest.json",
	KindScan:          "01_understand/scan/scan.json",
	KindUnderstanding: "01_understand/understanding/understanding.json",
	KindHypotheses:    "02_analyze/hypothesis/hypotheses.json",
	KindReferences:    "02_analyze/references/references.json",
	KindStrategy:      "02_analyze/strategy/strategy.json",
	KindPlots:         "03_summarize/plots/plots.json",
	KindPlan:          "scripts/plan.json",
	KindNotebook:      "03_summarize/notebook/notebook.json",
	KindReport:        "03_summarize/report/report.json",
}

// Kinds lists every artifact kind in workflow order.
func Kinds() []Kind {
	return []Kind{
		KindManifest, KindScan, KindUnderstanding, KindHypotheses, KindReferences,
		KindStrategy, KindPlan, KindPlots, KindNotebook, KindReport,
	}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateID rejects run ids that could escape the runs directory.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return services.Wrap(services.ErrValidation, "runs", "validate id", "invalid run id "+quote(id), nil)
	}
	return nil
}

var scriptNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateScriptName rejects script names unsafe for use as file names.
func ValidateScriptName(name string) error {
	if !scriptNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return services.Wrap(services.ErrValidation, "runs", "validate script", "invalid script name "+quote(name), nil)
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}

func relPath(kind Kind) (string, bool) {
	p, ok := kindPaths[kind]
	return filepath.FromSlash(p), ok
}
