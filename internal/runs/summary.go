package runs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aco/internal/services"
)

// Stage names reported in Summary.StagesCompleted, in workflow order.
const (
	StageManifest      = "manifest"
	StageScan          = "scan"
	StageUnderstanding = "understanding"
	StageHypothesis    = "hypothesis"
	StageStrategy      = "strategy"
	StageExecute       = "execute"
	StagePlots         = "plots"
	StageNotebook      = "notebook"
	StageReport        = "report"
)

var stageKinds = []struct {
	stage string
	kind  Kind
}{
	{StageManifest, KindManifest},
	{StageScan, KindScan},
	{StageUnderstanding, KindUnderstanding},
	{StageHypothesis, KindHypotheses},
	{StageStrategy, KindStrategy},
	{StageExecute, ""},
	{StagePlots, KindPlots},
	{StageNotebook, KindNotebook},
	{StageReport, KindReport},
}

// Summary describes a run for listings.
type Summary struct {
	ManifestID       string    `json:"manifest_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Status           string    `json:"status,omitempty"`
	StagesCompleted  []string  `json:"stages_completed"`
	HasUnderstanding bool      `json:"has_understanding"`
	HasStrategy      bool      `json:"has_strategy"`
	HasScripts       bool      `json:"has_scripts"`
	HasNotebook      bool      `json:"has_notebook"`
	HasReport        bool      `json:"has_report"`
	Description      string    `json:"experiment_description,omitempty"`
	AssayType        *string   `json:"assay_type"`
}

// HasStage reports whether stage is among the completed stages.
func (s Summary) HasStage(stage string) bool {
	for _, got := range s.StagesCompleted {
		if got == stage {
			return true
		}
	}
	return false
}

// manifestHead and understandingHead decode only the fields a summary needs.
type manifestHead struct {
	CreatedAt  time.Time `json:"created_at"`
	Status     string    `json:"status"`
	UserIntake struct {
		ExperimentDescription string `json:"experiment_description"`
	} `json:"user_intake"`
}

type understandingHead struct {
	AssayName     string         `json:"assay_name"`
	SampleCount   int            `json:"sample_count"`
	KeyParameters map[string]any `json:"key_parameters"`
	ReadStructure *struct {
		TotalReads any `json:"total_reads"`
	} `json:"read_structure"`
	IsApproved bool `json:"is_approved"`
}

// Get summarises one run.
func (s *Store) Get(id string) (Summary, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return Summary{}, err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Summary{}, services.Wrap(services.ErrNotFound, "runs", "get", "run not found: "+id, nil)
	}

	summary := Summary{ManifestID: id, StagesCompleted: []string{}, CreatedAt: info.ModTime().UTC()}
	for _, sk := range stageKinds {
		present := false
		if sk.kind == "" {
			present = s.hasResults(id)
		} else {
			present = s.Has(id, sk.kind)
		}
		if present {
			summary.StagesCompleted = append(summary.StagesCompleted, sk.stage)
		}
	}
	summary.HasUnderstanding = summary.HasStage(StageUnderstanding)
	summary.HasStrategy = summary.HasStage(StageStrategy)
	summary.HasScripts = summary.HasStage(StageExecute)
	summary.HasNotebook = summary.HasStage(StageNotebook)
	summary.HasReport = summary.HasStage(StageReport)

	var head manifestHead
	if ok, _ := s.Load(id, KindManifest, &head); ok {
		if !head.CreatedAt.IsZero() {
			summary.CreatedAt = head.CreatedAt.UTC()
		}
		summary.Status = head.Status
		summary.Description = firstLine(head.UserIntake.ExperimentDescription, 120)
	}
	var understanding understandingHead
	if ok, _ := s.Load(id, KindUnderstanding, &understanding); ok && understanding.AssayName != "" {
		assay := understanding.AssayName
		summary.AssayType = &assay
	}
	summary.UpdatedAt = latestModTime(dir)
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = summary.CreatedAt
	}
	return summary, nil
}

func (s *Store) hasResults(id string) bool {
	dir, err := s.Sub(id, filepath.FromSlash(ResultsDir))
	if err != nil {
		return false
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*_result.json"))
	return len(matches) > 0
}

// latestModTime skips the execution environment, whose package files carry
// install-time mtimes unrelated to run activity.
func latestModTime(dir string) time.Time {
	var latest time.Time
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".venv" {
			return fs.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest.UTC()
}

func firstLine(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit]) + "..."
	}
	return s
}
