package runs

import (
	"fmt"
	"path/filepath"

	"aco/internal/services"
)

// Comparison lines up headline metrics of several runs.
type Comparison struct {
	Runs    []string         `json:"runs"`
	Metrics []map[string]any `json:"metrics"`
}

type resultHead struct {
	ExitCode int  `json:"exit_code"`
	Success  bool `json:"success"`
}

// Compare summarises between two and five runs side by side.
func (s *Store) Compare(ids []string) (Comparison, error) {
	if len(ids) < 2 {
		return Comparison{}, services.Wrap(services.ErrValidation, "runs", "compare", "need at least 2 runs to compare", nil)
	}
	if len(ids) > 5 {
		return Comparison{}, services.Wrap(services.ErrValidation, "runs", "compare", "can compare at most 5 runs", nil)
	}
	out := Comparison{Runs: append([]string(nil), ids...), Metrics: make([]map[string]any, 0, len(ids))}
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return Comparison{}, err
		}
		if !s.Exists(id) {
			return Comparison{}, services.Wrap(services.ErrNotFound, "runs", "compare", "run not found: "+id, nil)
		}
		metrics := map[string]any{"manifest_id": id}

		var u understandingHead
		if ok, _ := s.Load(id, KindUnderstanding, &u); ok {
			metrics["assay_type"] = u.AssayName
			metrics["species"] = species(u.KeyParameters)
			metrics["sample_count"] = u.SampleCount
			metrics["understanding_approved"] = u.IsApproved
			if u.ReadStructure != nil && u.ReadStructure.TotalReads != nil {
				metrics["read_count"] = u.ReadStructure.TotalReads
			} else {
				metrics["read_count"] = "Unknown"
			}
		}

		executed, succeeded := s.resultCounts(id)
		metrics["scripts_executed"] = executed
		metrics["scripts_succeeded"] = succeeded
		out.Metrics = append(out.Metrics, metrics)
	}
	return out, nil
}

func (s *Store) resultCounts(id string) (int, int) {
	dir, err := s.Sub(id, filepath.FromSlash(ResultsDir))
	if err != nil {
		return 0, 0
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*_result.json"))
	succeeded := 0
	for _, path := range matches {
		var r resultHead
		if ok, _ := readJSON(path, &r, "compare"); ok && r.Success {
			succeeded++
		}
	}
	return len(matches), succeeded
}

func species(params map[string]any) string {
	for _, key := range []string{"Species", "species", "Organism", "organism"} {
		if v, ok := params[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return "Unknown"
}
