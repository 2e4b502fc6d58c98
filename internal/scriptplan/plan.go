package scriptplan

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"aco/internal/runs"
	"aco/internal/services"
)

// New validates scripts and builds a plan with its execution order and total
// runtime. A dependency cycle is returned as a *CycleError wrapped with
// services.ErrValidation.
func New(manifestID string, scripts []PlannedScript) (*ScriptPlan, error) {
	seen := make(map[string]struct{}, len(scripts))
	total := 0
	for i := range scripts {
		s := &scripts[i]
		normalizeScript(s)
		if err := runs.ValidateScriptName(s.Name); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Name]; dup {
			return nil, services.Wrap(services.ErrValidation, "scriptplan", "new", fmt.Sprintf("duplicate script name %q", s.Name), nil)
		}
		seen[s.Name] = struct{}{}
		if !slices.Contains(Categories, s.Category) {
			return nil, services.Wrap(services.ErrValidation, "scriptplan", "new", fmt.Sprintf("script %q has unknown category %q", s.Name, s.Category), nil)
		}
		if !slices.Contains(ScriptTypes, s.ScriptType) {
			return nil, services.Wrap(services.ErrValidation, "scriptplan", "new", fmt.Sprintf("script %q has unknown type %q", s.Name, s.ScriptType), nil)
		}
		if s.EstimatedRuntimeSeconds < 0 {
			s.EstimatedRuntimeSeconds = 0
		}
		total += s.EstimatedRuntimeSeconds
	}
	order, err := ExecutionOrder(scripts)
	if err != nil {
		var cycle *CycleError
		if errors.As(err, &cycle) {
			return nil, services.Wrap(services.ErrValidation, "scriptplan", "new", "plan has a dependency cycle", cycle)
		}
		return nil, err
	}
	if scripts == nil {
		scripts = []PlannedScript{}
	}
	return &ScriptPlan{
		ManifestID:                   manifestID,
		Scripts:                      scripts,
		ExecutionOrder:               order,
		TotalEstimatedRuntimeSeconds: total,
		GeneratedAt:                  time.Now().UTC(),
	}, nil
}

// normalizeScript trims the name, drops a language extension from it, and
// fills empty collections.
func normalizeScript(s *PlannedScript) {
	s.Name = strings.TrimSpace(s.Name)
	for _, ext := range []string{".py", ".R", ".r", ".sh"} {
		if strings.HasSuffix(s.Name, ext) && len(s.Name) > len(ext) {
			s.Name = strings.TrimSuffix(s.Name, ext)
			break
		}
	}
	s.ScriptType = strings.ToLower(strings.TrimSpace(s.ScriptType))
	if s.ScriptType == "" {
		s.ScriptType = TypePython
	}
	if s.Category == "" {
		s.Category = CategoryCustom
	}
	if s.Dependencies == nil {
		s.Dependencies = []string{}
	}
	if s.DependsOn == nil {
		s.DependsOn = []string{}
	}
	if s.InputPatterns == nil {
		s.InputPatterns = []string{}
	}
	if s.OutputPatterns == nil {
		s.OutputPatterns = []string{}
	}
}

// sameContract reports whether two versions of a script declare the same
// interface, so code and results of the old one remain valid.
func sameContract(a, b PlannedScript) bool {
	return a.ScriptType == b.ScriptType &&
		a.Category == b.Category &&
		slices.Equal(a.DependsOn, b.DependsOn) &&
		slices.Equal(a.InputPatterns, b.InputPatterns) &&
		slices.Equal(a.OutputPatterns, b.OutputPatterns) &&
		slices.Equal(a.Dependencies, b.Dependencies)
}

// Diff compares two plans by script name.
func Diff(old, updated *ScriptPlan) ChangeSummary {
	summary := ChangeSummary{
		AddedScripts:    []string{},
		RemovedScripts:  []string{},
		ModifiedScripts: []string{},
	}
	if old == nil {
		old = &ScriptPlan{}
	}
	if updated == nil {
		updated = &ScriptPlan{}
	}
	for _, s := range updated.Scripts {
		prev, ok := old.Script(s.Name)
		switch {
		case !ok:
			summary.AddedScripts = append(summary.AddedScripts, s.Name)
		case !sameContract(*prev, s) || prev.Description != s.Description ||
			(s.Code != "" && s.Code != prev.Code):
			summary.ModifiedScripts = append(summary.ModifiedScripts, s.Name)
		}
	}
	for _, s := range old.Scripts {
		if _, ok := updated.Script(s.Name); !ok {
			summary.RemovedScripts = append(summary.RemovedScripts, s.Name)
		}
	}
	summary.ExecutionOrderChanged = !slices.Equal(old.ExecutionOrder, updated.ExecutionOrder)
	summary.OldRuntime = old.TotalEstimatedRuntimeSeconds
	summary.NewRuntime = updated.TotalEstimatedRuntimeSeconds
	summary.RuntimeChanged = summary.OldRuntime != summary.NewRuntime
	return summary
}

// Merge carries code and results from old into updated for scripts present in
// both whose contract is unchanged and that bring no code of their own.
func Merge(old, updated *ScriptPlan) *ScriptPlan {
	if old == nil || updated == nil {
		return updated
	}
	for i := range updated.Scripts {
		s := &updated.Scripts[i]
		prev, ok := old.Script(s.Name)
		if !ok || !sameContract(*prev, *s) {
			continue
		}
		if s.Code == "" {
			s.Code = prev.Code
			if s.Result == nil {
				s.Result = prev.Result
			}
		}
	}
	return updated
}

// pythonStdlib holds module names that are never written to requirements.txt.
var pythonStdlib = map[string]struct{}{
	"argparse": {}, "collections": {}, "csv": {}, "datetime": {}, "functools": {},
	"glob": {}, "gzip": {}, "hashlib": {}, "io": {}, "itertools": {}, "json": {},
	"logging": {}, "math": {}, "os": {}, "pathlib": {}, "random": {}, "re": {},
	"shutil": {}, "statistics": {}, "string": {}, "subprocess": {}, "sys": {},
	"tempfile": {}, "time": {}, "typing": {}, "bz2": {}, "lzma": {}, "zipfile": {},
	"dataclasses": {}, "textwrap": {}, "concurrent": {}, "multiprocessing": {},
}

// Requirements returns the sorted, de-duplicated third-party Python packages
// declared by the plan's Python scripts.
func Requirements(plan *ScriptPlan) []string {
	set := make(map[string]struct{})
	for _, s := range plan.Scripts {
		if s.ScriptType != TypePython {
			continue
		}
		for _, dep := range s.Dependencies {
			dep = strings.ToLower(strings.TrimSpace(dep))
			if dep == "" {
				continue
			}
			if _, std := pythonStdlib[packageName(dep)]; std {
				continue
			}
			set[dep] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

func packageName(spec string) string {
	end := strings.IndexAny(spec, "<>=!~[; ")
	if end < 0 {
		return spec
	}
	return spec[:end]
}
