package scriptplan

import (
	"errors"
	"slices"
	"testing"

	"aco/internal/services"
)

func script(name string, deps ...string) PlannedScript {
	return PlannedScript{Name: name, Category: CategoryQCMetrics, Description: name, DependsOn: deps, EstimatedRuntimeSeconds: 10}
}

func TestExecutionOrderRespectsDependenciesAndPlanOrder(t *testing.T) {
	scripts := []PlannedScript{
		script("report", "depth", "barcodes"),
		script("depth"),
		script("barcodes", "depth"),
		script("gc"),
	}
	order, err := ExecutionOrder(scripts)
	if err != nil {
		t.Fatalf("ExecutionOrder returned error: %v", err)
	}
	want := []string{"depth", "barcodes", "report", "gc"}
	if !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestNewRejectsCycles(t *testing.T) {
	_, err := New("m", []PlannedScript{script("a", "b"), script("b", "a"), script("c")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if !slices.Equal(cycle.Scripts, []string{"a", "b"}) {
		t.Fatalf("cycle scripts = %v", cycle.Scripts)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		scripts []PlannedScript
	}{
		{name: "duplicate", scripts: []PlannedScript{script("a"), script("a")}},
		{name: "unknown dependency", scripts: []PlannedScript{script("a", "missing")}},
		{name: "bad name", scripts: []PlannedScript{script("../escape")}},
		{name: "bad category", scripts: []PlannedScript{{Name: "a", Category: "astrology"}}},
		{name: "bad type", scripts: []PlannedScript{{Name: "a", ScriptType: "perl"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New("m", tc.scripts); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestNewNormalizesScripts(t *testing.T) {
	plan, err := New("m", []PlannedScript{
		{Name: "depth.py", EstimatedRuntimeSeconds: 30},
		{Name: "summary.sh", ScriptType: "BASH", EstimatedRuntimeSeconds: 15},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	depth, ok := plan.Script("depth")
	if !ok {
		t.Fatal("expected extension to be stripped")
	}
	if depth.ScriptType != TypePython || depth.Category != CategoryCustom || depth.DependsOn == nil {
		t.Fatalf("unexpected defaults: %+v", depth)
	}
	summary, _ := plan.Script("summary")
	if summary.ScriptType != TypeBash || summary.Extension() != ".sh" {
		t.Fatalf("unexpected bash script: %+v", summary)
	}
	if plan.TotalEstimatedRuntimeSeconds != 45 {
		t.Fatalf("runtime = %d", plan.TotalEstimatedRuntimeSeconds)
	}
	if summary.State() != StatePlanned {
		t.Fatalf("state = %s", summary.State())
	}
}

func TestDiffAddedRemovedAndOrder(t *testing.T) {
	old, err := New("m", []PlannedScript{script("a"), script("b")})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := New("m", []PlannedScript{script("a"), script("c")})
	if err != nil {
		t.Fatal(err)
	}
	changes := Diff(old, updated)
	if !slices.Equal(changes.AddedScripts, []string{"c"}) || !slices.Equal(changes.RemovedScripts, []string{"b"}) {
		t.Fatalf("unexpected changes: %+v", changes)
	}
	if len(changes.ModifiedScripts) != 0 {
		t.Fatalf("expected no modified scripts, got %v", changes.ModifiedScripts)
	}
	if !changes.ExecutionOrderChanged || changes.RuntimeChanged {
		t.Fatalf("unexpected flags: %+v", changes)
	}
	if changes.Empty() {
		t.Fatal("expected non-empty summary")
	}
	if !Diff(old, old).Empty() {
		t.Fatal("expected identical plans to produce no changes")
	}
}

func TestDiffDetectsModifications(t *testing.T) {
	old, _ := New("m", []PlannedScript{script("a"), script("b")})
	changed := script("b")
	changed.Dependencies = []string{"pysam"}
	updated, _ := New("m", []PlannedScript{script("a"), changed})
	changes := Diff(old, updated)
	if !slices.Equal(changes.ModifiedScripts, []string{"b"}) {
		t.Fatalf("modified = %v", changes.ModifiedScripts)
	}
}

func TestMergeCarriesCodeOnlyForUnchangedContracts(t *testing.T) {
	old, _ := New("m", []PlannedScript{script("a"), script("b")})
	old.Scripts[0].Code = "print('a')"
	old.Scripts[0].Result = &ExecutionResult{ScriptName: "a", Success: true}
	old.Scripts[1].Code = "print('b')"

	changed := script("b")
	changed.OutputPatterns = []string{"b.tsv"}
	updated, _ := New("m", []PlannedScript{script("a"), changed})
	Merge(old, updated)

	a, _ := updated.Script("a")
	if a.Code != "print('a')" || a.Result == nil || a.State() != StateExecuted {
		t.Fatalf("expected code and result carried for a: %+v", a)
	}
	b, _ := updated.Script("b")
	if b.Code != "" {
		t.Fatalf("expected b code dropped after contract change, got %q", b.Code)
	}
}

func TestRequirements(t *testing.T) {
	plan, _ := New("m", []PlannedScript{
		{Name: "a", Dependencies: []string{"Pysam", "json", "numpy>=1.26"}},
		{Name: "b", Dependencies: []string{"pysam", "os"}},
		{Name: "c", ScriptType: TypeR, Dependencies: []string{"ggplot2"}},
	})
	got := Requirements(plan)
	want := []string{"numpy>=1.26", "pysam"}
	if !slices.Equal(got, want) {
		t.Fatalf("requirements = %v, want %v", got, want)
	}
}

func TestStripFence(t *testing.T) {
	got := stripFence("```python\nprint('hi')\n```")
	if got != "print('hi')\n" {
		t.Fatalf("stripFence = %q", got)
	}
	if stripFence("print(1)") != "print(1)" {
		t.Fatal("expected unfenced code unchanged")
	}
}
