package scriptplan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/services"
	"aco/internal/strategy"
	"aco/internal/testsupport"
	"aco/internal/understanding"
)

const planReply = `{"scripts": [
  {"name": "read_depth", "category": "qc_metrics", "script_type": "python", "description": "Count reads",
   "dependencies": ["pysam"], "depends_on": [], "input_patterns": ["*.fastq.gz"], "output_patterns": ["depth.tsv"], "estimated_runtime_seconds": 60},
  {"name": "summarize", "category": "visualization", "script_type": "bash", "description": "Summarize",
   "dependencies": [], "depends_on": ["read_depth"], "input_patterns": [], "output_patterns": ["summary.txt"], "estimated_runtime_seconds": 5}
]}`

const replanReply = `{"scripts": [
  {"name": "read_depth", "category": "qc_metrics", "script_type": "python", "description": "Count reads",
   "dependencies": ["pysam"], "depends_on": [], "input_patterns": ["*.fastq.gz"], "output_patterns": ["depth.tsv"], "estimated_runtime_seconds": 60},
  {"name": "gc_content", "category": "qc_metrics", "script_type": "python", "description": "GC",
   "dependencies": ["numpy"], "depends_on": [], "input_patterns": ["*.fastq.gz"], "output_patterns": ["gc.tsv"], "estimated_runtime_seconds": 30}
]}`

type fixture struct {
	planner *Planner
	store   *runs.Store
	fake    *testsupport.FakeLLM
	id      string
}

func newFixture(t *testing.T, approved bool, replies ...string) fixture {
	t.Helper()
	store := runs.NewStore(filepath.Join(t.TempDir(), "runs"))
	manifests := manifest.NewService(store, scanner.Options{}, logging.NewNop())
	m, err := manifests.Create(context.Background(), manifest.UserIntake{ExperimentDescription: "PBMC 10x v3"})
	if err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	fake := testsupport.NewFakeLLM(t, replies...)
	u := understanding.NewEngine(store, manifests, fake.Source(), logging.NewNop())
	s := strategy.NewEngine(store, manifests, u, fake.Source(), logging.NewNop())

	seed := &understanding.ExperimentUnderstanding{
		ExperimentType: "single_cell_rna_seq",
		AssayPlatform:  "10x_chromium",
		Summary:        "PBMC run",
		IsApproved:     approved,
	}
	if approved {
		now := time.Now().UTC()
		seed.ApprovedAt = &now
	}
	if err := store.Save(m.ID, runs.KindUnderstanding, seed); err != nil {
		t.Fatalf("seed understanding: %v", err)
	}
	return fixture{
		planner: NewPlanner(store, manifests, u, s, fake.Source(), 1, logging.NewNop()),
		store:   store,
		fake:    fake,
		id:      m.ID,
	}
}

func TestGenerateRequiresApprovedUnderstanding(t *testing.T) {
	f := newFixture(t, false, planReply)
	if _, err := f.planner.Generate(context.Background(), f.id, Options{}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("expected no llm call before approval")
	}
}

func TestGenerateStoresPlanAndRequirements(t *testing.T) {
	f := newFixture(t, true, planReply)
	result, err := f.planner.Generate(context.Background(), f.id, Options{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !slices.Equal(result.Plan.ExecutionOrder, []string{"read_depth", "summarize"}) {
		t.Fatalf("order = %v", result.Plan.ExecutionOrder)
	}
	if result.Plan.TotalEstimatedRuntimeSeconds != 65 || result.Plan.ModelUsed != "fake-model" {
		t.Fatalf("unexpected plan: %+v", result.Plan)
	}
	if len(result.Changes.AddedScripts) != 2 || result.Plan.IsApproved {
		t.Fatalf("unexpected changes: %+v", result.Changes)
	}

	reqPath, _ := f.store.Sub(f.id, runs.ScriptsDir, "requirements.txt")
	data, err := os.ReadFile(reqPath)
	if err != nil {
		t.Fatalf("read requirements: %v", err)
	}
	if string(data) != "pysam\n" {
		t.Fatalf("requirements = %q", data)
	}
	stored, err := f.planner.Get(f.id)
	if err != nil || len(stored.Scripts) != 2 {
		t.Fatalf("expected stored plan, got %+v, %v", stored, err)
	}
}

func TestRegenerateMergesAndClearsApproval(t *testing.T) {
	f := newFixture(t, true, planReply, `{"code": "print('depth')"}`, `{"code": "echo done"}`, replanReply)
	ctx := context.Background()
	if _, err := f.planner.Generate(ctx, f.id, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.planner.GenerateAllCode(ctx, f.id, Options{}); err != nil {
		t.Fatalf("GenerateAllCode returned error: %v", err)
	}
	if _, err := f.planner.Approve(f.id); err != nil {
		t.Fatal(err)
	}

	result, err := f.planner.Generate(ctx, f.id, Options{})
	if err != nil {
		t.Fatalf("regenerate returned error: %v", err)
	}
	if !slices.Equal(result.Changes.AddedScripts, []string{"gc_content"}) ||
		!slices.Equal(result.Changes.RemovedScripts, []string{"summarize"}) {
		t.Fatalf("unexpected changes: %+v", result.Changes)
	}
	if result.Plan.IsApproved {
		t.Fatal("expected approval cleared by a changed plan")
	}
	depth, _ := result.Plan.Script("read_depth")
	if depth.Code != "print('depth')" {
		t.Fatalf("expected code carried over, got %q", depth.Code)
	}
}

func TestGenerateAllCodeWritesScripts(t *testing.T) {
	f := newFixture(t, true, planReply,
		`{"code": "`+"```python\\nprint('depth')\\n```"+`", "dependencies": ["pandas"]}`,
		`{"code": "#!/bin/bash\necho done"}`)
	ctx := context.Background()
	if _, err := f.planner.Generate(ctx, f.id, Options{}); err != nil {
		t.Fatal(err)
	}
	result, err := f.planner.GenerateAllCode(ctx, f.id, Options{})
	if err != nil {
		t.Fatalf("GenerateAllCode returned error: %v", err)
	}
	if !slices.Equal(result.Generated, []string{"read_depth", "summarize"}) || len(result.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(result.ScriptsDir, "read_depth.py"))
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if string(data) != "print('depth')\n" {
		t.Fatalf("script = %q", data)
	}
	info, err := os.Stat(filepath.Join(result.ScriptsDir, "summarize.sh"))
	if err != nil {
		t.Fatalf("stat bash script: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected bash script to be executable, mode %v", info.Mode())
	}
	plan, _ := f.planner.Get(f.id)
	depth, _ := plan.Script("read_depth")
	if !slices.Contains(depth.Dependencies, "pandas") || depth.State() != StateCoded {
		t.Fatalf("unexpected script: %+v", depth)
	}
	reqs, _ := os.ReadFile(filepath.Join(result.ScriptsDir, "requirements.txt"))
	if !strings.Contains(string(reqs), "pandas") {
		t.Fatalf("requirements missing pandas: %q", reqs)
	}

	again, err := f.planner.GenerateAllCode(ctx, f.id, Options{})
	if err != nil || len(again.Generated) != 0 {
		t.Fatalf("expected coded scripts to be skipped, got %+v, %v", again, err)
	}
}

func TestGenerateAllCodeReportsFailures(t *testing.T) {
	// The second code request finds an empty queue and fails.
	f := newFixture(t, true, planReply, `{"code": "print('depth')"}`)
	ctx := context.Background()
	if _, err := f.planner.Generate(ctx, f.id, Options{}); err != nil {
		t.Fatal(err)
	}
	result, err := f.planner.GenerateAllCode(ctx, f.id, Options{})
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if !strings.Contains(err.Error(), "code generation failed for: summarize") {
		t.Fatalf("unexpected message: %v", err)
	}
	if !slices.Equal(result.Generated, []string{"read_depth"}) || !slices.Equal(result.Failed, []string{"summarize"}) {
		t.Fatalf("unexpected result: %+v", result)
	}
	plan, _ := f.planner.Get(f.id)
	if s, _ := plan.Script("read_depth"); s.Code == "" {
		t.Fatal("expected successful script to be saved")
	}
}

func TestGenerateCodeUnknownScript(t *testing.T) {
	f := newFixture(t, true, planReply)
	if _, err := f.planner.Generate(context.Background(), f.id, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.planner.GenerateCode(context.Background(), f.id, "missing", Options{}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetMissingPlan(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.planner.Get(f.id); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	completed := started.Add(12500 * time.Millisecond)
	failure := "samtools: truncated file"

	plan, err := New(f.id, []PlannedScript{
		{
			Name: "read_depth", Category: CategoryQCMetrics, ScriptType: TypePython, Description: "Count reads",
			Code: "import pysam\nprint(1)\n", Dependencies: []string{"pysam>=0.22"},
			InputPatterns: []string{"*.bam"}, OutputPatterns: []string{"depth.tsv", "depth.png"},
			EstimatedRuntimeSeconds: 60, RequiresApproval: true,
			Result: &ExecutionResult{
				ScriptName: "read_depth", Success: true, Stdout: "ok\n", DurationSeconds: 12.5,
				StartedAt: &started, CompletedAt: &completed,
				OutputFiles: []string{"depth.tsv", "depth.png"},
			},
		},
		{
			Name: "summarize", Category: CategoryVisualization, ScriptType: TypeBash, Description: "Summarize",
			Code: "cat depth.tsv\n", DependsOn: []string{"read_depth"}, EstimatedRuntimeSeconds: 5,
			Result: &ExecutionResult{
				ScriptName: "summarize", ExitCode: 1, Stderr: failure, DurationSeconds: 0.25,
				StartedAt: &completed, CompletedAt: &completed,
				OutputFiles: []string{}, ErrorMessage: &failure,
			},
		},
	})
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	plan.GeneratedAt = started
	plan.ModelUsed = "gemini-2.5-flash"

	if _, err := f.planner.Replace(f.id, plan); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := f.planner.Get(f.id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(plan, got) {
		t.Fatalf("plan changed across save and load:\nwant %#v\ngot  %#v", plan, got)
	}
}
