package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/strategy"
	"aco/internal/testsupport"
	"aco/internal/understanding"
)

type fixture struct {
	tracker *Tracker
	store   *runs.Store
	planner *scriptplan.Planner
	id      string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := runs.NewStore(filepath.Join(t.TempDir(), "runs"))
	manifests := manifest.NewService(store, scanner.Options{}, logging.NewNop())
	m, err := manifests.Create(context.Background(), manifest.UserIntake{ExperimentDescription: "WGS run"})
	if err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	fake := testsupport.NewFakeLLM(t)
	u := understanding.NewEngine(store, manifests, fake.Source(), logging.NewNop())
	s := strategy.NewEngine(store, manifests, u, fake.Source(), logging.NewNop())
	planner := scriptplan.NewPlanner(store, manifests, u, s, fake.Source(), 1, logging.NewNop())
	return fixture{
		tracker: NewTracker(store, u, planner, logging.NewNop()),
		store:   store,
		planner: planner,
		id:      m.ID,
	}
}

func (f fixture) save(t *testing.T, kind runs.Kind, v any) {
	t.Helper()
	if err := f.store.Save(f.id, kind, v); err != nil {
		t.Fatalf("save %s: %v", kind, err)
	}
}

func TestProgressDerivedFromArtifacts(t *testing.T) {
	f := newFixture(t)

	progress, err := f.tracker.Progress(f.id)
	if err != nil {
		t.Fatalf("Progress returned error: %v", err)
	}
	if progress.CurrentStep != StepScan || progress.HighestVisitedIndex != 1 {
		t.Fatalf("expected a draft manifest to sit at scan, got %+v", progress)
	}
	if progress.CanNavigateTo(StepUnderstanding) {
		t.Fatal("expected understanding to be unreachable before a scan")
	}

	f.save(t, runs.KindScan, map[string]any{"total_files": 0})
	f.save(t, runs.KindUnderstanding, understanding.ExperimentUnderstanding{ExperimentType: "other"})
	progress, _ = f.tracker.Progress(f.id)
	if progress.CurrentStep != StepUnderstanding {
		t.Fatalf("expected unapproved understanding to gate analyze, got %s", progress.CurrentStep)
	}

	now := time.Now().UTC()
	f.save(t, runs.KindUnderstanding, understanding.ExperimentUnderstanding{ExperimentType: "other", IsApproved: true, ApprovedAt: &now})
	f.save(t, runs.KindStrategy, map[string]any{"summary": "s"})
	progress, _ = f.tracker.Progress(f.id)
	if progress.CurrentStep != StepExecute || progress.CurrentPhase != PhaseAnalyze {
		t.Fatalf("expected execute, got %+v", progress.CurrentStep)
	}

	// Later artifacts do not count while a predecessor is missing.
	f.save(t, runs.KindNotebook, map[string]any{"name": "nb"})
	progress, _ = f.tracker.Progress(f.id)
	if progress.CanNavigateTo(StepNotebook) || !progress.Steps[7].Complete {
		t.Fatalf("expected notebook complete but unreachable, got %+v", progress.Steps[7])
	}
}

func TestExecuteGateNeedsSuccessfulApprovedPlan(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.save(t, runs.KindScan, map[string]any{})
	f.save(t, runs.KindUnderstanding, understanding.ExperimentUnderstanding{IsApproved: true, ApprovedAt: &now})
	f.save(t, runs.KindStrategy, map[string]any{})

	plan, err := scriptplan.New(f.id, []scriptplan.PlannedScript{{Name: "a", Code: "print(1)"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.planner.Replace(f.id, plan); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tracker.Advance(f.id, StepExecute); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict before execution, got %v", err)
	}

	if _, err := f.planner.Approve(f.id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.planner.Update(f.id, func(p *scriptplan.ScriptPlan) error {
		p.Scripts[0].Result = &scriptplan.ExecutionResult{ScriptName: "a", Success: true}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	progress, err := f.tracker.Advance(f.id, StepExecute)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if progress.CurrentStep != StepPlots || progress.CurrentPhase != PhaseSummarize {
		t.Fatalf("expected plots, got %s", progress.CurrentStep)
	}
	if ok, _ := f.tracker.CanNavigateTo(f.id, StepIntake); !ok {
		t.Fatal("expected backward navigation to be allowed")
	}
}

func TestAdvanceRejectsUnreachedStep(t *testing.T) {
	f := newFixture(t)
	if _, err := f.tracker.Advance(f.id, StepReport); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.tracker.Advance(f.id, "bogus"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.tracker.Progress("manifest_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMostRecent(t *testing.T) {
	f := newFixture(t)
	id, err := f.tracker.MostRecent()
	if err != nil || id != f.id {
		t.Fatalf("MostRecent = %q, %v", id, err)
	}
}
