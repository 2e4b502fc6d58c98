package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"aco/internal/attempts"
	"aco/internal/config"
	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/notifications"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/uv"
	"aco/internal/strategy"
	"aco/internal/testsupport"
	"aco/internal/understanding"
)

// fakeUV creates the interpreter file for venv commands and records pip installs.
type fakeUV struct {
	mu         sync.Mutex
	venvCalls  int
	installed  [][]string
	installErr error
}

func (f *fakeUV) Run(_ context.Context, _ string, args []string, onOutput func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch args[0] {
	case "venv":
		f.venvCalls++
		python := uv.InterpreterPath(args[1])
		if err := os.MkdirAll(filepath.Dir(python), 0o755); err != nil {
			return err
		}
		return os.WriteFile(python, []byte("#!/bin/sh\n"), 0o755)
	case "pip":
		f.installed = append(f.installed, args[4:])
		if f.installErr != nil {
			onOutput("error: could not find package")
			return f.installErr
		}
		onOutput("Installed packages")
	}
	return nil
}

type fixture struct {
	runner   *Runner
	planner  *scriptplan.Planner
	attempts *attempts.Store
	store    *runs.Store
	uv       *fakeUV
	id       string
}

func newFixture(t *testing.T, tweak func(*config.Execution)) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Execution.BashBinary = "/bin/sh"
	cfg.Execution.ScriptTimeoutSeconds = 10
	if tweak != nil {
		tweak(&cfg.Execution)
	}
	store := runs.NewStore(cfg.Paths.RunsDir)
	manifests := manifest.NewService(store, scanner.Options{}, logging.NewNop())
	m, err := manifests.Create(context.Background(), manifest.UserIntake{ExperimentDescription: "amplicon run"})
	if err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	fake := testsupport.NewFakeLLM(t)
	u := understanding.NewEngine(store, manifests, fake.Source(), logging.NewNop())
	s := strategy.NewEngine(store, manifests, u, fake.Source(), logging.NewNop())
	planner := scriptplan.NewPlanner(store, manifests, u, s, fake.Source(), 2, logging.NewNop())

	fuv := &fakeUV{}
	client, err := uv.New("uv", uv.WithExecutor(fuv))
	if err != nil {
		t.Fatal(err)
	}
	attemptStore := testsupport.MustOpenAttempts(t, cfg)
	return fixture{
		runner:   NewRunner(store, planner, attemptStore, client, cfg.Execution, logging.NewNop()),
		planner:  planner,
		attempts: attemptStore,
		store:    store,
		uv:       fuv,
		id:       m.ID,
	}
}

func bash(name, code string, deps ...string) scriptplan.PlannedScript {
	return scriptplan.PlannedScript{
		Name:           name,
		Category:       scriptplan.CategoryQCMetrics,
		ScriptType:     scriptplan.TypeBash,
		Description:    name,
		Code:           code,
		DependsOn:      deps,
		OutputPatterns: []string{name + ".txt"},
	}
}

func (f fixture) seedPlan(t *testing.T, approve bool, scripts ...scriptplan.PlannedScript) {
	t.Helper()
	plan, err := scriptplan.New(f.id, scripts)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if _, err := f.planner.Replace(f.id, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	if approve {
		if _, err := f.planner.Approve(f.id); err != nil {
			t.Fatalf("approve plan: %v", err)
		}
	}
}

const writeOutput = `out="$2"; echo ok > "$out/$(basename "$0" .sh).txt"; echo done`

func TestRunRequiresApprovedPlan(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, false, bash("a", writeOutput))
	if _, err := f.runner.Run(context.Background(), f.id, Options{}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if latest, _ := f.attempts.Latest(context.Background(), f.id); latest != nil {
		t.Fatalf("expected no attempt, got %#v", latest)
	}
}

func TestRunCompletesAttempt(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, true, bash("b", writeOutput, "a"), bash("a", writeOutput))

	attempt, err := f.runner.Run(context.Background(), f.id, Options{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if attempt.Phase != attempts.PhaseComplete || !slices.Equal(attempt.CompletedSteps, attempts.Steps) {
		t.Fatalf("unexpected attempt: %#v", attempt)
	}

	plan, _ := f.planner.Get(f.id)
	for _, name := range []string{"a", "b"} {
		s, _ := plan.Script(name)
		if s.Result == nil || !s.Result.Success || s.Result.ExitCode != 0 {
			t.Fatalf("script %s result = %#v", name, s.Result)
		}
		if strings.TrimSpace(s.Result.Stdout) != "done" {
			t.Fatalf("script %s stdout = %q", name, s.Result.Stdout)
		}
		if len(s.Result.OutputFiles) != 1 || filepath.Base(s.Result.OutputFiles[0]) != name+".txt" {
			t.Fatalf("script %s outputs = %v", name, s.Result.OutputFiles)
		}
		path, _ := f.store.ResultPath(f.id, name)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected result artifact for %s: %v", name, err)
		}
	}
	if f.uv.venvCalls != 1 {
		t.Fatalf("expected one venv creation, got %d", f.uv.venvCalls)
	}

	status, err := f.runner.Status(context.Background(), f.id)
	if err != nil {
		t.Fatal(err)
	}
	if status.Phase != attempts.PhaseComplete || len(status.Scripts) != 2 || status.Scripts[0].Name != "a" {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestFailingScriptDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, true, bash("a", "echo boom >&2; exit 3"), bash("b", writeOutput))

	_, err := f.runner.Run(context.Background(), f.id, Options{})
	if err == nil || !strings.Contains(err.Error(), "script execution failed for: a") {
		t.Fatalf("expected failure naming a, got %v", err)
	}
	latest, _ := f.attempts.Latest(context.Background(), f.id)
	if latest.Phase != attempts.PhaseFailed || !slices.Equal(latest.FailedScripts, []string{"a"}) {
		t.Fatalf("unexpected attempt: %#v", latest)
	}
	if !strings.Contains(latest.Error, "script execution failed for: a") {
		t.Fatalf("attempt error = %q", latest.Error)
	}

	plan, _ := f.planner.Get(f.id)
	a, _ := plan.Script("a")
	if a.Result.ExitCode != 3 || !strings.Contains(a.Result.Stderr, "boom") {
		t.Fatalf("unexpected a result: %#v", a.Result)
	}
	b, _ := plan.Script("b")
	if b.Result == nil || !b.Result.Success {
		t.Fatalf("expected b to run and succeed, got %#v", b.Result)
	}

	if _, err := f.runner.Retry(context.Background(), f.id, Options{}); err == nil {
		t.Fatal("expected retry to fail again")
	}
	all, _ := f.attempts.List(context.Background(), f.id)
	if len(all) != 2 {
		t.Fatalf("expected a fresh attempt for retry, got %d", len(all))
	}
}

func TestMiddleFailureStillRunsLaterScripts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, true,
		bash("A", writeOutput),
		bash("B", "echo broken >&2; exit 2", "A"),
		bash("C", writeOutput, "B"),
	)

	res, err := f.runner.ExecuteAll(context.Background(), f.id)
	if err != nil {
		t.Fatalf("ExecuteAll returned error: %v", err)
	}
	if len(res.Results) != 3 || res.AllSucceeded {
		t.Fatalf("expected three results with a failure, got %#v", res)
	}
	var names []string
	for _, r := range res.Results {
		names = append(names, r.ScriptName)
	}
	if !slices.Equal(names, []string{"A", "B", "C"}) {
		t.Fatalf("results out of order: %v", names)
	}
	if !res.Results[0].Success || res.Results[1].Success || !res.Results[2].Success {
		t.Fatalf("expected only B to fail: %#v", res.Results)
	}
	if !slices.Equal(res.Failed(), []string{"B"}) {
		t.Fatalf("failed = %v", res.Failed())
	}

	_, err = f.runner.Run(context.Background(), f.id, Options{})
	if err == nil || !strings.Contains(err.Error(), "script execution failed for: B") {
		t.Fatalf("expected attempt error naming B, got %v", err)
	}
	latest, _ := f.attempts.Latest(context.Background(), f.id)
	if !slices.Equal(latest.FailedScripts, []string{"B"}) || !strings.Contains(latest.Error, "B") {
		t.Fatalf("unexpected attempt: %#v", latest)
	}
}

func TestScriptTimeout(t *testing.T) {
	f := newFixture(t, func(c *config.Execution) { c.ScriptTimeoutSeconds = 1 })
	f.seedPlan(t, false, bash("slow", "sleep 5"))

	res, err := f.runner.ExecuteAll(context.Background(), f.id)
	if err != nil {
		t.Fatalf("ExecuteAll returned error: %v", err)
	}
	if res.AllSucceeded || len(res.Results) != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	got := res.Results[0]
	if got.ExitCode != -1 || got.ErrorMessage == nil || *got.ErrorMessage != "Script timed out after 1s" {
		t.Fatalf("unexpected timeout result: %#v", got)
	}
}

func TestOutputIsTruncated(t *testing.T) {
	f := newFixture(t, func(c *config.Execution) { c.OutputLimitBytes = 10 })
	f.seedPlan(t, false, bash("loud", "printf '%0100d' 0"))

	res, err := f.runner.ExecuteAll(context.Background(), f.id)
	if err != nil {
		t.Fatal(err)
	}
	out := res.Results[0].Stdout
	if !strings.HasPrefix(out, "0000000000\n... [truncated 90 bytes]") {
		t.Fatalf("stdout = %q", out)
	}
}

func TestParallelExecutionKeepsOrder(t *testing.T) {
	f := newFixture(t, func(c *config.Execution) { c.MaxParallelScripts = 3 })
	f.seedPlan(t, false,
		bash("x", writeOutput),
		bash("y", writeOutput),
		bash("z", writeOutput, "x", "y"),
	)
	res, err := f.runner.ExecuteAll(context.Background(), f.id)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range res.Results {
		names = append(names, r.ScriptName)
	}
	if !slices.Equal(names, []string{"x", "y", "z"}) || !res.AllSucceeded {
		t.Fatalf("unexpected results: %v, all succeeded %v", names, res.AllSucceeded)
	}
}

func TestScriptWithoutCodeFails(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, false, bash("empty", ""))
	res, err := f.runner.ExecuteAll(context.Background(), f.id)
	if err != nil {
		t.Fatal(err)
	}
	if res.AllSucceeded || res.Results[0].ErrorMessage == nil {
		t.Fatalf("expected failure result, got %#v", res.Results[0])
	}
}

func TestCreateEnvIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, err := f.runner.CreateEnv(ctx, f.id)
	if err != nil {
		t.Fatalf("CreateEnv returned error: %v", err)
	}
	second, err := f.runner.CreateEnv(ctx, f.id)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || second.Created || first.VenvPath != second.VenvPath {
		t.Fatalf("unexpected results: %#v %#v", first, second)
	}
	if f.uv.venvCalls != 1 {
		t.Fatalf("expected one uv call, got %d", f.uv.venvCalls)
	}
}

func TestInstallDeps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	py := scriptplan.PlannedScript{Name: "depth", Dependencies: []string{"pysam"}, Code: "print(1)"}
	f.seedPlan(t, false, py)

	if _, err := f.runner.InstallDeps(ctx, f.id, nil); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict without env, got %v", err)
	}
	if _, err := f.runner.CreateEnv(ctx, f.id); err != nil {
		t.Fatal(err)
	}
	res, err := f.runner.InstallDeps(ctx, f.id, []string{"numpy"})
	if err != nil {
		t.Fatalf("InstallDeps returned error: %v", err)
	}
	if !slices.Equal(res.Installed, []string{"pysam", "numpy"}) {
		t.Fatalf("installed = %v", res.Installed)
	}
	status, err := f.runner.EnvStatus(f.id)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Exists || !status.Installed || !slices.Equal(status.Requirements, []string{"pysam"}) {
		t.Fatalf("unexpected env status: %#v", status)
	}

	f.uv.installErr = errors.New("exit status 1")
	_, err = f.runner.InstallDeps(ctx, f.id, nil)
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "could not find package") {
		t.Fatalf("expected external tool error with uv output, got %v", err)
	}
}

func TestStartAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, true, bash("slow", "sleep 5"))

	attempt, err := f.runner.Start(f.id, Options{}, false)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, err := f.runner.Start(f.id, Options{}, false); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected second start to conflict, got %v", err)
	}
	f.runner.Cancel(f.id)
	f.runner.Wait()

	stored, _ := f.attempts.Get(context.Background(), attempt.ID)
	if stored.Phase != attempts.PhaseFailed {
		t.Fatalf("expected canceled attempt to fail, got %#v", stored)
	}
}

func TestCancelAndWaitLeavesNothingBehindDelete(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, true, bash("slow", "sleep 5"))

	if _, err := f.runner.Start(f.id, Options{}, false); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		latest, _ := f.attempts.Latest(context.Background(), f.id)
		if latest != nil && latest.Phase == attempts.PhaseExecuting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt never reached execution: %#v", latest)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.runner.CancelAndWait(ctx, f.id); err != nil {
		t.Fatalf("CancelAndWait returned error: %v", err)
	}
	if err := f.store.Delete(f.id); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	f.runner.Wait()
	if f.store.Exists(f.id) {
		t.Fatal("run directory was recreated after delete")
	}
	if err := f.runner.CancelAndWait(ctx, f.id); err != nil {
		t.Fatalf("CancelAndWait on an idle run returned error: %v", err)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestAttemptOutcomesAreNotified(t *testing.T) {
	f := newFixture(t, nil)
	rec := &recordingNotifier{}
	f.runner.SetNotifier(rec)

	f.seedPlan(t, true, bash("a", "exit 1"))
	if _, err := f.runner.Run(context.Background(), f.id, Options{}); err == nil {
		t.Fatal("expected failing run")
	}
	f.seedPlan(t, true, bash("a", writeOutput))
	if _, err := f.runner.Run(context.Background(), f.id, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []notifications.Event{notifications.EventAttemptFailed, notifications.EventAttemptCompleted}
	if !slices.Equal(rec.events, want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	failed := rec.payloads[0]
	if failed.RunID != f.id || failed.Phase != string(attempts.PhaseExecuting) || !slices.Equal(failed.FailedScripts, []string{"a"}) {
		t.Fatalf("unexpected failure payload: %#v", failed)
	}
	if failed.Description != "amplicon run" {
		t.Fatalf("description = %q", failed.Description)
	}
}
