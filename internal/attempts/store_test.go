package attempts_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"aco/internal/attempts"
	"aco/internal/services"
	"aco/internal/testsupport"
)

func TestStartAndAdvance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenAttempts(t, cfg)
	ctx := context.Background()

	attempt, err := store.Start(ctx, "manifest_abc")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if attempt.Phase != attempts.PhaseIdle || attempt.ID == "" {
		t.Fatalf("unexpected attempt: %#v", attempt)
	}

	for _, phase := range []attempts.Phase{
		attempts.PhaseGeneratingCode,
		attempts.PhaseCreatingEnv,
		attempts.PhaseInstallingDeps,
		attempts.PhaseExecuting,
		attempts.PhaseComplete,
	} {
		if err := store.Advance(ctx, attempt, phase); err != nil {
			t.Fatalf("Advance to %s failed: %v", phase, err)
		}
	}

	fetched, err := store.Get(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Phase != attempts.PhaseComplete || fetched.FinishedAt == nil {
		t.Fatalf("unexpected stored attempt: %#v", fetched)
	}
	if !slices.Equal(fetched.CompletedSteps, attempts.Steps) {
		t.Fatalf("completed steps = %v", fetched.CompletedSteps)
	}
}

func TestStartRejectsConcurrentAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenAttempts(t, cfg)
	ctx := context.Background()

	first, err := store.Start(ctx, "run")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Advance(ctx, first, attempts.PhaseGeneratingCode); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Start(ctx, "run"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := store.Start(ctx, "other"); err != nil {
		t.Fatalf("expected other run to start, got %v", err)
	}

	if err := store.Fail(ctx, first, "script execution failed for: b", []string{"b"}); err != nil {
		t.Fatal(err)
	}
	second, err := store.Start(ctx, "run")
	if err != nil {
		t.Fatalf("expected start after failure, got %v", err)
	}
	latest, err := store.Latest(ctx, "run")
	if err != nil || latest.ID != second.ID {
		t.Fatalf("expected latest to be the new attempt, got %#v, %v", latest, err)
	}
	all, err := store.List(ctx, "run")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two attempts, got %d, %v", len(all), err)
	}
	if all[1].Error != "script execution failed for: b" || !slices.Equal(all[1].FailedScripts, []string{"b"}) {
		t.Fatalf("unexpected failed attempt: %#v", all[1])
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to attempts.Phase
		ok       bool
	}{
		{attempts.PhaseIdle, attempts.PhaseGeneratingCode, true},
		{attempts.PhaseGeneratingCode, attempts.PhaseCreatingEnv, true},
		{attempts.PhaseGeneratingCode, attempts.PhaseExecuting, false},
		{attempts.PhaseIdle, attempts.PhaseComplete, false},
		{attempts.PhaseInstallingDeps, attempts.PhaseComplete, false},
		{attempts.PhaseExecuting, attempts.PhaseComplete, true},
		{attempts.PhaseIdle, attempts.PhaseFailed, true},
		{attempts.PhaseExecuting, attempts.PhaseExecuting, false},
		{attempts.PhaseExecuting, attempts.PhaseCreatingEnv, false},
		{attempts.PhaseExecuting, attempts.PhaseFailed, true},
		{attempts.PhaseFailed, attempts.PhaseGeneratingCode, true},
		{attempts.PhaseFailed, attempts.PhaseExecuting, false},
		{attempts.PhaseComplete, attempts.PhaseFailed, false},
		{attempts.PhaseComplete, attempts.PhaseGeneratingCode, false},
	}
	for _, tc := range tests {
		err := attempts.Transition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, services.ErrConflict) {
			t.Fatalf("%s -> %s: expected conflict, got %v", tc.from, tc.to, err)
		}
	}
}

func TestAdvanceRejectsSkippedPhases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenAttempts(t, cfg)
	ctx := context.Background()

	attempt, err := store.Start(ctx, "run")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := store.Advance(ctx, attempt, attempts.PhaseGeneratingCode); err != nil {
		t.Fatal(err)
	}
	if err := store.Advance(ctx, attempt, attempts.PhaseExecuting); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict skipping to executing, got %v", err)
	}
	if err := store.Advance(ctx, attempt, attempts.PhaseComplete); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict skipping to complete, got %v", err)
	}
	fetched, err := store.Get(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Phase != attempts.PhaseGeneratingCode || len(fetched.CompletedSteps) != 0 {
		t.Fatalf("rejected moves must not be stored: %#v", fetched)
	}
}

func TestConcurrentStartAdmitsOneAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenAttempts(t, cfg)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		conflicts int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Start(ctx, "run")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, services.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected start error: %v", err)
			}
		}()
	}
	wg.Wait()

	if started != 1 || conflicts != callers-1 {
		t.Fatalf("expected one start and %d conflicts, got %d and %d", callers-1, started, conflicts)
	}
	all, err := store.List(ctx, "run")
	if err != nil || len(all) != 1 {
		t.Fatalf("expected a single stored attempt, got %d, %v", len(all), err)
	}
}

func TestFailInterruptedAndDeleteRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenAttempts(t, cfg)
	ctx := context.Background()

	running, _ := store.Start(ctx, "run")
	for _, phase := range []attempts.Phase{attempts.PhaseGeneratingCode, attempts.PhaseCreatingEnv} {
		if err := store.Advance(ctx, running, phase); err != nil {
			t.Fatal(err)
		}
	}
	idle, _ := store.Start(ctx, "idle-run")

	count, err := store.FailInterrupted(ctx)
	if err != nil {
		t.Fatalf("FailInterrupted failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two interrupted attempts, got %d", count)
	}
	fetched, _ := store.Get(ctx, running.ID)
	if fetched.Phase != attempts.PhaseFailed || fetched.Error != attempts.ServerStopReason {
		t.Fatalf("unexpected attempt after restart: %#v", fetched)
	}
	if stale, _ := store.Get(ctx, idle.ID); stale.Phase != attempts.PhaseFailed {
		t.Fatalf("expected idle attempt failed, got %s", stale.Phase)
	}

	if err := store.DeleteRun(ctx, "run"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if latest, _ := store.Latest(ctx, "run"); latest != nil {
		t.Fatalf("expected no attempts after delete, got %#v", latest)
	}
	if missing, err := store.Get(ctx, "nope"); missing != nil || err != nil {
		t.Fatalf("expected nil for missing attempt, got %#v, %v", missing, err)
	}
}

func TestOpenReusesDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := attempts.Open(cfg.AttemptsDBPath())
	if err != nil {
		t.Fatal(err)
	}
	attempt, _ := store.Start(context.Background(), "run")
	_ = store.Close()

	reopened := testsupport.MustOpenAttempts(t, cfg)
	fetched, err := reopened.Get(context.Background(), attempt.ID)
	if err != nil || fetched == nil {
		t.Fatalf("expected attempt to survive reopen, got %#v, %v", fetched, err)
	}
}
