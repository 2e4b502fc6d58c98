package runs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aco/internal/runs"
	"aco/internal/services"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := runs.NewStore(t.TempDir())
	if err := store.Save("run-1", runs.KindStrategy, doc{Name: "s", Count: 2}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	var got doc
	ok, err := store.Load("run-1", runs.KindStrategy, &got)
	if err != nil || !ok {
		t.Fatalf("Load returned ok=%v err=%v", ok, err)
	}
	if got != (doc{Name: "s", Count: 2}) {
		t.Fatalf("unexpected document: %+v", got)
	}
	path, _ := store.Path("run-1", runs.KindStrategy)
	if filepath.Base(filepath.Dir(path)) != "strategy" {
		t.Fatalf("unexpected layout: %s", path)
	}

	ok, err = store.Load("run-1", runs.KindReport, &got)
	if err != nil || ok {
		t.Fatalf("expected absent report, got ok=%v err=%v", ok, err)
	}
}

func TestRejectsTraversalIDs(t *testing.T) {
	store := runs.NewStore(t.TempDir())
	for _, id := range []string{"", "../etc", "a/b", ".hidden", "a b"} {
		if err := store.Save(id, runs.KindManifest, doc{}); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", id, err)
		}
	}
	if _, err := store.SaveFile("run-1", "../escape.txt", []byte("x")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected relative path escape to fail, got %v", err)
	}
	if _, err := store.ResultPath("run-1", "../qc"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected script name escape to fail, got %v", err)
	}
}

func TestListDerivesStagesAndSortsByUpdate(t *testing.T) {
	root := t.TempDir()
	store := runs.NewStore(root)

	if err := store.Save("older", runs.KindManifest, map[string]any{
		"created_at": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"status":     "ready",
		"user_intake": map[string]any{
			"experiment_description": "10x PBMC\nsecond line",
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("older", runs.KindUnderstanding, map[string]any{"assay_name": "10x 3' v3"}); err != nil {
		t.Fatal(err)
	}
	resultPath, _ := store.ResultPath("older", "read_qc")
	if err := os.MkdirAll(filepath.Dir(resultPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(resultPath, []byte(`{"success":true}`), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	_ = filepath.Walk(filepath.Join(root, "older"), func(path string, info os.FileInfo, err error) error {
		if err == nil {
			_ = os.Chtimes(path, past, past)
		}
		return nil
	})

	if err := store.Save("newer", runs.KindManifest, map[string]any{"status": "draft"}); err != nil {
		t.Fatal(err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 2 || list[0].ManifestID != "newer" {
		t.Fatalf("expected newer run first, got %+v", list)
	}
	older := list[1]
	want := []string{runs.StageManifest, runs.StageUnderstanding, runs.StageExecute}
	if len(older.StagesCompleted) != len(want) {
		t.Fatalf("unexpected stages: %v", older.StagesCompleted)
	}
	for i := range want {
		if older.StagesCompleted[i] != want[i] {
			t.Fatalf("unexpected stages: %v", older.StagesCompleted)
		}
	}
	if !older.HasUnderstanding || !older.HasScripts || older.HasReport {
		t.Fatalf("unexpected flags: %+v", older)
	}
	if older.AssayType == nil || *older.AssayType != "10x 3' v3" {
		t.Fatalf("unexpected assay: %v", older.AssayType)
	}
	if older.Description != "10x PBMC" || older.Status != "ready" {
		t.Fatalf("unexpected manifest head: %+v", older)
	}
}

func TestDeleteRemovesRun(t *testing.T) {
	store := runs.NewStore(t.TempDir())
	if err := store.Save("run-1", runs.KindManifest, doc{}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("run-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if store.Exists("run-1") {
		t.Fatal("expected run directory to be removed")
	}
	if err := store.Delete("run-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := store.Get("run-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found from Get, got %v", err)
	}
}

func TestCompareBounds(t *testing.T) {
	store := runs.NewStore(t.TempDir())
	for _, id := range []string{"a", "b"} {
		if err := store.Save(id, runs.KindUnderstanding, map[string]any{
			"assay_name":     "bulk RNA",
			"sample_count":   4,
			"key_parameters": map[string]any{"Organism": "human"},
		}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.Compare([]string{"a"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for one run, got %v", err)
	}
	if _, err := store.Compare([]string{"a", "b", "c", "d", "e", "f"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for six runs, got %v", err)
	}
	if _, err := store.Compare([]string{"a", "missing"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	cmp, err := store.Compare([]string{"a", "b"})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(cmp.Metrics) != 2 || cmp.Metrics[0]["species"] != "human" || cmp.Metrics[0]["read_count"] != "Unknown" {
		t.Fatalf("unexpected metrics: %+v", cmp.Metrics)
	}
}
