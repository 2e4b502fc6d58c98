package understanding

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/services"
	"aco/internal/services/llm"
	"aco/internal/testsupport"
)

const validReply = `{
  "experiment_type": "single_cell_rna_seq",
  "experiment_type_confidence": 1.4,
  "reasoning": "R1 is 28bp",
  "assay_name": "10x Chromium 3' v3",
  "assay_platform": "10x_chromium",
  "read_structure": {
    "assay_name": "10x 3' v3",
    "total_reads": 2,
    "read_segments": [
      {"name": "Cell Barcode", "segment_type": "barcode", "start_position": 1, "end_position": 16, "length": 0, "read_number": 1},
      {"name": "UMI", "segment_type": "umi", "start_position": 17, "end_position": 28, "length": 12, "read_number": 1}
    ]
  },
  "samples": [{"sample_id": "PBMC", "files": ["PBMC_S1_L001_R1_001.fastq.gz"]}],
  "sample_count": 0,
  "quality_concerns": [{"title": "Low depth", "description": "small files", "severity": "warning", "affected_files": []}],
  "recommended_checks": [{"name": "barcode whitelist", "description": "match rate", "priority": "required"}],
  "summary": "PBMC single cell run"
}`

type fixture struct {
	engine    *Engine
	manifests *manifest.Service
	store     *runs.Store
	fake      *testsupport.FakeLLM
	id        string
}

func newFixture(t *testing.T, replies ...string) fixture {
	t.Helper()
	store := runs.NewStore(filepath.Join(t.TempDir(), "runs"))
	manifests := manifest.NewService(store, scanner.Options{}, logging.NewNop())
	m, err := manifests.Create(context.Background(), manifest.UserIntake{ExperimentDescription: "PBMC 10x v3"})
	if err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	fake := testsupport.NewFakeLLM(t, replies...)
	return fixture{
		engine:    NewEngine(store, manifests, fake.Source(), logging.NewNop()),
		manifests: manifests,
		store:     store,
		fake:      fake,
		id:        m.ID,
	}
}

func TestGenerateStoresUnderstanding(t *testing.T) {
	f := newFixture(t, "```json\n"+validReply+"\n```")

	u, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if u.ExperimentType != "single_cell_rna_seq" || u.ModelUsed != "fake-model" || u.IsApproved {
		t.Fatalf("unexpected understanding: %+v", u)
	}
	if u.ExperimentTypeConfidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", u.ExperimentTypeConfidence)
	}
	if u.SampleCount != 1 || u.ReadStructure.ReadSegments[0].Length != 16 {
		t.Fatalf("expected derived sample count and segment length, got %+v", u)
	}
	if !f.store.Has(f.id, runs.KindUnderstanding) {
		t.Fatal("expected understanding artifact")
	}

	prompt := testsupport.PromptText(f.fake.Requests()[0])
	if !strings.Contains(prompt, "PBMC 10x v3") {
		t.Fatalf("expected manifest context in prompt, got %q", prompt)
	}
	if !strings.Contains(testsupport.SystemText(f.fake.Requests()[0]), "single_cell_rna_seq") {
		t.Fatal("expected schema enums in system prompt")
	}

	again, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{})
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if again.Summary != u.Summary || f.fake.Calls() != 1 {
		t.Fatalf("expected cached understanding without another LLM call, calls=%d", f.fake.Calls())
	}
}

func TestGenerateFailureKeepsPrevious(t *testing.T) {
	f := newFixture(t, validReply, `{"experiment_type":"made_up"}`)
	if _, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := f.engine.Approve(f.id, nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{Regenerate: true})
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	var contractErr *llm.ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("expected contract violation, got %v", err)
	}

	kept, err := f.engine.Get(f.id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !kept.IsApproved || kept.ExperimentType != "single_cell_rna_seq" {
		t.Fatalf("expected previous approved understanding to survive, got %+v", kept)
	}
}

func TestRegenerateResetsApproval(t *testing.T) {
	f := newFixture(t, validReply, validReply)
	if _, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := f.engine.Approve(f.id, nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	u, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{Regenerate: true})
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if u.IsApproved || u.ApprovedAt != nil {
		t.Fatal("expected regeneration to clear approval")
	}
}

func TestGenerateMissingManifest(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Generate(context.Background(), "manifest_missing", GenerateOptions{}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.fake.Calls() != 0 {
		t.Fatal("expected no LLM call for a missing manifest")
	}
}

func TestGenerateWithoutCredential(t *testing.T) {
	f := newFixture(t)
	noKey := services.Wrap(services.ErrConfiguration, "credentials", "resolve", "no key", nil)
	f.engine.llm = llm.Static{Err: noKey}
	_, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{})
	if services.HTTPStatus(err) != 412 {
		t.Fatalf("expected 412 for missing credential, got %v", err)
	}
}

func TestApprovalGate(t *testing.T) {
	f := newFixture(t, validReply)
	if _, err := f.engine.RequireApproved(f.id); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict before generation, got %v", err)
	}
	if _, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := f.engine.RequireApproved(f.id); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict before approval, got %v", err)
	}

	approved, err := f.engine.Approve(f.id, map[string]string{"summary": "edited"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !approved.IsApproved || approved.ApprovedAt == nil || approved.Summary != "edited" {
		t.Fatalf("unexpected approved understanding: %+v", approved)
	}
	if _, err := f.engine.RequireApproved(f.id); err != nil {
		t.Fatalf("expected gate to pass after approval, got %v", err)
	}

	edited, err := f.engine.ApplyEdits(f.id, map[string]string{"assay_name": "GEM-X"})
	if err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	if edited.IsApproved || edited.UserEdits["assay_name"] != "GEM-X" || edited.UserEdits["summary"] != "edited" {
		t.Fatalf("expected edit to be recorded and approval cleared, got %+v", edited)
	}
}

func TestApplyEditsValidation(t *testing.T) {
	f := newFixture(t, validReply)
	if _, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tests := []map[string]string{
		{"experiment_type": "bogus"},
		{"sample_count": "-1"},
		{"generated_at": "yesterday"},
	}
	for _, edits := range tests {
		if _, err := f.engine.ApplyEdits(f.id, edits); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", edits, err)
		}
	}
	u, err := f.engine.ApplyEdits(f.id, map[string]string{"key_parameters.expected_cells": "10000", "sample_count": "4"})
	if err != nil {
		t.Fatalf("ApplyEdits: %v", err)
	}
	if u.KeyParameters["expected_cells"] != "10000" || u.SampleCount != 4 {
		t.Fatalf("unexpected edits result: %+v", u)
	}
}

func TestReplaceClearsApproval(t *testing.T) {
	f := newFixture(t, validReply)
	u, err := f.engine.Generate(context.Background(), f.id, GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := f.engine.Approve(f.id, nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	u.Summary = "replaced"
	u.IsApproved = true
	if err := f.engine.Replace(f.id, u); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, _ := f.engine.Get(f.id)
	if got.IsApproved || got.Summary != "replaced" {
		t.Fatalf("expected unapproved replacement, got %+v", got)
	}

	u.QualityConcerns = []QualityConcern{{Title: "x", Severity: "catastrophic"}}
	if err := f.engine.Replace(f.id, u); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected bad severity to be rejected, got %v", err)
	}
}
