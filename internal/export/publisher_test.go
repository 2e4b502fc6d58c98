package export

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"aco/internal/config"
	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/notebook"
	"aco/internal/report"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/strategy"
	"aco/internal/testsupport"
	"aco/internal/understanding"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (f *fakeUploader) Bucket() string { return "qc-bucket" }

func (f *fakeUploader) Put(_ context.Context, key string, _ []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[key] = contentType
	return nil
}

func (f *fakeUploader) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func newPublisher(t *testing.T, up Uploader) (*Publisher, *runs.Store, string) {
	t.Helper()
	store := runs.NewStore(filepath.Join(t.TempDir(), "runs"))
	manifests := manifest.NewService(store, scanner.Options{}, logging.NewNop())
	m, err := manifests.Create(context.Background(), manifest.UserIntake{ExperimentDescription: "PBMC"})
	if err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	fake := testsupport.NewFakeLLM(t)
	u := understanding.NewEngine(store, manifests, fake.Source(), logging.NewNop())
	s := strategy.NewEngine(store, manifests, u, fake.Source(), logging.NewNop())
	planner := scriptplan.NewPlanner(store, manifests, u, s, fake.Source(), 1, logging.NewNop())
	notebooks := notebook.NewGenerator(store, u, s, planner, fake.Source(), logging.NewNop())
	reports := report.NewGenerator(store, u, s, planner, notebooks, fake.Source(), logging.NewNop())
	return NewPublisher(store, planner, notebooks, reports, up, "aco", logging.NewNop()), store, m.ID
}

func seedArtifacts(t *testing.T, store *runs.Store, id string) {
	t.Helper()
	plan, err := scriptplan.New(id, []scriptplan.PlannedScript{
		{Name: "depth", Category: scriptplan.CategoryQCMetrics, ScriptType: scriptplan.TypePython, Code: "print(1)", Dependencies: []string{"pysam"}},
		{Name: "uncoded", Category: scriptplan.CategoryQCMetrics, ScriptType: scriptplan.TypeBash},
	})
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	nb := &notebook.GeneratedNotebook{Name: "qc", Language: notebook.LanguagePython, Title: "QC", Cells: []notebook.Cell{{CellType: notebook.CellCode, Source: "1"}}, GeneratedAt: time.Now().UTC()}
	rep := &report.GeneratedReport{Title: "QC", Summary: "fine", GeneratedAt: time.Now().UTC(), Format: report.FormatHTML}
	for kind, v := range map[runs.Kind]any{runs.KindPlan: plan, runs.KindNotebook: nb, runs.KindReport: rep} {
		if err := store.Save(id, kind, v); err != nil {
			t.Fatalf("seed %s: %v", kind, err)
		}
	}
}

func TestPublishUploadsArtifacts(t *testing.T) {
	up := &fakeUploader{}
	p, store, id := newPublisher(t, up)
	seedArtifacts(t, store, id)

	res, err := p.Publish(context.Background(), id)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := []string{
		"aco/" + id + "/notebook/qc.ipynb",
		"aco/" + id + "/report/qc_report.html",
		"aco/" + id + "/report/qc_report.json",
		"aco/" + id + "/scripts/depth.py",
		"aco/" + id + "/scripts/plan.json",
		"aco/" + id + "/scripts/requirements.txt",
	}
	if got := up.keys(); !slices.Equal(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	if res.Bucket != "qc-bucket" || len(res.Objects) != len(want) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ct := up.objects["aco/"+id+"/notebook/qc.ipynb"]; ct != notebook.ContentTypeIPYNB {
		t.Fatalf("notebook content type = %q", ct)
	}
}

func TestPublishNothingToExport(t *testing.T) {
	p, _, id := newPublisher(t, &fakeUploader{})
	if _, err := p.Publish(context.Background(), id); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPublishDisabled(t *testing.T) {
	p, _, id := newPublisher(t, nil)
	if p.Enabled() {
		t.Fatal("publisher without uploader should be disabled")
	}
	if _, err := p.Publish(context.Background(), id); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPublishUploadFailure(t *testing.T) {
	p, store, id := newPublisher(t, &fakeUploader{err: errors.New("access denied")})
	seedArtifacts(t, store, id)
	_, err := p.Publish(context.Background(), id)
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestPublishUnknownRun(t *testing.T) {
	p, _, _ := newPublisher(t, &fakeUploader{})
	if _, err := p.Publish(context.Background(), "missing-run"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), config.Export{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNewS3WithStaticCredentials(t *testing.T) {
	up, err := NewS3(context.Background(), config.Export{
		Bucket:          "qc",
		Endpoint:        "http://127.0.0.1:9000",
		PathStyle:       true,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	if up.Bucket() != "qc" {
		t.Fatalf("bucket = %q", up.Bucket())
	}
}
