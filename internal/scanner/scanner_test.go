package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"aco/internal/scanner"
	"aco/internal/services"
	"aco/internal/testsupport"
)

func TestScanReportsFastqAndCellRangerBundle(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "sample1_R1.fastq.gz"), 2048)
	testsupport.WriteFile(t, filepath.Join(root, "sample1_R2.fastq.gz"), 2048)
	if err := os.MkdirAll(filepath.Join(root, "cellranger_run", "outs"), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := scanner.Scan(context.Background(), root, scanner.Options{})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.FastqCount != 2 {
		t.Fatalf("expected fastq_count=2, got %d", result.FastqCount)
	}
	if result.CellRangerCount != 1 {
		t.Fatalf("expected cellranger_count=1, got %d", result.CellRangerCount)
	}

	var r1 *scanner.FileMetadata
	for i := range result.Files {
		if result.Files[i].Filename == "sample1_R1.fastq.gz" {
			r1 = &result.Files[i]
		}
	}
	if r1 == nil {
		t.Fatal("expected sample1_R1.fastq.gz to be listed")
	}
	if r1.SampleName == nil || *r1.SampleName != "sample1" {
		t.Fatalf("unexpected sample name: %v", r1.SampleName)
	}
	if r1.ReadNumber == nil || *r1.ReadNumber != 1 {
		t.Fatalf("unexpected read number: %v", r1.ReadNumber)
	}
	if !r1.IsCompressed || r1.CompressionType == nil || *r1.CompressionType != "gzip" {
		t.Fatalf("expected gzip compression, got %+v", r1)
	}
	if len(result.Samples) != 1 || result.Samples[0] != "sample1" {
		t.Fatalf("unexpected samples: %v", result.Samples)
	}
	if result.TotalSizeBytes != 4096 || result.TotalSizeHuman != "4.0 KB" {
		t.Fatalf("unexpected totals: %d %q", result.TotalSizeBytes, result.TotalSizeHuman)
	}
}

func TestScanCountsAndSkipsHidden(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "aligned", "a.bam"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "aligned", "b.cram"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "calls.vcf.gz"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "notes.txt"), 10)
	testsupport.WriteFile(t, filepath.Join(root, ".cache", "hidden.fastq"), 10)
	testsupport.WriteFile(t, filepath.Join(root, ".hidden.bam"), 10)

	result, err := scanner.Scan(context.Background(), root, scanner.Options{})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.BamCount != 2 {
		t.Fatalf("expected bam_count=2, got %d", result.BamCount)
	}
	if result.FastqCount != 0 {
		t.Fatalf("expected hidden fastq to be skipped, got %d", result.FastqCount)
	}
	if result.OtherCount != 1 {
		t.Fatalf("expected vcf as other, got %d", result.OtherCount)
	}
	if result.UnknownCount != 1 {
		t.Fatalf("expected notes.txt counted as unknown, got %d", result.UnknownCount)
	}
	if result.TotalFiles != 3 {
		t.Fatalf("expected 3 listed files, got %d", result.TotalFiles)
	}
}

func TestScanDetectsMarkerBundleWithoutDescending(t *testing.T) {
	root := t.TempDir()
	run := filepath.Join(root, "pbmc")
	testsupport.WriteFile(t, filepath.Join(run, "metrics_summary.csv"), 100)
	testsupport.WriteFile(t, filepath.Join(run, "web_summary.html"), 100)
	testsupport.WriteFile(t, filepath.Join(run, "filtered_feature_bc_matrix", "matrix.mtx.gz"), 300)
	testsupport.WriteFile(t, filepath.Join(run, "nested", "deep.fastq"), 50)

	result, err := scanner.Scan(context.Background(), root, scanner.Options{})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.CellRangerCount != 1 {
		t.Fatalf("expected one bundle, got %d", result.CellRangerCount)
	}
	bundle := result.Directories[0]
	if bundle.DirType != scanner.DirTypeCellRanger || bundle.FileCount != 4 || bundle.TotalSizeBytes != 550 {
		t.Fatalf("unexpected bundle summary: %+v", bundle)
	}
	if result.FastqCount != 0 {
		t.Fatal("expected bundle not to be descended into")
	}
	if len(result.FilesOfType(scanner.FileTypeMetricsCSV)) != 1 || len(result.FilesOfType(scanner.FileTypeWebSummary)) != 1 {
		t.Fatalf("expected top-level bundle files to be classified, got %+v", result.Files)
	}
	if result.TotalSizeBytes != 550 {
		t.Fatalf("expected bundle files counted once, got %d", result.TotalSizeBytes)
	}
}

func TestScanHonoursMaxDepth(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "a", "top.fq"), 1)
	testsupport.WriteFile(t, filepath.Join(root, "a", "b", "c", "deep.fq"), 1)

	result, err := scanner.Scan(context.Background(), root, scanner.Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if result.FastqCount != 1 {
		t.Fatalf("expected only the shallow file, got %d", result.FastqCount)
	}
}

func TestScanRejectsBadRoots(t *testing.T) {
	file := filepath.Join(t.TempDir(), "reads.fastq")
	testsupport.WriteFile(t, file, 1)

	for _, path := range []string{filepath.Join(t.TempDir(), "missing"), file, ""} {
		_, err := scanner.Scan(context.Background(), path, scanner.Options{})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", path, err)
		}
	}
}

func TestScanWarnsOnUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	testsupport.WriteFile(t, filepath.Join(locked, "x.fastq"), 1)
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	result, err := scanner.Scan(context.Background(), root, scanner.Options{})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", result.Warnings)
	}
}

func TestScanStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := scanner.Scan(ctx, t.TempDir(), scanner.Options{}); err == nil {
		t.Fatal("expected canceled scan to fail")
	}
}
