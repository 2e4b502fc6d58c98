package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile creates path (and its parents) holding exactly size bytes. Files
// named like FASTQ get repeated four-line reads, anything else filler text.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	unit := []byte("ACGT")
	if isFASTQName(path) {
		unit = fastqRecords(8)
	}
	data := bytes.Repeat(unit, int(size)/len(unit)+1)[:size]
	mustWrite(t, path, data)
}

func fastqRecords(n int) []byte {
	var b bytes.Buffer
	seq := strings.Repeat("ACGTN", 10)
	qual := strings.Repeat("F", len(seq))
	for i := range n {
		fmt.Fprintf(&b, "@read%d 1:N:0:ACGTACGT\n%s\n+\n%s\n", i+1, seq, qual)
	}
	return b.Bytes()
}

func isFASTQName(path string) bool {
	name := strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".gz")
	return strings.HasSuffix(name, ".fastq") || strings.HasSuffix(name, ".fq")
}

func mustWrite(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
