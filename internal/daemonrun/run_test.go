package daemonrun

import (
	"os"
	"path/filepath"
	"testing"

	"aco/internal/testsupport"
)

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "aco-1.log")
	second := filepath.Join(dir, "aco-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dir, "aco.log"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != second {
		t.Fatalf("expected pointer to %s, got %s", second, target)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if got := ReadPID(cfg); got != 0 {
		t.Fatalf("expected 0 without pid file, got %d", got)
	}
	if err := writePIDFile(filepath.Join(cfg.Paths.StateDir, "aco.pid")); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if got := ReadPID(cfg); got != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), got)
	}
}
