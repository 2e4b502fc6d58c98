package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"aco/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), logs.CurrentName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestReadLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	page, err := logs.Read(context.Background(), path, logs.Request{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !slices.Equal(page.Lines, []string{"b", "c"}) {
		t.Fatalf("unexpected lines: %#v", page.Lines)
	}
	if page.Offset != 6 {
		t.Fatalf("offset = %d, want 6", page.Offset)
	}
}

func TestReadFromOffsetHonoursLimit(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\n")

	page, err := logs.Read(context.Background(), path, logs.Request{Offset: 0, Limit: 2})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !slices.Equal(page.Lines, []string{"one", "two"}) || page.Offset != 8 {
		t.Fatalf("unexpected page: %#v", page)
	}
	next, err := logs.Read(context.Background(), path, logs.Request{Offset: page.Offset, Limit: 2})
	if err != nil {
		t.Fatalf("read next: %v", err)
	}
	if !slices.Equal(next.Lines, []string{"three"}) {
		t.Fatalf("unexpected next page: %#v", next)
	}
}

func TestReadSkipsPartialLineAndFilters(t *testing.T) {
	path := writeLog(t, "INFO started\nWARN disk low\nINFO done\nWARN par")

	page, err := logs.Read(context.Background(), path, logs.Request{Offset: -1, Limit: 10, Search: "warn"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !slices.Equal(page.Lines, []string{"WARN disk low"}) {
		t.Fatalf("unexpected lines: %#v", page.Lines)
	}
	if page.Offset != int64(len("INFO started\nWARN disk low\nINFO done\n")) {
		t.Fatalf("partial line consumed, offset = %d", page.Offset)
	}
}

func TestReadMissingFile(t *testing.T) {
	page, err := logs.Read(context.Background(), filepath.Join(t.TempDir(), "missing.log"), logs.Request{Offset: -1})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(page.Lines) != 0 || page.Offset != 0 {
		t.Fatalf("unexpected page: %#v", page)
	}
}

func TestReadOffsetPastEndRestarts(t *testing.T) {
	path := writeLog(t, "fresh\n")
	page, err := logs.Read(context.Background(), path, logs.Request{Offset: 4096})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !slices.Equal(page.Lines, []string{"fresh"}) {
		t.Fatalf("unexpected lines: %#v", page.Lines)
	}
}

func TestFollowWaitsForNewLines(t *testing.T) {
	path := writeLog(t, "start\n")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	first, err := logs.Read(ctx, path, logs.Request{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial read: %v", err)
	}

	type result struct {
		page logs.Page
		err  error
	}
	done := make(chan result, 1)
	go func() {
		page, err := logs.Read(ctx, path, logs.Request{Offset: first.Offset, Follow: true, Wait: 5 * time.Second})
		done <- result{page, err}
	}()

	time.Sleep(100 * time.Millisecond)
	appendLog(t, path, "later\n")

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("follow read: %v", res.err)
		}
		if !slices.Equal(res.page.Lines, []string{"later"}) {
			t.Fatalf("unexpected follow lines: %#v", res.page.Lines)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("follow read did not return")
	}
}

func TestFollowTimesOutEmpty(t *testing.T) {
	path := writeLog(t, "start\n")
	page, err := logs.Read(context.Background(), path, logs.Request{Offset: 6, Follow: true, Wait: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(page.Lines) != 0 || page.Offset != 6 {
		t.Fatalf("unexpected page: %#v", page)
	}
}
