package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CurrentName is the link daemonrun points at the active session log.
const CurrentName = "aco.log"

// DefaultLimit caps pages when the caller gives no limit.
const DefaultLimit = 200

const maxLineBytes = 1 << 20

// Request selects a page of log lines.
type Request struct {
	// Offset is the byte position to read from; negative means the last Limit lines.
	Offset int64
	Limit  int
	// Search keeps only lines containing the substring, case-insensitively.
	Search string
	Follow bool
	Wait   time.Duration
}

// Page is the result of one Read.
type Page struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// CurrentPath returns the active log path under logDir.
func CurrentPath(logDir string) string {
	return filepath.Join(logDir, CurrentName)
}

// Read returns lines from path. A missing file yields an empty page at offset 0.
func Read(ctx context.Context, path string, req Request) (Page, error) {
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Wait < 0 {
		req.Wait = 0
	}
	page, err := readPage(path, req)
	if err != nil || !req.Follow || req.Wait == 0 || len(page.Lines) > 0 {
		return page, err
	}
	req.Offset = page.Offset
	return waitForLines(ctx, path, req)
}

func readPage(path string, req Request) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{Lines: []string{}}, nil
		}
		return Page{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Page{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Page{}, fmt.Errorf("log path %q is a directory", path)
	}

	start := req.Offset
	tail := start < 0
	// An offset past the end means the log was replaced; start over.
	if tail || start > info.Size() {
		start = 0
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return Page{}, fmt.Errorf("seek log file: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(req.Search))
	lines := make([]string, 0, min(req.Limit, 64))
	reader := bufio.NewReaderSize(file, 64*1024)
	pos := start
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Page{}, fmt.Errorf("read log file: %w", err)
		}
		if !strings.HasSuffix(line, "\n") {
			// Leave a partially written last line for the next read.
			break
		}
		pos += int64(len(line))
		text := strings.TrimRight(line, "\r\n")
		if len(text) > maxLineBytes {
			text = text[:maxLineBytes]
		}
		if needle != "" && !strings.Contains(strings.ToLower(text), needle) {
			continue
		}
		lines = append(lines, text)
		if tail {
			if len(lines) > req.Limit {
				lines = lines[1:]
			}
		} else if len(lines) == req.Limit {
			break
		}
	}
	return Page{Lines: lines, Offset: pos}, nil
}

func waitForLines(ctx context.Context, path string, req Request) (Page, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Page{}, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return Page{}, fmt.Errorf("watch log directory: %w", err)
	}

	timer := time.NewTimer(req.Wait)
	defer timer.Stop()
	empty := Page{Lines: []string{}, Offset: req.Offset}
	for {
		select {
		case <-ctx.Done():
			return empty, ctx.Err()
		case <-timer.C:
			return readPage(path, req)
		case err, ok := <-watcher.Errors:
			if !ok {
				return empty, nil
			}
			return empty, fmt.Errorf("watch log file: %w", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return empty, nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			page, err := readPage(path, req)
			if err != nil || len(page.Lines) > 0 {
				return page, err
			}
		}
	}
}
