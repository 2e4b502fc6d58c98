package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"aco/internal/services"
)

// DefaultMaxDepth bounds how deep Scan descends below the root.
const DefaultMaxDepth = 10

// Options tunes a scan.
type Options struct {
	MaxDepth      int
	IncludeHidden bool
}

type walker struct {
	opts    Options
	result  *ScanResult
	visited map[string]struct{}
	// bundled is the size of listed files already counted in a bundle total.
	bundled int64
}

// Scan inventories root. The context is checked between directories.
func Scan(ctx context.Context, root string, opts Options) (*ScanResult, error) {
	started := time.Now()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if strings.TrimSpace(root) == "" {
		return nil, services.Wrap(services.ErrValidation, "scan", "resolve root", "path is required", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "scan", "resolve root", "invalid path "+root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrValidation, "scan", "resolve root", "path does not exist: "+abs, nil)
		}
		return nil, services.Wrap(services.ErrValidation, "scan", "resolve root", "cannot access "+abs, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "scan", "resolve root", "path is not a directory: "+abs, nil)
	}

	w := &walker{
		opts: opts,
		result: &ScanResult{
			ScanPath:    abs,
			ScannedAt:   started.UTC(),
			Files:       []FileMetadata{},
			Directories: []DirectoryMetadata{},
			Samples:     []string{},
			Warnings:    []string{},
		},
		visited: make(map[string]struct{}),
	}
	if err := w.walk(ctx, abs, 0); err != nil {
		return nil, err
	}
	w.finish()
	w.result.ScanDurationMS = time.Since(started).Milliseconds()
	return w.result, nil
}

func (w *walker) walk(ctx context.Context, dir string, depth int) error {
	if depth > w.opts.MaxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrTransient, "scan", "walk", "scan canceled", err)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	if _, seen := w.visited[resolved]; seen {
		return nil
	}
	w.visited[resolved] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return services.Wrap(services.ErrValidation, "scan", "read root", "cannot read directory "+dir, err)
		}
		w.warn("skipped unreadable directory %s: %v", dir, err)
		return nil
	}

	if isBundle(dir, entries) {
		bundle := summarizeBundle(dir)
		w.result.Directories = append(w.result.Directories, bundle)
		for _, entry := range entries {
			if w.skip(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if w.addFile(path, info) {
				w.bundled += info.Size()
			}
		}
		return nil
	}

	for _, entry := range entries {
		if w.skip(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			w.warn("skipped %s: %v", path, err)
			continue
		}
		switch {
		case info.IsDir():
			if err := w.walk(ctx, path, depth+1); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			w.addFile(path, info)
		}
	}
	return nil
}

func (w *walker) skip(name string) bool {
	return !w.opts.IncludeHidden && strings.HasPrefix(name, ".")
}

func (w *walker) warn(format string, args ...any) {
	w.result.Warnings = append(w.result.Warnings, fmt.Sprintf(format, args...))
}

// addFile records a classified file and reports whether it was listed.
func (w *walker) addFile(path string, info fs.FileInfo) bool {
	name := info.Name()
	fileType := Classify(name)
	if fileType == FileTypeUnknown {
		w.result.UnknownCount++
		return false
	}
	meta := FileMetadata{
		Path:       path,
		Filename:   name,
		FileType:   fileType,
		SizeBytes:  info.Size(),
		SizeHuman:  HumanSize(info.Size()),
		ModifiedAt: info.ModTime().UTC(),
		ParentDir:  filepath.Base(filepath.Dir(path)),
	}
	if compressed, kind := DetectCompression(name); compressed {
		meta.IsCompressed = true
		meta.CompressionType = ptr(kind)
	}
	if fileType == FileTypeFASTQ {
		parsed := ParseFASTQName(name)
		meta.SampleName = parsed.Sample
		meta.Barcode = parsed.Barcode
		meta.Lane = parsed.Lane
		meta.ReadNumber = parsed.Read
	}
	w.result.Files = append(w.result.Files, meta)
	return true
}

func (w *walker) finish() {
	r := w.result
	samples := make(map[string]struct{})
	var size int64
	for _, f := range r.Files {
		size += f.SizeBytes
		switch f.FileType {
		case FileTypeFASTQ:
			r.FastqCount++
			if f.SampleName != nil {
				samples[*f.SampleName] = struct{}{}
			}
		case FileTypeBAM, FileTypeSAM, FileTypeCRAM:
			r.BamCount++
		}
	}
	size -= w.bundled
	for _, d := range r.Directories {
		size += d.TotalSizeBytes
	}
	for name := range samples {
		r.Samples = append(r.Samples, name)
	}
	sort.Strings(r.Samples)

	r.TotalFiles = len(r.Files)
	r.TotalSizeBytes = size
	r.TotalSizeHuman = HumanSize(size)
	r.CellRangerCount = len(r.Directories)
	r.OtherCount = r.TotalFiles - r.FastqCount - r.BamCount
}

func isBundle(dir string, entries []os.DirEntry) bool {
	if filepath.Base(dir) == "outs" {
		return true
	}
	found := 0
	for _, entry := range entries {
		if _, ok := cellRangerMarkers[entry.Name()]; ok {
			found++
		}
	}
	return found >= 2
}

func summarizeBundle(dir string) DirectoryMetadata {
	meta := DirectoryMetadata{
		Path:     dir,
		Name:     filepath.Base(dir),
		DirType:  DirTypeCellRanger,
		KeyFiles: []string{},
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir {
				if _, ok := cellRangerMarkers[d.Name()]; ok {
					meta.KeyFiles = append(meta.KeyFiles, d.Name())
				}
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		meta.FileCount++
		meta.TotalSizeBytes += info.Size()
		if _, ok := cellRangerMarkers[d.Name()]; ok {
			meta.KeyFiles = append(meta.KeyFiles, d.Name())
		}
		return nil
	})
	meta.TotalSizeHuman = HumanSize(meta.TotalSizeBytes)
	return meta
}
