package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"aco/internal/fileutil"
	"aco/internal/services"
)

// Store reads and writes run artifacts beneath a root directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the runs directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of a run.
func (s *Store) Dir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// Path returns the file holding an artifact kind.
func (s *Store) Path(id string, kind Kind) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	rel, ok := relPath(kind)
	if !ok {
		return "", services.Wrap(services.ErrValidation, "runs", "resolve path", fmt.Sprintf("unknown artifact kind %q", kind), nil)
	}
	return filepath.Join(dir, rel), nil
}

// Sub returns a directory inside a run, such as ScriptsDir.
func (s *Store) Sub(id string, parts ...string) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, parts...)...), nil
}

// Exists reports whether the run directory exists.
func (s *Store) Exists(id string) bool {
	dir, err := s.Dir(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Has reports whether an artifact has been written.
func (s *Store) Has(id string, kind Kind) bool {
	path, err := s.Path(id, kind)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes v as the artifact of the given kind.
func (s *Store) Save(id string, kind Kind, v any) error {
	path, err := s.Path(id, kind)
	if err != nil {
		return err
	}
	if err := fileutil.WriteJSONAtomic(path, v); err != nil {
		return services.Wrap(services.ErrTransient, "runs", "save "+string(kind), "write artifact", err)
	}
	return nil
}

// Load decodes an artifact into v. It reports false when the artifact is absent.
func (s *Store) Load(id string, kind Kind, v any) (bool, error) {
	path, err := s.Path(id, kind)
	if err != nil {
		return false, err
	}
	return readJSON(path, v, "load "+string(kind))
}

// Remove deletes one artifact if present.
func (s *Store) Remove(id string, kind Kind) error {
	path, err := s.Path(id, kind)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "runs", "remove "+string(kind), "delete artifact", err)
	}
	return nil
}

// ResultPath is the per-script execution result file.
func (s *Store) ResultPath(id, script string) (string, error) {
	if err := ValidateScriptName(script); err != nil {
		return "", err
	}
	return s.Sub(id, filepath.FromSlash(ResultsDir), script+"_result.json")
}

// ChatPath is the message history file for a wizard step.
func (s *Store) ChatPath(id, step string) (string, error) {
	if err := ValidateScriptName(step); err != nil {
		return "", err
	}
	return s.Sub(id, ChatDir, step+".json")
}

// SaveFile writes raw bytes at a path relative to the run directory.
func (s *Store) SaveFile(id, rel string, data []byte) (string, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", services.Wrap(services.ErrValidation, "runs", "save file", "invalid relative path "+quote(rel), nil)
	}
	path := filepath.Join(dir, clean)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "runs", "save file", "write "+rel, err)
	}
	return path, nil
}

// Delete removes a run directory and everything in it.
func (s *Store) Delete(id string) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if !s.Exists(id) {
		return services.Wrap(services.ErrNotFound, "runs", "delete", "run not found: "+id, nil)
	}
	if err := os.RemoveAll(dir); err != nil {
		return services.Wrap(services.ErrTransient, "runs", "delete", "remove run directory", err)
	}
	return nil
}

// IDs returns every run id present on disk.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrTransient, "runs", "list", "read runs directory", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || ValidateID(entry.Name()) != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}

// List summarises every run, most recently updated first.
func (s *Store) List() ([]Summary, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		summary, err := s.Get(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ManifestID < summaries[j].ManifestID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func readJSON(path string, v any, op string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.Wrap(services.ErrTransient, "runs", op, "read artifact", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, services.Wrap(services.ErrTransient, "runs", op, "decode "+filepath.Base(path), err)
	}
	return true, nil
}
