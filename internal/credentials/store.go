package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"aco/internal/fileutil"
)

type fileState struct {
	APIKey    string `toml:"api_key"`
	UpdatedAt string `toml:"updated_at,omitempty"`
}

// FileStore persists the LLM API key in a TOML file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore builds a FileStore rooted at the provided path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored key. A missing file resolves to an empty key.
func (s *FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var state fileState
	if err := toml.Unmarshal(data, &state); err != nil {
		return "", fmt.Errorf("decode credentials: %w", err)
	}
	return strings.TrimSpace(state.APIKey), nil
}

// Save replaces the stored key.
func (s *FileStore) Save(apiKey, updatedAt string) error {
	data, err := toml.Marshal(fileState{APIKey: strings.TrimSpace(apiKey), UpdatedAt: updatedAt})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
