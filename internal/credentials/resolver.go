package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"aco/internal/logging"
	"aco/internal/services"
)

// Sources reported by Resolve.
const (
	SourceRequest = "request"
	SourceFile    = "credentials_file"
	SourceConfig  = "config"
)

// ErrNoCredential is wrapped with services.ErrConfiguration when no key is available.
var ErrNoCredential = errors.New("no credential")

// Resolver picks the LLM API key for a request: an explicit override wins, then
// the persisted credentials file, then the configured or environment key.
type Resolver struct {
	store    *FileStore
	fallback string
	logger   *slog.Logger

	mu     sync.RWMutex
	stored string
}

// NewResolver loads the credentials file once. fallback is the key from config
// or the environment.
func NewResolver(store *FileStore, fallback string, logger *slog.Logger) *Resolver {
	r := &Resolver{
		store:    store,
		fallback: strings.TrimSpace(fallback),
		logger:   logging.NewComponentLogger(logger, "credentials"),
	}
	r.reload()
	return r
}

// Resolve returns the key and where it came from.
func (r *Resolver) Resolve(override string) (string, string, error) {
	if key := strings.TrimSpace(override); key != "" {
		return key, SourceRequest, nil
	}
	r.mu.RLock()
	stored := r.stored
	r.mu.RUnlock()
	if stored != "" {
		return stored, SourceFile, nil
	}
	if r.fallback != "" {
		return r.fallback, SourceConfig, nil
	}
	return "", "", services.Wrap(
		services.ErrConfiguration,
		"credentials",
		"resolve",
		"set an API key with `aco config set-key`, GEMINI_API_KEY, or the X-API-Key header",
		ErrNoCredential,
	)
}

// Current returns the key that Resolve would use without an override.
func (r *Resolver) Current() (string, string) {
	key, source, err := r.Resolve("")
	if err != nil {
		return "", ""
	}
	return key, source
}

// Set persists a new key and makes it effective immediately.
func (r *Resolver) Set(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return services.Wrap(services.ErrValidation, "credentials", "set", "api key must not be empty", nil)
	}
	if r.store == nil {
		return services.Wrap(services.ErrConfiguration, "credentials", "set", "no credentials file configured", nil)
	}
	if err := r.store.Save(apiKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return services.Wrap(services.ErrConfiguration, "credentials", "set", "persist api key", err)
	}
	r.mu.Lock()
	r.stored = apiKey
	r.mu.Unlock()
	return nil
}

// Watch reloads the credentials file whenever it changes until ctx is done.
// Edits made by `aco config set-key` while the server runs take effect without
// a restart.
func (r *Resolver) Watch(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	dir := filepath.Dir(r.store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure credentials directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(r.store.Path())
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					r.logger.Debug("credentials file changed", logging.String("op", event.Op.String()))
					r.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("credentials watcher error",
					logging.Error(err),
					logging.String(logging.FieldEventType, "credentials_watch_failed"),
					logging.String(logging.FieldErrorHint, "restart the server to pick up key changes"),
				)
			}
		}
	}()
	return nil
}

func (r *Resolver) reload() {
	if r.store == nil {
		return
	}
	key, err := r.store.Load()
	if err != nil {
		r.logger.Warn("credentials file unreadable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "credentials_load_failed"),
			logging.String(logging.FieldErrorHint, "rewrite the key with `aco config set-key`"),
		)
		return
	}
	r.mu.Lock()
	r.stored = key
	r.mu.Unlock()
}

// Mask hides all but the edges of a key for display.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
