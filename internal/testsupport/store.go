package testsupport

import (
	"testing"

	"aco/internal/attempts"
	"aco/internal/config"
)

// MustOpenAttempts opens the attempts store for cfg and registers cleanup.
func MustOpenAttempts(t testing.TB, cfg *config.Config) *attempts.Store {
	t.Helper()

	store, err := attempts.Open(cfg.AttemptsDBPath())
	if err != nil {
		t.Fatalf("attempts.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
