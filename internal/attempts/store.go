package attempts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"aco/internal/services"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const attemptColumns = "id, run_id, phase, completed_steps_json, error_message, failed_scripts_json, started_at, updated_at, finished_at"

// Store manages attempt persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the attempts database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure attempts directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps the pragmas below in force for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Start records a new idle attempt for a run. A run may have only one attempt
// in progress.
func (s *Store) Start(ctx context.Context, runID string) (*Attempt, error) {
	latest, err := s.Latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if latest.Running() {
		return nil, services.Wrap(services.ErrConflict, "attempts", "start",
			fmt.Sprintf("pipeline already running for %s (attempt %s, phase %s)", runID, latest.ID, latest.Phase), nil)
	}

	now := time.Now().UTC()
	attempt := &Attempt{
		ID:             uuid.NewString(),
		RunID:          runID,
		Phase:          PhaseIdle,
		CompletedSteps: []Phase{},
		FailedScripts:  []string{},
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO attempts (id, run_id, phase, completed_steps_json, failed_scripts_json, started_at, updated_at)
         VALUES (?, ?, ?, '[]', '[]', ?, ?)`,
		attempt.ID,
		attempt.RunID,
		attempt.Phase,
		formatTime(now),
		formatTime(now),
	); err != nil {
		if isSQLiteConstraint(err) {
			return nil, services.Wrap(services.ErrConflict, "attempts", "start",
				"pipeline already running for "+runID, err)
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return attempt, nil
}

// Get fetches an attempt by id. A missing attempt returns nil without error.
func (s *Store) Get(ctx context.Context, id string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return attempt, nil
}

// Latest returns the most recent attempt for a run, or nil when none exist.
func (s *Store) Latest(ctx context.Context, runID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE run_id = ? ORDER BY rowid DESC LIMIT 1`,
		runID,
	)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest attempt: %w", err)
	}
	return attempt, nil
}

// List returns a run's attempts, newest first. An empty runID lists every run.
func (s *Store) List(ctx context.Context, runID string) ([]*Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

// Advance moves an attempt to the next phase and records the phase it leaves
// as a completed step.
func (s *Store) Advance(ctx context.Context, attempt *Attempt, to Phase) error {
	if err := Transition(attempt.Phase, to); err != nil {
		return err
	}
	if attempt.Phase.Active() {
		attempt.CompletedSteps = append(attempt.CompletedSteps, attempt.Phase)
	}
	attempt.Phase = to
	if to.Terminal() {
		now := time.Now().UTC()
		attempt.FinishedAt = &now
	}
	return s.update(ctx, attempt)
}

// Fail ends an attempt with an error and the scripts that failed.
func (s *Store) Fail(ctx context.Context, attempt *Attempt, message string, failedScripts []string) error {
	if err := Transition(attempt.Phase, PhaseFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	attempt.Phase = PhaseFailed
	attempt.Error = message
	if failedScripts != nil {
		attempt.FailedScripts = failedScripts
	}
	attempt.FinishedAt = &now
	return s.update(ctx, attempt)
}

// DeleteRun removes every attempt of a run.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if err := s.execWithoutResultRetry(ctx, `DELETE FROM attempts WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	return nil
}

// FailInterrupted marks attempts that never finished as failed. The server
// calls it on startup, since no attempt survives a restart.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now().UTC())
	pending := append([]Phase{PhaseIdle}, activePhases...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(pending)), ", ")
	args := []any{PhaseFailed, ServerStopReason, now, now}
	for _, phase := range pending {
		args = append(args, phase)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE attempts SET phase = ?, error_message = ?, updated_at = ?, finished_at = ?
         WHERE phase IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted attempts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) update(ctx context.Context, attempt *Attempt) error {
	attempt.UpdatedAt = time.Now().UTC()
	steps, err := json.Marshal(attempt.CompletedSteps)
	if err != nil {
		return fmt.Errorf("encode completed steps: %w", err)
	}
	failed, err := json.Marshal(attempt.FailedScripts)
	if err != nil {
		return fmt.Errorf("encode failed scripts: %w", err)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE attempts
         SET phase = ?, completed_steps_json = ?, error_message = ?, failed_scripts_json = ?,
             updated_at = ?, finished_at = ?
         WHERE id = ?`,
		attempt.Phase,
		string(steps),
		nullableString(attempt.Error),
		string(failed),
		formatTime(attempt.UpdatedAt),
		nullableTime(attempt.FinishedAt),
		attempt.ID,
	); err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}
