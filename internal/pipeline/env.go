package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"aco/internal/fileutil"
	"aco/internal/logging"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/uv"
)

const (
	venvDir       = ".venv"
	envLockFile   = ".env.lock"
	installMarker = ".aco-installed"
)

// EnvResult reports the outcome of CreateEnv.
type EnvResult struct {
	VenvPath string `json:"venv_path"`
	Created  bool   `json:"created"`
}

// InstallResult reports the outcome of InstallDeps.
type InstallResult struct {
	Installed []string `json:"installed"`
	Output    string   `json:"output"`
}

// EnvStatus describes a run's environment.
type EnvStatus struct {
	VenvPath     string   `json:"venv_path"`
	Exists       bool     `json:"exists"`
	Python       string   `json:"python,omitempty"`
	Requirements []string `json:"requirements"`
	Installed    bool     `json:"installed"`
}

// CreateEnv creates the run's virtual environment. An environment whose
// interpreter already exists is reused.
func (r *Runner) CreateEnv(ctx context.Context, id string) (*EnvResult, error) {
	venv, err := r.venvPath(id)
	if err != nil {
		return nil, err
	}
	v, err, _ := r.envGroup.Do(id, func() (any, error) {
		return r.createEnv(ctx, id, venv)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EnvResult), nil
}

func (r *Runner) createEnv(ctx context.Context, id, venv string) (*EnvResult, error) {
	unlock, err := r.lockEnv(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if fileExists(uv.InterpreterPath(venv)) {
		return &EnvResult{VenvPath: venv, Created: false}, nil
	}
	if err := os.MkdirAll(filepath.Dir(venv), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "create env", "create execution directory", err)
	}
	start := time.Now()
	output, err := r.uv.CreateVenv(ctx, venv, seconds(r.cfg.EnvTimeoutSeconds))
	if err != nil {
		return nil, r.toolError(ctx, "create env", "virtual environment creation failed", output, err)
	}
	logging.WithContext(ctx, r.logger).Info("virtual environment created",
		logging.String(logging.FieldEventType, "env_created"),
		logging.String("venv_path", venv),
		logging.Duration("duration", time.Since(start)),
	)
	return &EnvResult{VenvPath: venv, Created: true}, nil
}

// InstallDeps installs the plan's requirements plus extra packages. Any
// package failure fails the whole install.
func (r *Runner) InstallDeps(ctx context.Context, id string, extra []string) (*InstallResult, error) {
	plan, err := r.planner.Get(id)
	if err != nil {
		return nil, err
	}
	venv, err := r.venvPath(id)
	if err != nil {
		return nil, err
	}
	if !fileExists(uv.InterpreterPath(venv)) {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "install deps", "create the environment before installing packages", nil)
	}
	reqs := scriptplan.Requirements(plan)
	packages := mergePackages(reqs, extra)
	if len(packages) == 0 {
		return &InstallResult{Installed: []string{}}, nil
	}

	unlock, err := r.lockEnv(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	output, err := r.uv.Install(ctx, venv, packages, seconds(r.cfg.InstallTimeoutSeconds))
	if err != nil {
		return nil, r.toolError(ctx, "install deps", "dependency installation failed", output, err)
	}
	marker := filepath.Join(venv, installMarker)
	if err := fileutil.WriteFileAtomic(marker, []byte(packageDigest(reqs)+"\n"), 0o644); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "install deps", "record installed packages", err)
	}
	logging.WithContext(ctx, r.logger).Info("dependencies installed",
		logging.String(logging.FieldEventType, "deps_installed"),
		logging.Int("packages", len(packages)),
	)
	return &InstallResult{Installed: packages, Output: output}, nil
}

// EnvStatus inspects the run's environment without changing it.
func (r *Runner) EnvStatus(id string) (*EnvStatus, error) {
	venv, err := r.venvPath(id)
	if err != nil {
		return nil, err
	}
	status := &EnvStatus{VenvPath: venv, Requirements: []string{}}
	if python := uv.InterpreterPath(venv); fileExists(python) {
		status.Exists = true
		status.Python = python
	}
	if plan, err := r.planner.Get(id); err == nil {
		status.Requirements = scriptplan.Requirements(plan)
	}
	if len(status.Requirements) == 0 {
		status.Installed = status.Exists
	} else if data, err := os.ReadFile(filepath.Join(venv, installMarker)); err == nil {
		status.Installed = strings.TrimSpace(string(data)) == packageDigest(status.Requirements)
	}
	return status, nil
}

func (r *Runner) venvPath(id string) (string, error) {
	if !r.store.Exists(id) {
		return "", services.Wrap(services.ErrNotFound, "pipeline", "env", "run not found: "+id, nil)
	}
	return r.store.Sub(id, runs.ExecutionDir, venvDir)
}

// lockEnv takes the per-run environment lock shared with other processes.
func (r *Runner) lockEnv(ctx context.Context, id string) (func(), error) {
	path, err := r.store.Sub(id, runs.ExecutionDir, envLockFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "lock env", "create execution directory", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTransient, "pipeline", "lock env", "canceled waiting for environment lock", err)
		}
		return nil, services.Wrap(services.ErrTransient, "pipeline", "lock env", "acquire environment lock", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "lock env", "environment is locked by another process", nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

func (r *Runner) toolError(ctx context.Context, op, message, output string, err error) error {
	logging.ErrorWithContext(logging.WithContext(ctx, r.logger), message, "uv_failed",
		logging.String("uv_binary", r.uv.Binary()),
		logging.String("output", truncate(output, 2000)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the uv output and the package names in the plan"),
	)
	detail := message
	if tail := lastLines(output, 5); tail != "" {
		detail += ": " + tail
	}
	return services.Wrap(services.ErrExternalTool, "pipeline", op, detail, err)
}

func mergePackages(base, extra []string) []string {
	out := slices.Clone(base)
	for _, pkg := range extra {
		pkg = strings.TrimSpace(pkg)
		if pkg != "" && !slices.Contains(out, pkg) {
			out = append(out, pkg)
		}
	}
	return out
}

func packageDigest(packages []string) string {
	sorted := slices.Clone(packages)
	slices.Sort(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-limit)
}
