package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"aco/internal/fileutil"
	"aco/internal/logging"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/uv"
)

// ExecuteResult is the outcome of ExecuteAll.
type ExecuteResult struct {
	Results      []scriptplan.ExecutionResult `json:"results"`
	AllSucceeded bool                         `json:"all_succeeded"`
}

// Failed returns the names of scripts that did not succeed.
func (e *ExecuteResult) Failed() []string {
	var out []string
	for _, res := range e.Results {
		if !res.Success {
			out = append(out, res.ScriptName)
		}
	}
	return out
}

// ExecuteAll runs every script of the plan in execution order. A failing
// script never stops the others. With max_parallel_scripts above one, scripts
// whose dependencies have all run are executed concurrently. Results come back
// in execution order.
func (r *Runner) ExecuteAll(ctx context.Context, id string) (*ExecuteResult, error) {
	plan, err := r.planner.Get(id)
	if err != nil {
		return nil, err
	}
	ordered := plan.Ordered()
	results := make([]*scriptplan.ExecutionResult, len(ordered))
	index := make(map[string]int, len(ordered))
	for i, s := range ordered {
		index[s.Name] = i
	}

	runOne := func(i int) {
		res := r.executeScript(ctx, id, *ordered[i])
		results[i] = &res
		r.recordResult(ctx, id, res)
	}

	parallel := r.cfg.MaxParallelScripts
	if parallel <= 1 {
		for i := range ordered {
			if ctx.Err() != nil {
				break
			}
			runOne(i)
		}
	} else {
		done := make([]bool, len(ordered))
		for ctx.Err() == nil {
			var wave []int
			for i, s := range ordered {
				if done[i] {
					continue
				}
				ready := true
				for _, dep := range s.DependsOn {
					if j, ok := index[dep]; ok && !done[j] {
						ready = false
						break
					}
				}
				if ready {
					wave = append(wave, i)
				}
			}
			if len(wave) == 0 {
				break
			}
			g := new(errgroup.Group)
			g.SetLimit(parallel)
			for _, i := range wave {
				g.Go(func() error {
					runOne(i)
					return nil
				})
			}
			_ = g.Wait()
			for _, i := range wave {
				done[i] = true
			}
		}
	}

	out := &ExecuteResult{Results: []scriptplan.ExecutionResult{}, AllSucceeded: true}
	for _, res := range results {
		if res == nil {
			continue
		}
		out.Results = append(out.Results, *res)
		if !res.Success {
			out.AllSucceeded = false
		}
	}
	if err := ctx.Err(); err != nil {
		return out, services.Wrap(services.ErrTransient, "pipeline", "execute", "canceled before all scripts ran", err)
	}
	return out, nil
}

// executeScript runs one script in its own process group and never returns an
// error: every failure becomes a result.
func (r *Runner) executeScript(ctx context.Context, id string, s scriptplan.PlannedScript) scriptplan.ExecutionResult {
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldScript, s.Name))
	started := time.Now().UTC()
	result := scriptplan.ExecutionResult{
		ScriptName:  s.Name,
		ExitCode:    -1,
		StartedAt:   &started,
		OutputFiles: []string{},
	}
	finish := func(msg string) scriptplan.ExecutionResult {
		completed := time.Now().UTC()
		result.CompletedAt = &completed
		result.DurationSeconds = completed.Sub(started).Seconds()
		if msg != "" {
			result.ErrorMessage = &msg
		}
		return result
	}

	if s.Code == "" {
		return finish("no code generated for script")
	}
	scriptPath, err := r.planner.ScriptPath(id, s)
	if err != nil {
		return finish(err.Error())
	}
	outputDir, err := r.planner.OutputDir(id, s)
	if err != nil {
		return finish(err.Error())
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return finish(fmt.Sprintf("create output directory: %v", err))
	}
	binary, env, err := r.interpreter(id, s.ScriptType)
	if err != nil {
		return finish(err.Error())
	}

	timeout := seconds(r.cfg.ScriptTimeoutSeconds)
	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, binary, scriptPath, "--output-dir", outputDir) //nolint:gosec
	cmd.Dir = filepath.Dir(outputDir)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	before := snapshotDir(outputDir)
	logger.Info("script started", logging.String(logging.FieldEventType, "script_start"))
	runErr := cmd.Run()
	result.Stdout = truncate(stdout.String(), r.cfg.OutputLimitBytes)
	result.Stderr = truncate(stderr.String(), r.cfg.OutputLimitBytes)

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
		result.Success = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = -1
		finish(fmt.Sprintf("Script timed out after %ds", r.cfg.ScriptTimeoutSeconds))
	case ctx.Err() != nil:
		result.ExitCode = -1
		finish("Script canceled")
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		finish(fmt.Sprintf("Script exited with code %d", result.ExitCode))
	default:
		finish(runErr.Error())
	}
	if result.CompletedAt == nil {
		finish("")
	}
	result.OutputFiles = discoverOutputs(outputDir, s.OutputPatterns, before)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "script_complete"),
		logging.Int("exit_code", result.ExitCode),
		logging.Float64("duration_seconds", result.DurationSeconds),
		logging.Int("output_files", len(result.OutputFiles)),
	}
	if result.Success {
		logger.Info("script completed", logging.Args(attrs...)...)
	} else {
		attrs[0] = logging.String(logging.FieldEventType, "script_failed")
		attrs = append(attrs,
			logging.String("error_message", deref(result.ErrorMessage)),
			logging.String(logging.FieldImpact, "script results missing from the report"),
		)
		logging.WarnWithContext(logger, "script failed", "script_failed", attrs...)
	}
	return result
}

// interpreter picks the binary and environment for a script type. Python
// scripts use the run's environment when it exists.
func (r *Runner) interpreter(id, scriptType string) (string, []string, error) {
	env := os.Environ()
	switch scriptType {
	case scriptplan.TypeBash:
		return r.cfg.BashBinary, env, nil
	case scriptplan.TypeR:
		return r.cfg.RscriptBinary, env, nil
	case scriptplan.TypePython:
		venv, err := r.venvPath(id)
		if err != nil {
			return "", nil, err
		}
		if python := uv.InterpreterPath(venv); fileExists(python) {
			env = append(env,
				"VIRTUAL_ENV="+venv,
				"PATH="+filepath.Join(venv, "bin")+string(os.PathListSeparator)+os.Getenv("PATH"),
			)
			return python, env, nil
		}
		return r.cfg.PythonBinary, env, nil
	default:
		return "", nil, fmt.Errorf("unsupported script type %q", scriptType)
	}
}

// recordResult stores a script result in the plan and as its own artifact.
func (r *Runner) recordResult(ctx context.Context, id string, res scriptplan.ExecutionResult) {
	logger := logging.WithContext(ctx, r.logger)
	if !r.store.Exists(id) {
		logger.Info("run deleted; dropping script result",
			logging.String(logging.FieldEventType, "result_dropped"),
			logging.String(logging.FieldScript, res.ScriptName),
		)
		return
	}
	if _, err := r.planner.Update(id, func(plan *scriptplan.ScriptPlan) error {
		if s, ok := plan.Script(res.ScriptName); ok {
			stored := res
			s.Result = &stored
		}
		return nil
	}); err != nil {
		logger.Error("failed to store script result", logging.String(logging.FieldScript, res.ScriptName), logging.Error(err))
	}
	path, err := r.store.ResultPath(id, res.ScriptName)
	if err == nil {
		err = fileutil.WriteJSONAtomic(path, res)
	}
	if err != nil {
		logger.Error("failed to write script result", logging.String(logging.FieldScript, res.ScriptName), logging.Error(err))
	}
}

// snapshotDir records the modification time of every file under dir.
func snapshotDir(dir string) map[string]time.Time {
	snap := make(map[string]time.Time)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			snap[path] = info.ModTime()
		}
		return nil
	})
	return snap
}

// discoverOutputs returns files matching the script's output patterns plus
// files the script created or modified in the output directory.
func discoverOutputs(outputDir string, patterns []string, before map[string]time.Time) []string {
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(outputDir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if fileExists(m) {
				seen[m] = struct{}{}
			}
		}
	}
	for path, mod := range snapshotDir(outputDir) {
		if prev, ok := before[path]; !ok || !prev.Equal(mod) {
			seen[path] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for path := range seen {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
