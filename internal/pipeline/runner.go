package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"aco/internal/attempts"
	"aco/internal/config"
	"aco/internal/logging"
	"aco/internal/notifications"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/services/uv"
)

// Options carries per-request settings for a pipeline run.
type Options struct {
	APIKey string
	// ExtraPackages are installed alongside the plan's requirements.
	ExtraPackages []string
}

// Runner executes script plans.
type Runner struct {
	store    *runs.Store
	planner  *scriptplan.Planner
	attempts *attempts.Store
	uv       *uv.Client
	cfg      config.Execution
	notifier notifications.Service
	logger   *slog.Logger

	envGroup singleflight.Group

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// job is a background attempt; done closes once it has stopped writing.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner wires a runner.
func NewRunner(store *runs.Store, planner *scriptplan.Planner, attemptStore *attempts.Store, uvClient *uv.Client, cfg config.Execution, logger *slog.Logger) *Runner {
	return &Runner{
		store:    store,
		planner:  planner,
		attempts: attemptStore,
		uv:       uvClient,
		cfg:      cfg,
		notifier: notifications.NewService(config.Notifications{}),
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		jobs:     make(map[string]*job),
	}
}

// SetNotifier replaces the service told about finished attempts.
func (r *Runner) SetNotifier(n notifications.Service) {
	if n != nil {
		r.notifier = n
	}
}

// GenerateAllCode writes code for every script still lacking it.
func (r *Runner) GenerateAllCode(ctx context.Context, id string, opts Options) (*scriptplan.CodeResult, error) {
	return r.planner.GenerateAllCode(ctx, id, scriptplan.Options{APIKey: opts.APIKey})
}

// Run executes a full attempt synchronously. The plan must be approved.
func (r *Runner) Run(ctx context.Context, id string, opts Options) (*attempts.Attempt, error) {
	return r.run(ctx, id, opts, false)
}

// Retry starts a fresh attempt that regenerates code for every script.
func (r *Runner) Retry(ctx context.Context, id string, opts Options) (*attempts.Attempt, error) {
	return r.run(ctx, id, opts, true)
}

// Start launches a full attempt in the background and returns once the
// attempt is recorded. Cancel stops it.
func (r *Runner) Start(id string, opts Options, retry bool) (*attempts.Attempt, error) {
	ctx, cancel := context.WithCancel(context.Background())
	attempt, err := r.begin(ctx, id)
	if err != nil {
		cancel()
		return nil, err
	}

	j := &job{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.jobs[id] == j {
				delete(r.jobs, id)
			}
			r.mu.Unlock()
			cancel()
			close(j.done)
		}()
		_ = r.drive(ctx, attempt, opts, retry)
	}()
	snapshot := *attempt
	return &snapshot, nil
}

// Cancel stops a background attempt. It reports whether one was running.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if ok {
		j.cancel()
	}
	return ok
}

// CancelAndWait cancels a background attempt and blocks until it has returned,
// so callers may remove the run's files afterwards. It gives up when ctx ends.
func (r *Runner) CancelAndWait(ctx context.Context, id string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	j.cancel()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return services.Wrap(services.ErrTimeout, "pipeline", "cancel", "attempt did not stop in time", ctx.Err())
	}
}

// Wait blocks until every background attempt has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status reports the latest attempt and the state of each script.
func (r *Runner) Status(ctx context.Context, id string) (*Status, error) {
	if !r.store.Exists(id) {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "status", "run not found: "+id, nil)
	}
	latest, err := r.attempts.Latest(ctx, id)
	if err != nil {
		return nil, err
	}
	status := &Status{RunID: id, Phase: attempts.PhaseIdle, Attempt: latest, Scripts: []ScriptStatus{}}
	if latest != nil {
		status.Phase = latest.Phase
		status.Running = latest.Running()
	}
	if plan, err := r.planner.Get(id); err == nil {
		for _, s := range plan.Ordered() {
			entry := ScriptStatus{Name: s.Name, State: s.State()}
			if s.Result != nil {
				ok := s.Result.Success
				entry.Success = &ok
			}
			status.Scripts = append(status.Scripts, entry)
		}
	}
	return status, nil
}

// Status is the pipeline view of a run.
type Status struct {
	RunID   string            `json:"run_id"`
	Phase   attempts.Phase    `json:"phase"`
	Running bool              `json:"running"`
	Attempt *attempts.Attempt `json:"attempt"`
	Scripts []ScriptStatus    `json:"scripts"`
}

// ScriptStatus is one script's progress.
type ScriptStatus struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Success *bool  `json:"success,omitempty"`
}

func (r *Runner) run(ctx context.Context, id string, opts Options, retry bool) (*attempts.Attempt, error) {
	attempt, err := r.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	err = r.drive(ctx, attempt, opts, retry)
	return attempt, err
}

// begin checks the plan gate and records a new attempt.
func (r *Runner) begin(ctx context.Context, id string) (*attempts.Attempt, error) {
	plan, err := r.planner.Get(id)
	if err != nil {
		return nil, err
	}
	if !plan.IsApproved {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "run", "script plan must be approved before execution", nil)
	}
	return r.attempts.Start(ctx, id)
}

func (r *Runner) drive(ctx context.Context, attempt *attempts.Attempt, opts Options, retry bool) error {
	id := attempt.RunID
	ctx = services.WithAttemptID(services.WithRunID(ctx, id), attempt.ID)
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("pipeline attempt started",
		logging.String(logging.FieldEventType, "attempt_start"),
		logging.Bool("retry", retry),
	)

	steps := []step{
		{phase: attempts.PhaseGeneratingCode, run: func(ctx context.Context) ([]string, error) {
			res, err := r.planner.GenerateAllCode(ctx, id, scriptplan.Options{APIKey: opts.APIKey, Force: retry})
			if res != nil && err != nil {
				return res.Failed, err
			}
			return nil, err
		}},
		{phase: attempts.PhaseCreatingEnv, run: func(ctx context.Context) ([]string, error) {
			_, err := r.CreateEnv(ctx, id)
			return nil, err
		}},
		{phase: attempts.PhaseInstallingDeps, run: func(ctx context.Context) ([]string, error) {
			_, err := r.InstallDeps(ctx, id, opts.ExtraPackages)
			return nil, err
		}},
		{phase: attempts.PhaseExecuting, run: func(ctx context.Context) ([]string, error) {
			res, err := r.ExecuteAll(ctx, id)
			if err != nil {
				return nil, err
			}
			if !res.AllSucceeded {
				failed := res.Failed()
				return failed, services.Wrap(services.ErrExternalTool, "pipeline", "execute",
					"script execution failed for: "+strings.Join(failed, ", "), nil)
			}
			return nil, nil
		}},
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, logger, attempt, services.Wrap(services.ErrTransient, "pipeline", "run", "canceled", err), nil)
		}
		if err := r.runStep(ctx, logger, attempt, st); err != nil {
			return err
		}
	}
	if err := r.attempts.Advance(ctx, attempt, attempts.PhaseComplete); err != nil {
		return fmt.Errorf("persist attempt completion: %w", err)
	}
	logger.Info("pipeline attempt completed",
		logging.String(logging.FieldEventType, "attempt_complete"),
		logging.Int("steps", len(attempt.CompletedSteps)),
	)
	r.notify(ctx, logger, notifications.EventAttemptCompleted, attempt, "")
	return nil
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, attempt *attempts.Attempt, phase string) {
	payload := notifications.Payload{
		RunID:         attempt.RunID,
		AttemptID:     attempt.ID,
		Phase:         phase,
		Error:         attempt.Error,
		FailedScripts: attempt.FailedScripts,
	}
	end := time.Now().UTC()
	if attempt.FinishedAt != nil {
		end = *attempt.FinishedAt
	}
	payload.Duration = end.Sub(attempt.StartedAt)
	if summary, err := r.store.Get(attempt.RunID); err == nil {
		payload.Description = summary.Description
	}
	if err := r.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logger, "attempt notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the attempt outcome was recorded but not pushed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
