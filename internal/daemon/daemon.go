package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"aco/internal/attempts"
	"aco/internal/chat"
	"aco/internal/config"
	"aco/internal/credentials"
	"aco/internal/deps"
	"aco/internal/export"
	"aco/internal/logging"
	"aco/internal/manifest"
	"aco/internal/notebook"
	"aco/internal/pipeline"
	"aco/internal/report"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/strategy"
	"aco/internal/understanding"
	"aco/internal/workflow"
)

// Services are the components the API dispatches to.
type Services struct {
	Runs          *runs.Store
	Manifests     *manifest.Service
	Understanding *understanding.Engine
	Strategy      *strategy.Engine
	Planner       *scriptplan.Planner
	Pipeline      *pipeline.Runner
	Attempts      *attempts.Store
	Notebooks     *notebook.Generator
	Reports       *report.Generator
	Chat          *chat.Service
	Export        *export.Publisher
	Workflow      *workflow.Tracker
	Credentials   *credentials.Resolver
}

func (s Services) validate() error {
	switch {
	case s.Runs == nil, s.Manifests == nil, s.Understanding == nil, s.Strategy == nil:
		return errors.New("daemon requires run store, manifests, understanding, and strategy")
	case s.Planner == nil, s.Pipeline == nil, s.Attempts == nil, s.Workflow == nil:
		return errors.New("daemon requires planner, pipeline, attempts, and workflow")
	case s.Notebooks == nil, s.Reports == nil, s.Chat == nil, s.Credentials == nil:
		return errors.New("daemon requires notebooks, reports, chat, and credentials")
	}
	return nil
}

// Daemon owns the API server lifecycle and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	svc    Services
	logger *slog.Logger
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool          `json:"running"`
	PID             int           `json:"pid"`
	Address         string        `json:"address,omitempty"`
	AttemptsDBPath  string        `json:"attempts_db_path"`
	LockFilePath    string        `json:"lock_file_path"`
	RunsDir         string        `json:"runs_dir"`
	Dependencies    []deps.Status `json:"dependencies"`
	MissingRequired []string      `json:"missing_required,omitempty"`
}

// New constructs a daemon over the wired services.
func New(cfg *config.Config, svc Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if err := svc.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Handler exposes the API handler, mainly for tests.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Start acquires the lock, recovers interrupted attempts, and starts serving.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another aco server is already using this state directory")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if n, err := d.svc.Attempts.FailInterrupted(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "failed to recover interrupted attempts", "attempt_recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "runs interrupted by a crash may report running"),
		)
	} else if n > 0 {
		d.logger.Info("marked interrupted attempts as failed",
			logging.String(logging.FieldEventType, "attempts_recovered"),
			logging.Int64("count", n),
		)
	}

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("aco server started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop shuts the API down, waits for background attempts, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.svc.Pipeline.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release server lock", "lock_release_failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("aco server stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the attempt store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Attempts.Close()
}

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	statuses := deps.CheckBinaries(deps.Toolchain(d.cfg.Execution))
	return Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		Address:         d.api.addr(),
		AttemptsDBPath:  d.svc.Attempts.Path(),
		LockFilePath:    d.lockPath,
		RunsDir:         d.svc.Runs.Root(),
		Dependencies:    statuses,
		MissingRequired: deps.MissingRequired(statuses),
	}
}
