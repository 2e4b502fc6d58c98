// Package daemonrun hosts the `aco serve` runtime: logging setup, service
// wiring, the credentials watcher, and signal-driven shutdown.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"aco/internal/config"
	"aco/internal/daemon"
	"aco/internal/logging"
	"aco/internal/preflight"
)

// Options configures server process runtime behavior.
type Options struct {
	LogLevel    string
	LogFormat   string
	Development bool
}

// Run starts the aco server and blocks until the context is cancelled or a
// termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("aco-%s.log", sessionID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	format := opts.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update aco.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "aco.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	svc, err := daemon.Wire(signalCtx, cfg, daemon.WireOptions{}, logger)
	if err != nil {
		logger.Error("wire services", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, svc, logger)
	if err != nil {
		_ = svc.Attempts.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	key, _ := svc.Credentials.Current()
	logPreflight(signalCtx, logger, cfg, key)

	go func() {
		if err := svc.Credentials.Watch(signalCtx); err != nil {
			logging.WarnWithContext(logger, "credentials watcher stopped", "credentials_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "keys saved by another process need a server restart"),
			)
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("server start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check paths.api_bind and that no other server uses the state directory"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("aco server shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// logPreflight records the toolchain and directory checks once at startup.
// The LLM check is skipped so startup never waits on the network.
func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, key string) {
	results := preflight.RunAll(ctx, cfg, preflight.Options{})
	for _, r := range results {
		if r.Passed {
			continue
		}
		impact := "pipeline runs will fail"
		if r.Optional {
			impact = "scripts needing this tool will fail"
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, impact),
			logging.String(logging.FieldErrorHint, "run `aco check` for details"),
		)
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("api_key_present", key != ""),
		logging.Int("checks", len(results)),
		logging.Bool("healthy", !preflight.Failed(results)),
		logging.Bool("export_enabled", cfg.Export.Enabled),
	)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "aco.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running server, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, "aco.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
