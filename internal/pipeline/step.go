package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aco/internal/attempts"
	"aco/internal/logging"
	"aco/internal/notifications"
	"aco/internal/services"
)

type step struct {
	phase attempts.Phase
	run   func(context.Context) ([]string, error)
}

// runStep moves the attempt into the step's phase, runs it, and records a
// failure on the attempt.
func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, attempt *attempts.Attempt, st step) error {
	if err := r.attempts.Advance(ctx, attempt, st.phase); err != nil {
		return fmt.Errorf("persist %s transition: %w", st.phase, err)
	}
	stepCtx := services.WithStep(ctx, string(st.phase))
	stepLogger := logging.WithContext(stepCtx, r.logger)
	stepLogger.Info("pipeline step started",
		logging.String(logging.FieldEventType, "step_start"),
	)
	failed, err := st.run(stepCtx)
	if err != nil {
		return r.fail(stepCtx, stepLogger, attempt, err, failed)
	}
	stepLogger.Info("pipeline step completed",
		logging.String(logging.FieldEventType, "step_complete"),
	)
	return nil
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, attempt *attempts.Attempt, stepErr error, failedScripts []string) error {
	message := strings.TrimSpace(services.Detail(stepErr))
	if message == "" {
		message = strings.TrimSpace(stepErr.Error())
	}
	logging.ErrorWithContext(logger, "pipeline attempt failed", "attempt_failure",
		logging.String("phase", string(attempt.Phase)),
		logging.String("error_message", message),
		logging.Error(stepErr),
		logging.String(logging.FieldErrorHint, "fix the failing step and retry the pipeline"),
	)
	phase := string(attempt.Phase)
	// The attempt context may already be canceled; persist the failure regardless.
	if err := r.attempts.Fail(context.WithoutCancel(ctx), attempt, message, failedScripts); err != nil {
		logger.Error("failed to persist attempt failure", logging.Error(err))
	}
	r.notify(ctx, logger, notifications.EventAttemptFailed, attempt, phase)
	return stepErr
}
