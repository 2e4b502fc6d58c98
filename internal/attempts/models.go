package attempts

import (
	"fmt"
	"slices"
	"time"

	"aco/internal/services"
)

// Phase is the lifecycle position of a pipeline attempt.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseGeneratingCode Phase = "generating_code"
	PhaseCreatingEnv    Phase = "creating_env"
	PhaseInstallingDeps Phase = "installing_deps"
	PhaseExecuting      Phase = "executing"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
)

// ServerStopReason is recorded on attempts interrupted by a server restart.
const ServerStopReason = "Server stopped before the attempt finished"

var phaseOrder = []Phase{
	PhaseIdle,
	PhaseGeneratingCode,
	PhaseCreatingEnv,
	PhaseInstallingDeps,
	PhaseExecuting,
	PhaseComplete,
}

var activePhases = []Phase{
	PhaseGeneratingCode,
	PhaseCreatingEnv,
	PhaseInstallingDeps,
	PhaseExecuting,
}

// Steps are the phases an attempt completes on its way to PhaseComplete.
var Steps = activePhases

// Active reports whether an attempt in p is still running.
func (p Phase) Active() bool {
	return slices.Contains(activePhases, p)
}

// Terminal reports whether p ends an attempt.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Transition validates a phase change. Phases advance one step at a time;
// any non-terminal phase may fail, and a failed attempt may restart at code
// generation.
func Transition(from, to Phase) error {
	switch {
	case from == PhaseFailed && to == PhaseGeneratingCode:
		return nil
	case to == PhaseFailed && !from.Terminal():
		return nil
	}
	if i := slices.Index(phaseOrder, from); i >= 0 && i+1 < len(phaseOrder) && phaseOrder[i+1] == to {
		return nil
	}
	return services.Wrap(services.ErrConflict, "attempts", "transition",
		fmt.Sprintf("cannot move from %s to %s", from, to), nil)
}

// Attempt is one pass of the pipeline over a run.
type Attempt struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	Phase          Phase      `json:"phase"`
	CompletedSteps []Phase    `json:"completed_steps"`
	Error          string     `json:"error,omitempty"`
	FailedScripts  []string   `json:"failed_scripts"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Running reports whether the attempt has not yet finished. A freshly started
// idle attempt counts as running.
func (a *Attempt) Running() bool {
	return a != nil && !a.Phase.Terminal()
}
