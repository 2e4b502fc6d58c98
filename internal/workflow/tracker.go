package workflow

import (
	"fmt"
	"log/slog"
	"sort"

	"aco/internal/logging"
	"aco/internal/runs"
	"aco/internal/scriptplan"
	"aco/internal/services"
	"aco/internal/understanding"
)

// StepState is a step as seen by one run.
type StepState struct {
	Step
	Complete  bool `json:"complete"`
	Reachable bool `json:"reachable"`
}

// Progress is a run's position in the workflow.
type Progress struct {
	RunID               string      `json:"run_id"`
	HighestVisitedIndex int         `json:"highest_visited_index"`
	CurrentStep         string      `json:"current_step"`
	CurrentPhase        string      `json:"current_phase"`
	Steps               []StepState `json:"steps"`
}

// CanNavigateTo reports whether step has been reached.
func (p *Progress) CanNavigateTo(step string) bool {
	s, err := Lookup(step)
	if err != nil {
		return false
	}
	return s.Index <= p.HighestVisitedIndex
}

// Tracker derives and remembers workflow progress.
type Tracker struct {
	store         *runs.Store
	understanding *understanding.Engine
	planner       *scriptplan.Planner
	logger        *slog.Logger
}

// NewTracker wires a tracker.
func NewTracker(store *runs.Store, u *understanding.Engine, planner *scriptplan.Planner, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:         store,
		understanding: u,
		planner:       planner,
		logger:        logging.NewComponentLogger(logger, "workflow"),
	}
}

// Progress recomputes a run's progress from its artifacts. The highest
// visited index is the furthest step whose predecessors are all complete, so a
// step whose predecessor artifact is missing is never reachable.
func (t *Tracker) Progress(runID string) (*Progress, error) {
	if !t.store.Exists(runID) {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "progress", "run not found: "+runID, nil)
	}
	complete := t.completion(runID)
	highest := 0
	for i := 1; i < len(steps); i++ {
		if !complete[i-1] {
			break
		}
		highest = i
	}

	progress := &Progress{
		RunID:               runID,
		HighestVisitedIndex: highest,
		CurrentStep:         steps[highest].Name,
		CurrentPhase:        steps[highest].Phase,
		Steps:               make([]StepState, len(steps)),
	}
	for i, s := range steps {
		progress.Steps[i] = StepState{Step: s, Complete: complete[i], Reachable: i <= highest}
	}
	return progress, nil
}

// CanNavigateTo reports whether the run may move to step.
func (t *Tracker) CanNavigateTo(runID, step string) (bool, error) {
	if _, err := Lookup(step); err != nil {
		return false, err
	}
	progress, err := t.Progress(runID)
	if err != nil {
		return false, err
	}
	return progress.CanNavigateTo(step), nil
}

// Advance leaves step for the next one. It fails unless step has been reached
// and its artifact exists.
func (t *Tracker) Advance(runID, step string) (*Progress, error) {
	s, err := Lookup(step)
	if err != nil {
		return nil, err
	}
	progress, err := t.Progress(runID)
	if err != nil {
		return nil, err
	}
	if s.Index > progress.HighestVisitedIndex {
		return nil, services.Wrap(services.ErrConflict, "workflow", "advance",
			fmt.Sprintf("step %q has not been reached", step), nil)
	}
	if !progress.Steps[s.Index].Complete {
		return nil, services.Wrap(services.ErrConflict, "workflow", "advance",
			fmt.Sprintf("%s requires %s", step, s.Requires), nil)
	}
	t.logger.Debug("workflow advanced",
		logging.String(logging.FieldEventType, "workflow_advance"),
		logging.String(logging.FieldRunID, runID),
		logging.String("from", step),
		logging.String("current", progress.CurrentStep),
	)
	return progress, nil
}

// MostRecent returns the run with the latest activity, or "" when there are none.
func (t *Tracker) MostRecent() (string, error) {
	summaries, err := t.store.List()
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "", nil
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries[0].ManifestID, nil
}

// completion reports, per step index, whether the step's artifact exists.
func (t *Tracker) completion(runID string) []bool {
	has := func(kind runs.Kind) bool { return t.store.Has(runID, kind) }
	done := make([]bool, len(steps))
	done[0] = has(runs.KindManifest)
	done[1] = has(runs.KindScan)
	if u, err := t.understanding.Get(runID); err == nil {
		done[2] = u.IsApproved
	}
	done[3] = has(runs.KindHypotheses) || has(runs.KindStrategy)
	done[4] = has(runs.KindStrategy)
	if plan, err := t.planner.Get(runID); err == nil {
		done[5] = plan.IsApproved && executedCleanly(plan)
	}
	done[6] = has(runs.KindPlots)
	done[7] = has(runs.KindNotebook)
	done[8] = has(runs.KindReport)
	return done
}

// executedCleanly reports whether every script has a successful result.
func executedCleanly(plan *scriptplan.ScriptPlan) bool {
	if len(plan.Scripts) == 0 {
		return false
	}
	for _, s := range plan.Scripts {
		if s.Result == nil || !s.Result.Success {
			return false
		}
	}
	return true
}
