// Package scriptplan models the set of QC scripts planned for a run: their
// declared contracts, their dependency-ordered execution order, and the diff and
// merge rules applied when a plan is regenerated.
//
// The Planner asks the LLM for plans and per-script source code. Execution
// lives in the pipeline package.
package scriptplan
