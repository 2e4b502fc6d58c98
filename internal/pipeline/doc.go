// Package pipeline turns an approved script plan into executed results.
//
// A Runner drives one attempt through code generation, environment creation,
// dependency installation, and script execution, recording each phase in the
// attempts store. Each step can also be invoked on its own. Script failures are
// recorded as results and never abort the remaining scripts; an attempt fails
// when any script fails, naming the scripts in its error.
//
// Environments are uv virtual environments under the run's execution
// directory. Creation is idempotent and guarded by a file lock per run plus an
// in-process singleflight, so concurrent requests share one uv invocation.
package pipeline
