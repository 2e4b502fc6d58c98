// Package preflight provides readiness checks for the directories, script
// toolchain, and LLM endpoint that aco depends on.
//
// These checks run in two contexts:
//   - `aco serve` logs the results once at startup so a broken toolchain is
//     visible before the first pipeline run.
//   - `aco check` prints every result and exits non-zero when a required
//     check fails.
//
// The LLM check is skipped when no API key is available.
package preflight
