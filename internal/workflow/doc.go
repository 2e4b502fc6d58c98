// Package workflow sequences a run through its three phases and gates forward
// navigation on the artifacts each step produces.
//
// Steps carry a global index. A Tracker remembers the highest step index
// reached per run for the life of the process and otherwise derives it from
// the artifacts on disk, so a reloaded session lands on the same step it left.
// Backward navigation to any reached step is always allowed; moving forward
// requires the current step's artifact.
package workflow
