// Package chat implements the per-step conversation that lets a user ask
// questions about a run and request revisions of the step's artifact. History
// is kept per (run, step) and is append-only until cleared.
package chat
