// Package runs owns the on-disk layout of a run directory.
//
// Every artifact of a run lives under <runs_dir>/<run_id>/ as one JSON document
// per kind, written atomically. Listing derives which stages are complete from
// artifact presence rather than a separate index, so a run directory copied
// between machines lists the same way.
//
// Writes are last-write-wins; callers serialise edits per run if they need to.
package runs
