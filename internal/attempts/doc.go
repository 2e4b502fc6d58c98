// Package attempts persists pipeline attempts in SQLite.
//
// An attempt records one pass of the execution pipeline for a run: the phase it
// reached, the steps it completed, the scripts that failed, and the error that
// stopped it. Phase changes go through Transition so an attempt only ever
// moves forward, except that a failed attempt may restart at code generation.
//
// The database is transient bookkeeping; run artifacts live on disk under the
// runs directory. Schema changes bump schemaVersion in schema.go and users
// delete the database to adopt them.
package attempts
