// Package daemon hosts the long-running aco server process.
//
// It wires the run store, engines, and pipeline runner behind a JSON HTTP API
// with flock-based locking to prevent two servers from sharing a state
// directory. On start it marks attempts left running by a previous process as
// failed, so a crashed server never leaves a run stuck mid-pipeline.
//
// Keep orchestration logic here: the workflow steps themselves live in their
// respective packages while the daemon focuses on startup, shutdown, request
// handling, and error mapping.
package daemon
