// Command aco is the command-line entry point for the sequencing QC backend.
//
// `aco serve` runs the HTTP API. The remaining commands work directly on the
// run directory and attempt database, so they are usable with or without a
// running server:
//
//	aco scan <dir>            inventory a data directory
//	aco runs list|show|delete manage stored runs
//	aco pipeline run|status   execute an approved script plan
//	aco check                 preflight the toolchain and LLM key
//	aco config init|validate|set-key
package main
