// Package config loads, normalizes, and validates aco configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEMINI_API_KEY and ACO_STORAGE_DIR. The Config type centralizes every knob
// the API server and CLI need, so run directories, the execution toolchain,
// and LLM credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
