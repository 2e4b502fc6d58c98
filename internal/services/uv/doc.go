// Package uv wraps the uv CLI used to build per-run Python environments.
//
// The Client creates virtual environments and installs packages into them.
// Command execution goes through the Executor interface so tests can observe
// arguments and fake the environment layout without a real uv install.
package uv
