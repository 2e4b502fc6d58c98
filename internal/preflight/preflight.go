package preflight

import (
	"context"
	"strings"

	"aco/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// Options controls RunAll.
type Options struct {
	// APIKey enables the LLM reachability check when set.
	APIKey string
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Runs directory", cfg.Paths.RunsDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	results = append(results, CheckToolchain(cfg.Execution)...)

	if key := strings.TrimSpace(opts.APIKey); key != "" {
		llmCfg := cfg.GetLLM()
		llmCfg.APIKey = key
		results = append(results, CheckLLM(ctx, "LLM", llmCfg))
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
