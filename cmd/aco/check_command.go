package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"aco/internal/credentials"
	"aco/internal/logging"
	"aco/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var (
		skipLLM bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directories, the script toolchain, and LLM access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			resolver := credentials.NewResolver(credentials.NewFileStore(cfg.CredentialsPath()), cfg.LLM.APIKey, logging.NewNop())
			key, source := resolver.Current()

			opts := preflight.Options{}
			if !skipLLM {
				opts.APIKey = key
			}
			results := preflight.RunAll(cmd.Context(), cfg, opts)
			if !skipLLM && key == "" {
				results = append(results, preflight.Result{Name: "LLM", Detail: "API key missing (run `aco config set-key`)"})
			}

			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Config: %s\n", ctx.configPath)
				if key != "" {
					fmt.Fprintf(out, "API key: %s (%s)\n", credentials.Mask(key), source)
				}
				for _, r := range results {
					kind := statusOK
					switch {
					case !r.Passed && r.Optional:
						kind = statusWarn
					case !r.Passed:
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if preflight.Failed(results) {
				return errors.New("one or more required checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "Skip the LLM reachability check")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
