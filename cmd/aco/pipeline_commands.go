package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aco/internal/attempts"
	"aco/internal/pipeline"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run an approved script plan",
	}
	pipelineCmd.AddCommand(newPipelineRunCommand(ctx))
	pipelineCmd.AddCommand(newPipelineStatusCommand(ctx))
	return pipelineCmd
}

func newPipelineRunCommand(ctx *commandContext) *cobra.Command {
	var (
		retry  bool
		apiKey string
		extra  []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Generate code, build the environment, and execute every script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.wire(cmd.Context())
			if err != nil {
				return err
			}
			opts := pipeline.Options{APIKey: apiKey, ExtraPackages: extra}
			var attempt *attempts.Attempt
			if retry {
				attempt, err = svc.Pipeline.Retry(cmd.Context(), args[0], opts)
			} else {
				attempt, err = svc.Pipeline.Run(cmd.Context(), args[0], opts)
			}
			if attempt != nil && asJSON {
				if jsonErr := writeJSON(cmd, attempt); jsonErr != nil {
					return jsonErr
				}
			} else if attempt != nil {
				printAttempt(cmd, attempt)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "Start a fresh attempt that regenerates all code")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "LLM API key for this run")
	cmd.Flags().StringSliceVar(&extra, "package", nil, "Extra package to install (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the attempt as JSON")
	return cmd
}

func newPipelineStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the latest attempt and per-script state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.wire(cmd.Context())
			if err != nil {
				return err
			}
			status, err := svc.Pipeline.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Phase: %s\n", label(string(status.Phase)))
			if status.Attempt != nil {
				printAttempt(cmd, status.Attempt)
			}
			if len(status.Scripts) == 0 {
				fmt.Fprintln(out, "No script plan")
				return nil
			}
			rows := make([][]string, 0, len(status.Scripts))
			for _, s := range status.Scripts {
				result := "-"
				if s.Success != nil {
					result = map[bool]string{true: "passed", false: "failed"}[*s.Success]
				}
				rows = append(rows, []string{s.Name, label(s.State), result})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Script", "State", "Result"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printAttempt(cmd *cobra.Command, a *attempts.Attempt) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Attempt %s: %s\n", a.ID, label(string(a.Phase)))
	if len(a.CompletedSteps) > 0 {
		steps := make([]string, len(a.CompletedSteps))
		for i, s := range a.CompletedSteps {
			steps[i] = label(string(s))
		}
		fmt.Fprintf(out, "Completed: %s\n", strings.Join(steps, ", "))
	}
	if a.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", a.Error)
	}
}
