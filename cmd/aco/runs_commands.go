package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aco/internal/runs"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage stored runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsDeleteCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.wire(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.Runs.List()
			if err != nil {
				return err
			}
			if asJSON {
				if list == nil {
					list = []runs.Summary{}
				}
				return writeJSON(cmd, list)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs found")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, s := range list {
				assay := ""
				if s.AssayType != nil {
					assay = *s.AssayType
				}
				stage := ""
				if n := len(s.StagesCompleted); n > 0 {
					stage = label(s.StagesCompleted[n-1])
				}
				rows = append(rows, []string{
					s.ManifestID,
					s.UpdatedAt.Local().Format("2006-01-02 15:04"),
					assay,
					stage,
					yesNo(s.HasReport),
					truncate(s.Description, 40),
				})
			}
			fmt.Fprintln(out, renderTable(out, []string{"ID", "Updated", "Assay", "Latest Stage", "Report", "Description"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run's manifest and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.wire(cmd.Context())
			if err != nil {
				return err
			}
			id := args[0]
			summary, err := svc.Runs.Get(id)
			if err != nil {
				return err
			}
			m, err := svc.Manifests.Get(id)
			if err != nil {
				return err
			}
			progress, err := svc.Workflow.Progress(id)
			if err != nil {
				return err
			}
			return writeFormatted(cmd, format, map[string]any{
				"summary":  summary,
				"manifest": m,
				"progress": progress,
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	return cmd
}

func newRunsDeleteCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			svc, err := ctx.wire(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Manifests.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
