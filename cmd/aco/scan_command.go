package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aco/internal/scanner"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON        bool
		maxDepth      int
		includeHidden bool
	)

	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Inventory the sequencing files in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := scanner.Options{MaxDepth: cfg.Scanner.MaxDepth, IncludeHidden: includeHidden}
			if maxDepth > 0 {
				opts.MaxDepth = maxDepth
			}
			result, err := scanner.Scan(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, result)
			}
			printScan(cmd, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full scan result as JSON")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum directory depth (default from config)")
	cmd.Flags().BoolVar(&includeHidden, "hidden", false, "Include hidden files and directories")
	return cmd
}

func printScan(cmd *cobra.Command, result *scanner.ScanResult) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(result.Files)+len(result.Directories))
	for _, f := range result.Files {
		sample := ""
		if f.SampleName != nil {
			sample = *f.SampleName
		}
		rows = append(rows, []string{f.Filename, string(f.FileType), sample, f.SizeHuman})
	}
	for _, d := range result.Directories {
		rows = append(rows, []string{d.Name + "/", d.DirType, "", d.TotalSizeHuman})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(out, []string{"File", "Type", "Sample", "Size"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	}
	fmt.Fprintf(out, "%s: %d files, %s (fastq %d, bam %d, cellranger %d, other %d, unknown %d)\n",
		result.ScanPath, result.TotalFiles, result.TotalSizeHuman,
		result.FastqCount, result.BamCount, result.CellRangerCount, result.OtherCount, result.UnknownCount)
	if len(result.Samples) > 0 {
		fmt.Fprintf(out, "Samples (%d): %s\n", len(result.Samples), strings.Join(result.Samples, ", "))
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
}
