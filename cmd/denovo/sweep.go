// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aartikrish/de-novo-antibiotics/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run every (scoring mode, method) combination of a sweep file",
	Long: `Sweep reads a sweep file with a base parameter set and a table of
scoring mode and method combinations, and runs one design loop per row.
Runs write to <base_dir>/regular_score/ or <base_dir>/modified_score/.
A failed run does not stop the sweep; an interrupt does.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("sweep")
	if path == "" && len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("sweep file required: use --sweep")
	}

	s, err := sweep.Load(path)
	if err != nil {
		return err
	}
	applySettings(&s.Base)
	entries, err := s.Expand()
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		for _, e := range entries {
			fmt.Printf("%-24s %s\n", e.Label, e.Config.OutDir)
		}
		return nil
	}

	d, err := newDesigner()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	reports, err := sweep.Run(ctx, d, entries, logger)
	for i, rep := range reports {
		fmt.Printf("== %s\n", entries[i].Label)
		printReport(os.Stdout, rep)
	}
	return err
}

func init() {
	sweepCmd.Flags().String("sweep", "", "YAML sweep file")
	sweepCmd.Flags().Bool("dry-run", false, "print the expanded runs without running them")

	rootCmd.AddCommand(sweepCmd)
}
