// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aartikrish/de-novo-antibiotics/internal/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the ledger of past runs (runs, rounds, top, export)",
	Long: `History reads the SQLite ledger in an output directory. Every run and
round recorded there can be listed, the best molecules of a run ranked, and
the whole ledger exported to YAML or JSON.`,
}

// --- runs subcommand ---

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	RunE:  runHistoryRuns,
}

func runHistoryRuns(cmd *cobra.Command, args []string) error {
	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Runs(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-6s  %-8s  %-6s  %-6s  %s\n",
		"Run", "Started", "Method", "Scoring", "Filter", "Rounds", "Termination")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for _, r := range runs {
		term := r.Termination
		if term == "" {
			term = "running"
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-6s  %-8s  %-6s  %-6d  %s\n",
			r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Method, r.Scoring, r.Filter, r.Rounds, term)
	}
	fmt.Fprintf(os.Stdout, "\n%d runs\n", len(runs))
	return nil
}

// --- rounds subcommand ---

var historyRoundsCmd = &cobra.Command{
	Use:   "rounds <run-id>",
	Short: "Show the per-round counts and scores of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRounds,
}

func runHistoryRounds(cmd *cobra.Command, args []string) error {
	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	rounds, err := l.Rounds(context.Background(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(rounds)
	}
	if len(rounds) == 0 {
		fmt.Printf("No rounds recorded for %s.\n", args[0])
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-5s  %-5s  %-9s  %-8s  %-6s  %-8s  %-8s  %-8s\n",
		"Round", "Seeds", "Generated", "Filtered", "Scored", "Selected", "Best", "Mean")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 72))
	for _, r := range rounds {
		fmt.Fprintf(os.Stdout, "%-5d  %-5d  %-9d  %-8d  %-6d  %-8d  %-8.4f  %-8.4f\n",
			r.Round, r.Seeds, r.Generated, r.Filtered, r.Scored, r.Selected, r.Best, r.Mean)
	}
	return nil
}

// --- top subcommand ---

var historyTopCmd = &cobra.Command{
	Use:   "top <run-id>",
	Short: "Rank the best molecules of a run across all rounds",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryTop,
}

func runHistoryTop(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	top, err := l.TopMolecules(context.Background(), args[0], limit)
	if err != nil {
		return err
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(top)
	}
	if len(top) == 0 {
		fmt.Printf("No molecules recorded for %s.\n", args[0])
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-8s  %-8s  %-5s  %-6s  %s\n", "Rank", "Score", "Raw", "Round", "Origin", "SMILES")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 90))
	for i, m := range top {
		fmt.Fprintf(os.Stdout, "%-4d  %-8.4f  %-8.4f  %-5d  %-6s  %s\n", i+1, m.Score, m.Raw, m.Round, m.Origin, m.SMILES)
	}
	return nil
}

// --- export subcommand ---

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger to YAML or JSON",
	Long: `Export writes every run with its rounds and best molecules to
<out-dir>/ledger.yaml or ledger.json, or to --output.`,
	RunE: runHistoryExport,
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	outDir, _ := cmd.Flags().GetString("out-dir")

	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := context.Background()
	switch format {
	case "yaml", "":
		if output == "" {
			output = filepath.Join(outDir, "ledger.yaml")
		}
		err = l.ExportYAML(ctx, output)
	case "json":
		if output == "" {
			output = filepath.Join(outDir, "ledger.json")
		}
		err = l.ExportJSON(ctx, output)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", output)
	return nil
}

// --- shared helpers ---

func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	outDir, _ := cmd.Flags().GetString("out-dir")
	if _, err := os.Stat(filepath.Join(outDir, ledger.DBFile)); err != nil {
		return nil, fmt.Errorf("no ledger in %s: %w", outDir, err)
	}
	return ledger.Open(outDir)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	// Shared flags on the parent command, inherited by subcommands.
	historyCmd.PersistentFlags().String("out-dir", "out", "output directory holding ledger.db")
	historyCmd.PersistentFlags().Bool("json", false, "output as JSON")

	historyTopCmd.Flags().Int("limit", 20, "number of molecules to list")

	historyExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	historyExportCmd.Flags().String("output", "", "export file (default: <out-dir>/ledger.<format>)")

	historyCmd.AddCommand(historyRunsCmd)
	historyCmd.AddCommand(historyRoundsCmd)
	historyCmd.AddCommand(historyTopCmd)
	historyCmd.AddCommand(historyExportCmd)

	rootCmd.AddCommand(historyCmd)
}
