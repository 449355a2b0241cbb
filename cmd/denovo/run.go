// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aartikrish/de-novo-antibiotics/internal/sweep"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one design loop from a parameter file",
	Long: `Run reads a YAML parameter file (out_dir, orig_frag_smi, orig_mol_smi,
ranges, num_iters, method, regular_score, num_top_to_get, num_random_to_get,
cpd_filter, model_path, hit_column, objective, seed) and runs the loop.
Flags override the file.

Results go to <out_dir>/<run_id>/ and the ledger <out_dir>/ledger.db.
Interrupting the run keeps every completed round.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	paramsPath, _ := cmd.Flags().GetString("params")

	var cfg types.RunConfig
	if paramsPath != "" {
		var err error
		if cfg, err = sweep.LoadRunConfig(paramsPath); err != nil {
			return err
		}
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}
	applySettings(&cfg)

	d, err := newDesigner()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	rep, err := d.Run(ctx, cfg)
	printReport(os.Stdout, rep)
	return err
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *types.RunConfig) error {
	f := cmd.Flags()
	if f.Changed("out-dir") {
		cfg.OutDir, _ = f.GetString("out-dir")
	}
	if f.Changed("frag") {
		cfg.OrigFragSMILES, _ = f.GetString("frag")
	}
	if f.Changed("mol") {
		cfg.OrigMolSMILES, _ = f.GetString("mol")
	}
	if f.Changed("method") {
		m, _ := f.GetString("method")
		cfg.Method = types.Method(m)
	}
	if f.Changed("radius") {
		cfg.RadiusRange, _ = f.GetIntSlice("radius")
	}
	if f.Changed("num-iters") {
		cfg.NumIters, _ = f.GetInt("num-iters")
	}
	if f.Changed("num-top") {
		cfg.NumTopToGet, _ = f.GetInt("num-top")
	}
	if f.Changed("num-random") {
		cfg.NumRandomToGet, _ = f.GetInt("num-random")
	}
	if f.Changed("cpd-filter") {
		p, _ := f.GetString("cpd-filter")
		cfg.CpdFilter = types.FilterPolicy(p)
	}
	if f.Changed("model-path") {
		cfg.ModelPath, _ = f.GetString("model-path")
	}
	if f.Changed("hit-column") {
		cfg.HitColumn, _ = f.GetString("hit-column")
	}
	if f.Changed("fragment-db") {
		cfg.FragmentDB, _ = f.GetString("fragment-db")
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("regular-score") {
		cfg.RegularScore, _ = f.GetBool("regular-score")
	}
	if f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("batch-size") {
		cfg.BatchSize, _ = f.GetInt("batch-size")
	}
	if cfg.OutDir == "" && cfg.OrigFragSMILES == "" {
		return fmt.Errorf("no parameters: use --params or set --out-dir, --frag, --mol and the other run flags")
	}
	return nil
}

func printReport(w io.Writer, rep types.RunReport) {
	if rep.RunID == "" {
		return
	}
	fmt.Fprintf(w, "run:         %s\n", rep.RunID)
	fmt.Fprintf(w, "directory:   %s\n", rep.Dir)
	fmt.Fprintf(w, "rounds:      %d\n", rep.Rounds)
	fmt.Fprintf(w, "termination: %s\n", rep.Termination)
	if rep.Reference != nil {
		fmt.Fprintf(w, "reference:   %.4f  %s\n", rep.Reference.Score, rep.Reference.SMILES)
	}
	for i, m := range rep.Best {
		if i == 5 {
			fmt.Fprintf(w, "             ... %d more in summary.yaml\n", len(rep.Best)-i)
			break
		}
		fmt.Fprintf(w, "best %-2d      %.4f  %s\n", i+1, m.Score, m.SMILES)
	}
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.String("params", "", "YAML parameter file")
	fs.String("out-dir", "", "output directory")
	fs.String("frag", "", "seed fragment SMILES (orig_frag_smi)")
	fs.String("mol", "", "reference molecule SMILES (orig_mol_smi)")
	fs.String("method", "", "generation method: grow or mutate")
	fs.IntSlice("radius", nil, "environment radii in fallback order")
	fs.Int("num-iters", 0, "number of rounds")
	fs.Int("num-top", 0, "top-scoring molecules kept per round")
	fs.Int("num-random", 0, "random molecules kept per round")
	fs.String("cpd-filter", "", "structural alert filter: none, pains, brenk, both")
	fs.String("model-path", "", "checkpoint directory, .pt file, or inference URL")
	fs.String("hit-column", "", "prediction column holding the activity")
	fs.String("fragment-db", "", "fragment replacement database")
	fs.Int64("seed", 0, "random seed for selection (0 = draw one)")
	fs.Bool("regular-score", false, "score with the hit column only")
	fs.Int("workers", 0, "concurrent engine and model calls (0 = number of CPUs)")
	fs.Int("batch-size", 0, "molecules per engine or model call")
}

func init() {
	addRunFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
}
