// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aartikrish/de-novo-antibiotics/internal/container"
	"github.com/aartikrish/de-novo-antibiotics/internal/ledger"
	"github.com/aartikrish/de-novo-antibiotics/internal/score"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score molecules with an activity model",
	Long: `Score reads SMILES (one per line, first field) from a file or stdin and
prints smiles,<hit-column> CSV sorted by descending score. The model is a
checkpoint directory or .pt file run in the predictor image, or an http(s)
inference server URL.

With --ledger-dir, predictions are cached in that directory's ledger and
reused by later runs with the same model.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

func runScore(cmd *cobra.Command, args []string) error {
	modelPath, _ := cmd.Flags().GetString("model-path")
	hitColumn, _ := cmd.Flags().GetString("hit-column")
	ledgerDir, _ := cmd.Flags().GetString("ledger-dir")
	if modelPath == "" {
		return &types.ParamError{Param: "model_path", Value: modelPath, Reason: "must not be empty"}
	}
	if hitColumn == "" {
		return &types.ParamError{Param: "hit_column", Value: hitColumn, Reason: "must not be empty"}
	}

	mols, err := readSMILES(cmd, args)
	if err != nil {
		return err
	}

	var rt container.Runtime
	if !strings.HasPrefix(modelPath, "http://") && !strings.HasPrefix(modelPath, "https://") {
		if rt, err = containerRuntime(); err != nil {
			return err
		}
	}

	var cache score.Cache
	if ledgerDir != "" {
		l, err := ledger.Open(ledgerDir)
		if err != nil {
			return err
		}
		defer l.Close()
		cache = l
	}

	s := score.New(score.Config{
		Mode:      types.ScoreRegular,
		ModelPath: modelPath,
		HitColumn: hitColumn,
		Workers:   viper.GetInt("workers"),
		BatchSize: viper.GetInt("batch_size"),
	}, score.NewOpener(modelOptions(rt)), cache, logger)
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()
	scored, err := s.Score(ctx, mols)
	if err != nil {
		return err
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	w.Write([]string{"smiles", hitColumn})
	for _, m := range scored {
		w.Write([]string{m.SMILES, strconv.FormatFloat(m.Score, 'g', -1, 64)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing scores: %w", err)
	}
	return nil
}

func init() {
	scoreCmd.Flags().String("model-path", "", "checkpoint directory, .pt file, or inference URL")
	scoreCmd.Flags().String("hit-column", "", "prediction column holding the activity")
	scoreCmd.Flags().String("ledger-dir", "", "output directory whose ledger caches predictions")

	rootCmd.AddCommand(scoreCmd)
}
