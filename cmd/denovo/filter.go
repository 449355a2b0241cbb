// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/filter"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

var filterCmd = &cobra.Command{
	Use:   "filter [file]",
	Short: "Remove molecules matching PAINS or Brenk structural alerts",
	Long: `Filter reads SMILES (one per line, first field) from a file or stdin,
evaluates them against the selected alert catalogs in the engine container,
and prints the survivors in input order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFilter,
}

func runFilter(cmd *cobra.Command, args []string) error {
	policy, _ := cmd.Flags().GetString("policy")
	if !types.FilterPolicy(policy).Valid() {
		return &types.ParamError{Param: "cpd_filter", Value: policy, Reason: "must be one of none, pains, brenk, both"}
	}

	mols, err := readSMILES(cmd, args)
	if err != nil {
		return err
	}

	rt, err := containerRuntime()
	if err != nil {
		return err
	}
	engine, err := newEngine(rt)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	f := filter.New(engine, viper.GetInt("workers"), viper.GetInt("batch_size"), logger)
	kept, stats, err := f.Apply(ctx, mols, types.FilterPolicy(policy))
	if err != nil {
		return err
	}
	for _, m := range kept {
		fmt.Fprintln(cmd.OutOrStdout(), m.SMILES)
	}
	logger.Info("filtered",
		zap.Int("input", stats.Input),
		zap.Int("passed", stats.Passed),
		zap.Int("pains", stats.Rejected[types.CatalogPAINS]),
		zap.Int("brenk", stats.Rejected[types.CatalogBrenk]),
	)
	return nil
}

func init() {
	filterCmd.Flags().String("policy", string(types.FilterBoth), "alert catalogs: none, pains, brenk, both")

	rootCmd.AddCommand(filterCmd)
}
