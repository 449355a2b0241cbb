// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aartikrish/de-novo-antibiotics/internal/container"
	"github.com/aartikrish/de-novo-antibiotics/internal/crem"
	"github.com/aartikrish/de-novo-antibiotics/internal/ledger"
	"github.com/aartikrish/de-novo-antibiotics/internal/pipeline"
	"github.com/aartikrish/de-novo-antibiotics/internal/score"
	"github.com/aartikrish/de-novo-antibiotics/internal/secrets"
	"github.com/aartikrish/de-novo-antibiotics/pkg/types"
)

// modelTokenSecret is the secret file holding the inference server token.
const modelTokenSecret = "model-api-token"

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func containerRuntime() (container.Runtime, error) {
	return container.Select(viper.GetString("engine.runtime"))
}

func newEngine(rt container.Runtime) (*crem.ContainerEngine, error) {
	return crem.NewContainerEngine(rt, crem.Config{
		Image: viper.GetString("engine.image"),
		Env:   secrets.Env(loadedSecrets),
	}, logger)
}

// modelOptions configures model acquisition. rt may be nil when only
// remote models are used.
func modelOptions(rt container.Runtime) score.Options {
	return score.Options{
		Runtime: rt,
		Image:   viper.GetString("model.image"),
		Env:     secrets.Env(loadedSecrets),
		Token:   loadedSecrets[modelTokenSecret],
		Logger:  logger,
	}
}

// designer runs one design loop with the ledger of the run's output
// directory. It satisfies sweep.Runner.
type designer struct {
	engine pipeline.Engine
	open   score.Opener
}

func newDesigner() (*designer, error) {
	rt, err := containerRuntime()
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(rt)
	if err != nil {
		return nil, err
	}
	return &designer{engine: engine, open: score.NewOpener(modelOptions(rt))}, nil
}

func (d *designer) Run(ctx context.Context, cfg types.RunConfig) (types.RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return types.RunReport{Termination: types.TerminationFailed, Error: err.Error()}, err
	}
	l, err := ledger.Open(cfg.OutDir)
	if err != nil {
		return types.RunReport{Termination: types.TerminationFailed, Error: err.Error()}, err
	}
	defer l.Close()

	p := pipeline.New(pipeline.Deps{
		Engine: d.engine,
		Open:   d.open,
		Ledger: l,
		Cache:  l,
		Logger: logger,
	})
	return p.Run(ctx, cfg)
}

// applySettings fills workers and batch size from the global settings
// when the parameter file leaves them unset.
func applySettings(cfg *types.RunConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = viper.GetInt("workers")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = viper.GetInt("batch_size")
	}
	if cfg.FragmentDB == "" {
		cfg.FragmentDB = viper.GetString("engine.fragment_db")
	}
}

// readSMILES reads one molecule per line from the file named by args[0],
// or from stdin. Only the first field of a line is used; blank lines and
// lines starting with '#' or the header "smiles" are skipped.
func readSMILES(cmd *cobra.Command, args []string) ([]types.Molecule, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var mols []types.Molecule
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if len(fields) == 0 || strings.EqualFold(fields[0], "smiles") {
			continue
		}
		mols = append(mols, types.Mol(fields[0]))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading molecules: %w", err)
	}
	return mols, nil
}
