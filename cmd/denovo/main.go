// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the denovo CLI: iterative fragment
// growth and mutation scored by an activity model.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/logging"
	"github.com/aartikrish/de-novo-antibiotics/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// loadedSecrets holds the files of the secrets directory.
	loadedSecrets map[string]string

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "denovo",
	Short: "Iterative de novo design of antibiotic candidates",
	Long: `denovo grows or mutates a seed fragment with a fragment-replacement
engine, removes candidates matching PAINS or Brenk alerts, scores the rest
with a trained activity model, and keeps the best and a random sample as the
seeds of the next round.

Chemistry runs in the engine container image and scoring in the predictor
image (or a remote inference server). Every round is written to the run
directory and to the ledger in the output directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logging.Config{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		})
		if err != nil {
			return err
		}
		logger = l

		s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./denovo.yaml or ~/.config/denovo/denovo.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")
	rootCmd.PersistentFlags().String("runtime", "auto", "container runtime: docker, podman or auto")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of secret files forwarded to containers")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("engine.runtime", rootCmd.PersistentFlags().Lookup("runtime"))
	viper.BindPFlag("secrets_dir", rootCmd.PersistentFlags().Lookup("secrets-dir"))

	viper.SetDefault("engine.image", "")
	viper.SetDefault("model.image", "")
	viper.SetDefault("workers", 0)
	viper.SetDefault("batch_size", 0)
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("denovo")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "denovo"))
		}
	}

	viper.SetEnvPrefix("DENOVO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
