package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/config"
	"github.com/pario-ai/polyglot/pkg/engine"
	"github.com/pario-ai/polyglot/pkg/logging"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "polyglot",
		Short:         "Polyglot: AI code conversion across interchangeable providers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newConvertCmd(),
		newBatchCmd(),
		newProvidersCmd(),
		newCacheCmd(),
		newHistoryCmd(),
		newMCPCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openEngine loads the config and wires an engine with HTTP providers.
// The caller must Close the engine and Sync the logger.
func openEngine(configPath string) (*engine.Engine, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return openEngineFromConfig(cfg)
}

func openEngineFromConfig(cfg *config.Config) (*engine.Engine, *zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.NewFromConfig(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("init engine: %w", err)
	}
	return eng, logger, nil
}
