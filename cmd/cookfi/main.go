// cookfi runs the CookFi trading agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/config"
	"github.com/cookfi/cookfi-agent/internal/logging"
	"github.com/cookfi/cookfi-agent/pkg/version"
)

var (
	configPath string
	logLevel   string
	dryRun     bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cookfi",
		Short: "Autonomous DeFi trading agent",
		Long: `cookfi discovers tokens, scores them with market and social data,
asks an LLM for a trade decision and executes confident ones on-chain.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml, json or toml)")
	root.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Decide but never send transactions")

	root.AddCommand(runCmd())
	root.AddCommand(onceCmd())
	root.AddCommand(journalCmd())
	root.AddCommand(positionsCmd())
	root.AddCommand(transferCmd())
	root.AddCommand(stakeCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(versionCmd())
	return root
}

// setup loads the config with the command line overrides applied and
// builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if dryRun {
		cfg.Agent.DryRun = true
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersionString())
		},
	}
}
