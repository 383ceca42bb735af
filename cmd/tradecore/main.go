package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "tradecore"
	version = "v0.4.0"
)

type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Decision and safety core for the token allocation agent",
		Version: version,
		Long: `tradecore computes per-token signals, ramps allocations by data confidence,
gates rebalance sells with hysteresis, vets new buys with a round-trip sellability
check and repairs stale buy claims in the work queue.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(flags.envFile)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "config/tradecore.yaml", "Path to YAML config")
	pf.StringVar(&flags.envFile, "env-file", ".env", "Optional dotenv file loaded before config")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newSweepCmd(flags),
		newCheckCmd(flags),
		newSignalCmd(flags),
	)
	return rootCmd
}

// loadEnvFile loads a dotenv file when it exists; process env wins over file values
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
