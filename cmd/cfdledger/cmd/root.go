package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/cfdledger/config"
)

var rootCmd = &cobra.Command{
	Use:   "cfdledger",
	Short: "Margin accounting and risk engine for leveraged CFD accounts",
	Long: `cfdledger keeps the books for leveraged CFD trading accounts.

It provides tools for:
  - Playing order, price and correction scenarios through the engine
  - Serving account, position and risk reports over HTTP
  - Querying and auditing the transaction journal
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// loadConfig reads --config, or the defaults without one, and applies flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
