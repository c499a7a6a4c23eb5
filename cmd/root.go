package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/gradersync/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	cfgErr  error
)

var rootCmd = &cobra.Command{
	Use:   "gradersync",
	Short: "Grading attempts sync job",
	Long: `gradersync pulls grading attempts from the statistics API for a fixed
window, stores the clean records in PostgreSQL and appends a daily
summary row to the report spreadsheet.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $GRADERSYNC_CONFIG_DIR/config.yaml)")
}

func initConfig() {
	cfg, cfgErr = config.Load(cfgFile)
}

// loadedConfig returns the configuration loaded for this invocation.
func loadedConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}
