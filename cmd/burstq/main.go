package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/burstq/internal/config"
	"github.com/oriys/burstq/internal/logging"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "burstq",
		Short: "burstq - burst-to-queue ledger intake core",
		Long:  "Slot inventory, durable intake queue, and ledger bridge worker for burst-sale traffic",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		seedCmd(),
		poolCmd(),
		dlqCmd(),
		drainCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective config: defaults, then the YAML file,
// then environment overrides, then explicit flags.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.SetLevelFromString(cfg.LogLevel)
	return cfg, nil
}
