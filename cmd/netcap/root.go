package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/logging"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "netcap",
	Short: "Capture browser network traffic and forward it to an indexing server",
	Long: `netcap attaches to a Chromium browser over the DevTools protocol,
correlates the network events of every page into complete request/response
transactions, and posts each in-scope transaction to an indexing server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
