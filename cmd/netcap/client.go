package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsclarke/netcap/internal/client"
)

type clientConfig struct {
	apiKey string
	apiURL string
}

func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.Flags().StringVar(&cfg.apiKey, "api-key", os.Getenv("NETCAP_API_KEY"), "API key for authentication")
	cmd.Flags().StringVar(&cfg.apiURL, "api-url", getEnv("NETCAP_API_URL", "http://127.0.0.1:8089"), "settings API URL")
}

// newClient does not require a key: a daemon started with --no-auth accepts
// requests without one.
func (cfg *clientConfig) newClient() (*client.Client, error) {
	if cfg.apiURL == "" {
		return nil, fmt.Errorf("API URL required (use --api-url flag or NETCAP_API_URL env var)")
	}
	return client.NewClient(cfg.apiURL, cfg.apiKey), nil
}
