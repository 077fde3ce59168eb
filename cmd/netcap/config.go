package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/netcap/internal/api"
	"github.com/rsclarke/netcap/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the settings of a running daemon",
}

var configShowFlags struct {
	clientConfig
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE:  runConfigShow,
}

var configSetFlags struct {
	clientConfig
	serverURL string
	scope     string
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the indexing server URL or scope domains",
	Long: `Update the indexing server URL and/or the scope domains. Scope is a
comma-separated list; entries are trimmed and empty entries dropped. Changes
apply to transactions that start after the update.`,
	RunE: runConfigSet,
}

var configClearScopeFlags struct {
	clientConfig
}

var configClearScopeCmd = &cobra.Command{
	Use:   "clear-scope",
	Short: "Remove all scope domains so every host is captured",
	RunE:  runConfigClearScope,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configClearScopeCmd)

	addClientFlags(configShowCmd, &configShowFlags.clientConfig)
	addClientFlags(configSetCmd, &configSetFlags.clientConfig)
	addClientFlags(configClearScopeCmd, &configClearScopeFlags.clientConfig)

	configSetCmd.Flags().StringVar(&configSetFlags.serverURL, "server-url", "", "indexing server base URL")
	configSetCmd.Flags().StringVar(&configSetFlags.scope, "scope", "", "comma-separated scope domains")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	c, err := configShowFlags.newClient()
	if err != nil {
		return err
	}
	s, err := c.GetSettings(cmd.Context())
	if err != nil {
		return err
	}
	return printSettings(cmd, s)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	var req api.UpdateSettingsRequest
	if cmd.Flags().Changed("server-url") {
		req.ServerURL = &configSetFlags.serverURL
	}
	if cmd.Flags().Changed("scope") {
		domains := settings.ParseDomains(configSetFlags.scope)
		if domains == nil {
			domains = []string{}
		}
		req.ScopeDomains = &domains
	}
	if req.ServerURL == nil && req.ScopeDomains == nil {
		return fmt.Errorf("nothing to update (use --server-url and/or --scope)")
	}

	c, err := configSetFlags.newClient()
	if err != nil {
		return err
	}
	s, err := c.UpdateSettings(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printSettings(cmd, s)
}

func runConfigClearScope(cmd *cobra.Command, args []string) error {
	c, err := configClearScopeFlags.newClient()
	if err != nil {
		return err
	}
	empty := []string{}
	s, err := c.UpdateSettings(cmd.Context(), api.UpdateSettingsRequest{ScopeDomains: &empty})
	if err != nil {
		return err
	}
	return printSettings(cmd, s)
}

func printSettings(cmd *cobra.Command, s *api.Settings) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
