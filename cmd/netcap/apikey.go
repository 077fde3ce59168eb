package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/netcap/internal/auth"
	"github.com/rsclarke/netcap/internal/db"
)

var apikeyFlags struct {
	dbPath string
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage settings API keys",
	Long: `Create, list and revoke the API keys accepted by the settings API.
These commands open the database directly.`,
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key and print it once",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <prefix>",
	Short: "Revoke an API key by its prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)

	apikeyCmd.PersistentFlags().StringVar(&apikeyFlags.dbPath, "db", getEnv("NETCAP_DB", "netcap.db"), "database path")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	database, err := db.Open(apikeyFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	key, err := auth.NewKey()
	if err != nil {
		return fmt.Errorf("generate API key: %w", err)
	}
	if _, err := db.CreateAPIKey(database, key.Prefix, key.Hash); err != nil {
		return fmt.Errorf("create API key: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), key.Display)
	return err
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	database, err := db.Open(apikeyFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	keys, err := db.ListAPIKeys(database)
	if err != nil {
		return fmt.Errorf("list API keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No API keys found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tCREATED\tSTATUS")
	for _, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked " + time.Unix(*k.RevokedAt, 0).Format("2006-01-02 15:04:05")
		}
		created := time.Unix(k.CreatedAt, 0).Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "%s\t%s\t%s\n", k.KeyPrefix, created, status)
	}
	return w.Flush()
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	database, err := db.Open(apikeyFlags.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	ok, err := db.RevokeAPIKey(database, args[0])
	if err != nil {
		return fmt.Errorf("revoke API key: %w", err)
	}
	if !ok {
		return fmt.Errorf("no active API key with prefix %s", args[0])
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked.\n", args[0])
	return err
}
