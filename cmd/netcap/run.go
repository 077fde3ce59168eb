package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/netcap/internal/auth"
	"github.com/rsclarke/netcap/internal/capture"
	"github.com/rsclarke/netcap/internal/cdp"
	"github.com/rsclarke/netcap/internal/client"
	"github.com/rsclarke/netcap/internal/config"
	"github.com/rsclarke/netcap/internal/db"
	"github.com/rsclarke/netcap/internal/emit"
	"github.com/rsclarke/netcap/internal/logging"
	"github.com/rsclarke/netcap/internal/server"
	"github.com/rsclarke/netcap/internal/settings"
)

var runFlags struct {
	configPath  string
	devtoolsURL string
	dbPath      string
	apiAddr     string
	serverURL   string
	scope       string
	noAuth      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to the browser and start capturing",
	Long: `Connect to the browser's DevTools endpoint, attach to every page, and
forward completed in-scope transactions to the indexing server. The settings
API listens on --api-addr until the process receives SIGINT or SIGTERM.

Configuration is read from --config (YAML), then NETCAP_* environment
variables, then the flags below.

On first start with API auth enabled an API key is created and printed once.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.configPath, "config", os.Getenv("NETCAP_CONFIG"), "path to a YAML config file")
	runCmd.Flags().StringVar(&runFlags.devtoolsURL, "devtools-url", "", "DevTools HTTP or websocket URL")
	runCmd.Flags().StringVar(&runFlags.dbPath, "db", "", "database path")
	runCmd.Flags().StringVar(&runFlags.apiAddr, "api-addr", "", "settings API listen address")
	runCmd.Flags().StringVar(&runFlags.serverURL, "server-url", "", "indexing server base URL (used when no settings are stored)")
	runCmd.Flags().StringVar(&runFlags.scope, "scope", "", "comma-separated scope domains (used when no settings are stored)")
	runCmd.Flags().BoolVar(&runFlags.noAuth, "no-auth", false, "serve the settings API without API keys")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("devtools-url") {
		cfg.DevToolsURL = runFlags.devtoolsURL
	}
	if flags.Changed("db") {
		cfg.DBPath = runFlags.dbPath
	}
	if flags.Changed("api-addr") {
		cfg.APIAddr = runFlags.apiAddr
	}
	if flags.Changed("server-url") {
		cfg.ServerURL = runFlags.serverURL
	}
	if flags.Changed("scope") {
		cfg.ScopeDomains = settings.ParseDomains(runFlags.scope)
	}
	if runFlags.noAuth {
		cfg.APIAuth = false
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runFlags.configPath)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if cfg.APIAuth {
		if err := ensureAPIKey(cmd.OutOrStdout(), database); err != nil {
			return err
		}
	}

	persister := settings.NewSQLitePersister(database)
	initial, err := persister.Load(ctx, cfg.Seed())
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	store := settings.NewStore(initial, persister, logger.Named("settings"))
	store.Subscribe(func(s settings.Snapshot) {
		logger.Info("settings updated",
			logging.Endpoint(s.IndexURL()),
			zap.Strings("scope_domains", s.ScopeDomains))
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	emitter := emit.New(emit.Config{
		Transport:  client.NewClient("", ""),
		Settings:   store,
		Logger:     logger.Named("emit"),
		Timeout:    cfg.DeliveryTimeout,
		Registerer: registry,
	})

	wsURL, err := cdp.Discover(ctx, http.DefaultClient, cfg.DevToolsURL)
	if err != nil {
		return fmt.Errorf("discover devtools endpoint: %w", err)
	}
	conn, err := cdp.Dial(ctx, wsURL, logger.Named("cdp"))
	if err != nil {
		return fmt.Errorf("connect to devtools: %w", err)
	}
	defer conn.Close()

	engine := capture.New(capture.Config{
		Settings:   store,
		Fetcher:    conn,
		Emitter:    emitter,
		Logger:     logger.Named("capture"),
		QueueSize:  cfg.QueueSize,
		Registerer: registry,
	})
	capturer := cdp.NewCapturer(conn, engine, logger.Named("capturer"))

	apiSrv := &server.APIServer{
		Settings: store,
		Engine:   engine,
		Gatherer: registry,
		Logger:   logger.Named("api"),
	}
	if cfg.APIAuth {
		apiSrv.DB = database
	}
	apiServer := server.NewManagedServer("api", server.DefaultServerConfig(cfg.APIAddr, apiSrv.Handler(), logger.Named("api")))

	logger.Info("capturing",
		zap.String("devtools", wsURL),
		logging.Endpoint(initial.IndexURL()),
		zap.Strings("scope_domains", initial.ScopeDomains))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return capturer.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })

	err = g.Wait()
	emitter.Wait()

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	if cdp.IsClosed(err) {
		logger.Info("browser connection closed")
		return nil
	}
	return err
}

func ensureAPIKey(out io.Writer, database *sql.DB) error {
	count, err := db.CountAPIKeys(database)
	if err != nil {
		return fmt.Errorf("count API keys: %w", err)
	}
	if count > 0 {
		return nil
	}

	key, err := auth.NewKey()
	if err != nil {
		return fmt.Errorf("generate API key: %w", err)
	}
	if _, err := db.CreateAPIKey(database, key.Prefix, key.Hash); err != nil {
		return fmt.Errorf("create API key: %w", err)
	}
	fmt.Fprintln(out, "=============================================================")
	fmt.Fprintln(out, "API KEY CREATED (save this, it will not be shown again):")
	fmt.Fprintln(out, key.Display)
	fmt.Fprintln(out, "=============================================================")
	return nil
}
