package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/actionplan"
	"github.com/fieldstone/leadflow/internal/core/api"
	"github.com/fieldstone/leadflow/internal/core/auth"
	"github.com/fieldstone/leadflow/internal/core/config"
	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/server"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/engine"
	"github.com/fieldstone/leadflow/internal/groups"
)

const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP routing API service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if cmd.Flags().Changed("log-level") || logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	if err := db.MigrateUp(conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	queries, err := db.LoadQueries(conn)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set LF_HMAC_SECRET environment variable)")
	}
	authenticator := auth.NewAuthenticator(secrets, queries, log)

	leads := store.NewLeads(queries)
	rules := store.NewRules(queries)
	groupStore := store.NewGroups(queries)
	plans := store.NewPlans(queries)

	scheduler := actionplan.NewDBScheduler(plans, log)
	eng := engine.New(queries, leads, rules, scheduler, log)
	dist := groups.NewDistributor(queries, groupStore, leads, log)

	dispatcher := actionplan.NewDispatcher(queries, plans, log, cfg.DispatchSchedule)
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	handler := api.NewHandler(queries, eng, dist, leads, rules, groupStore, plans, log)
	srv := server.New(cfg, handler, authenticator, log)

	log.Info("starting leadflow",
		zap.String("version", Version),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port))
	errChan := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
