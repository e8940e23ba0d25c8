package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/database"
)

var (
	// Version is set at build time
	Version = "dev"

	rootCmd = &cobra.Command{
		Use:   "maude",
		Short: "MAUDE adverse-event ingestion pipeline",
		Long: `maude ingests the FDA's MAUDE medical-device adverse-event files into
PostgreSQL: full historical reloads, weekly add/change reconciliation,
remote freshness discovery, and post-load integrity audits.`,
		Version: Version,
	}
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup builds the shared config and database handles. The returned
// context cancels on SIGINT/SIGTERM so a long load can checkpoint and
// stop cleanly.
func setup() (context.Context, context.CancelFunc, *config.Config, database.DBManager, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	dbpool, err := database.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	dbManager := database.NewPostgresDBManager(ctx, dbpool)

	cleanupFunc := func() {
		log.Println("Cleaning up resources...")
		dbpool.Close()
	}
	return ctx, cancel, cfg, dbManager, cleanupFunc, nil
}
