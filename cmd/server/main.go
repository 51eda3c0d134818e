// Package main implements the lexigen command: the generation gateway
// server and its maintenance subcommands.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/lexigen/internal/config"
	"github.com/phrazzld/lexigen/internal/platform/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lexigen",
		Short:         "Cost-aware content generation gateway for language learning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("config")
			if file != "" {
				return os.Setenv(config.EnvPrefix+"_CONFIG_FILE", file)
			}
			return nil
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newDrainCmd(),
		newCleanupCmd(),
		newTokenCmd(),
		newCredentialCmd(),
	)
	return root
}

// loadBase loads and validates configuration and sets up logging.
func loadBase() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, l, nil
}

// setupAppDatabase establishes a connection to the database and configures connection pools.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(max(cfg.Database.MaxOpenConns/2, 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

// bootstrap opens every external resource and wires the application. The
// returned application owns those resources; call cleanup to release them.
func bootstrap(ctx context.Context, cfg *config.Config, l *slog.Logger) (*application, error) {
	var closers []func() error
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	db, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	closers = append(closers, db.Close)

	cacheStore, closeCache, err := openCacheStore(ctx, cfg.Cache)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache.Backend, err)
	}
	closers = append(closers, closeCache)

	vault, closeVault, err := openVault(ctx, cfg.Credentials)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}
	closers = append(closers, closeVault)

	app, err := newApplication(ctx, cfg, l, appDeps{
		stores:     postgresStores(db, l),
		cacheStore: cacheStore,
		vault:      vault,
	})
	if err != nil {
		release()
		return nil, err
	}
	for _, c := range closers {
		app.addCloser(c)
	}
	return app, nil
}
