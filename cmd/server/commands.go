package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/config"
	"github.com/phrazzld/lexigen/internal/credential"
	"github.com/phrazzld/lexigen/internal/platform/logger"
	"github.com/phrazzld/lexigen/internal/platform/postgres"
	"github.com/phrazzld/lexigen/internal/service/auth"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job runner and the deferred replayer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var running atomic.Pointer[application]
			cfg, err := config.Watch(slog.Default(), func(next *config.Config) {
				if app := running.Load(); app != nil {
					app.applyConfig(next)
				}
			})
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			l, err := logger.Setup(cfg.Server)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			l.Info("Server configuration loaded",
				"port", cfg.Server.Port,
				"log_level", cfg.Server.LogLevel,
				"providers", len(cfg.Providers))

			ctx := cmd.Context()
			app, err := bootstrap(ctx, cfg, l)
			if err != nil {
				return err
			}
			if err := app.start(); err != nil {
				app.cleanup()
				return err
			}
			running.Store(app)

			return app.startHTTPServer(ctx, app.setupRouter())
		},
	}
}

var migrateCommands = map[string]bool{
	"up": true, "down": true, "status": true, "version": true, "redo": true,
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|status|version|redo",
		Short:     "Apply or inspect the database schema migrations",
		ValidArgs: []string{"up", "down", "status", "version", "redo"},
		Args:      cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !migrateCommands[args[0]] {
				return fmt.Errorf("unknown migrate command %q", args[0])
			}
			cfg, l, err := loadBase()
			if err != nil {
				return err
			}
			db, err := setupAppDatabase(cmd.Context(), cfg, l)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return postgres.Migrate(cmd.Context(), db, l, args[0])
		},
	}
}

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Process every due generation job once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := loadBase()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer app.cleanup()

			reset, err := app.jobs.ResetStale(ctx)
			if err != nil {
				return fmt.Errorf("failed to reset stale jobs: %w", err)
			}
			processed, err := app.jobs.Drain(ctx)
			if err != nil {
				return fmt.Errorf("drain failed after %d jobs: %w", processed, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d jobs (%d stale jobs reset)\n", processed, reset)
			return nil
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete failed jobs past retention and deferred requests out of retries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := loadBase()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := bootstrap(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer app.cleanup()

			jobs, err := app.jobs.CleanupFailed(ctx)
			if err != nil {
				return err
			}
			requests, err := app.deferred.CleanupExpiredRequests(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d failed jobs and %d expired deferred requests\n", jobs, requests)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			userID := uuid.New()
			if user != "" {
				if userID, err = uuid.Parse(user); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			svc, err := auth.NewJWTService(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID to embed (default: a new random ID)")
	return cmd
}

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage secrets in the encrypted credential vault",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <service> <key>",
			Short: "Store a secret read from standard input",
			Args:  cobra.ExactArgs(2),
			RunE: withVault(func(ctx context.Context, cmd *cobra.Command, v *credential.Vault, args []string) error {
				secret, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				return v.Set(ctx, args[0], args[1], secret)
			}),
		},
		&cobra.Command{
			Use:   "get <service> <key>",
			Short: "Print a secret",
			Args:  cobra.ExactArgs(2),
			RunE: withVault(func(ctx context.Context, cmd *cobra.Command, v *credential.Vault, args []string) error {
				secret, err := v.Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), secret)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <service> <key>",
			Short: "Remove a secret",
			Args:  cobra.ExactArgs(2),
			RunE: withVault(func(ctx context.Context, _ *cobra.Command, v *credential.Vault, args []string) error {
				return v.Delete(ctx, args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "list <service>",
			Short: "List the keys stored for a service",
			Args:  cobra.ExactArgs(1),
			RunE: withVault(func(ctx context.Context, cmd *cobra.Command, v *credential.Vault, args []string) error {
				keys, err := v.Keys(ctx, args[0])
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			}),
		},
	)
	return cmd
}

type vaultFunc func(ctx context.Context, cmd *cobra.Command, v *credential.Vault, args []string) error

// withVault opens the configured vault around fn.
func withVault(fn vaultFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadCredentials()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		v, closeVault, err := openVault(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeVault() }()

		return fn(ctx, cmd, v, args)
	}
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	return secret, nil
}
