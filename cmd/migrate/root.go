package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/authgate/internal/logging"
	"github.com/yourusername/authgate/internal/users/postgres"
)

// migrator は postgres.Migrator の操作です。
type migrator interface {
	Up(ctx context.Context) error
	Status(ctx context.Context) error
	Down(ctx context.Context, targetVersion int64) error
}

type migratorFactory func(dsn string, logger *slog.Logger) (migrator, error)

func defaultFactory(dsn string, logger *slog.Logger) (migrator, error) {
	return postgres.NewMigrator(dsn, logger)
}

// NewRootCmd はルートコマンドを作成します。
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultFactory)
}

func newRootCmd(factory migratorFactory) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:           "authgate-migrate",
		Short:         "Manage the authgate PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (default $DATABASE_URL)")

	open := func(cmd *cobra.Command) (migrator, error) {
		dsn := databaseURL
		if dsn == "" {
			_ = godotenv.Load(".env.local")
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable or --database-url is required")
		}
		logger := logging.Setup("authgate-migrate", "text", "info", cmd.ErrOrStderr())
		return factory(dsn, logger)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open(cmd)
				if err != nil {
					return err
				}
				if err := m.Up(cmd.Context()); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open(cmd)
				if err != nil {
					return err
				}
				if err := m.Status(cmd.Context()); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "status").Wrap(err)
				}
				return nil
			},
		},
		newDownCmd(open),
	)
	return cmd
}

func newDownCmd(open func(*cobra.Command) (migrator, error)) *cobra.Command {
	var target int64
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or down to --target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target < 0 {
				return oops.Code("CONFIG_INVALID").Errorf("--target must not be negative")
			}
			m, err := open(cmd)
			if err != nil {
				return err
			}
			if err := m.Down(cmd.Context(), target); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "down").With("target", target).Wrap(err)
			}
			cmd.Println("Rollback completed successfully")
			return nil
		},
	}
	cmd.Flags().Int64Var(&target, "target", 0, "roll back until this version remains (0 = latest only)")
	return cmd
}
