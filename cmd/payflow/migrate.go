package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/fedotovmax/payflow/migrations"
)

type migrateFunc func(ctx context.Context, db *sql.DB) error

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			if dsn == "" {
				dsn = os.Getenv("PG_URL")
			}
			if dsn == "" {
				return errors.New("database url is empty: pass --dsn or set PG_URL")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "postgres url (defaults to PG_URL)")

	cmd.AddCommand(
		migrateSubCmd(&dsn, "up", "Apply all pending migrations", func(ctx context.Context, db *sql.DB) error {
			return goose.UpContext(ctx, db, ".")
		}),
		migrateSubCmd(&dsn, "down", "Roll back the last migration", func(ctx context.Context, db *sql.DB) error {
			return goose.DownContext(ctx, db, ".")
		}),
		migrateSubCmd(&dsn, "status", "Print the status of every migration", func(ctx context.Context, db *sql.DB) error {
			return goose.StatusContext(ctx, db, ".")
		}),
	)

	return cmd
}

func migrateSubCmd(dsn *string, use, short string, run migrateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("pgx", *dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			goose.SetBaseFS(migrations.FS)
			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}

			return run(cmd.Context(), db)
		},
	}
}
