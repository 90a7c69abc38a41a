package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	}
	up.Flags().String("dir", bootstrap.DefaultMigrationsDir, "Directory holding the migration files")
	up.Flags().Int("steps", 0, "Apply only this many migrations (0 applies all)")
	cmd.AddCommand(up)
	return cmd
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	steps, _ := cmd.Flags().GetInt("steps")
	if steps < 0 {
		return errors.New("--steps must not be negative")
	}
	url := config.Load().Stores.DatabaseURL
	if url == "" {
		return errors.New("DATABASE_URL is not set")
	}
	return bootstrap.Migrate(url, dir, steps)
}
