package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kanban/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Schema migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recently applied migration",
	Args:  cobra.NoArgs,
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and when they were applied",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	if err := store.ApplyMigrations(cmd.Context(), e.db, e.cfg.MigrationsDir); err != nil {
		return err
	}
	e.logger.Info("migrations applied", zap.String("dir", e.cfg.MigrationsDir))
	fmt.Fprintln(cmd.OutOrStdout(), "migrations up to date")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	version, err := store.RollbackMigration(cmd.Context(), e.db, e.cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if version == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
		return nil
	}
	e.logger.Info("migration rolled back", zap.String("version", version))
	fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", version)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	migrations, err := store.MigrationStatus(cmd.Context(), e.db, e.cfg.MigrationsDir)
	if err != nil {
		return err
	}
	return printMigrations(cmd, migrations)
}

func printMigrations(cmd *cobra.Command, migrations []store.Migration) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED")
	for _, m := range migrations {
		applied := "pending"
		if m.AppliedAt != nil {
			applied = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\n", m.Version, applied)
	}
	return w.Flush()
}
