package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kanban/api/internal/config"
	"kanban/api/internal/logging"
	"kanban/api/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	databaseURL   string
	migrationsDir string
)

var rootCmd = &cobra.Command{
	Use:   "kanban-admin",
	Short: "Operator tooling for the kanban API",
	Long: `kanban-admin runs maintenance jobs against the kanban database.

Connection settings come from the same environment variables as the API
server. Flags override them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations", "", "Migrations directory (default $KANBAN_MIGRATIONS_DIR)")

	rootCmd.AddCommand(migrateCmd, reindexCmd, positionsCmd, purgeTokensCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles what every subcommand needs. close releases the database and
// flushes the logger.
type env struct {
	cfg    config.Config
	db     *sql.DB
	store  *store.PostgresStore
	logger *zap.Logger
}

func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	_ = e.logger.Sync()
}

func loadConfig() config.Config {
	cfg := config.Load()
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if migrationsDir != "" {
		cfg.MigrationsDir = migrationsDir
	}
	return cfg
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := loadConfig()
	logger, err := logging.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, db: db, store: store.NewPostgresStore(db), logger: logger}, nil
}
