// Command migration applies and inspects the effect database schema.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"effect-service/config"
	"effect-service/dao"
	"effect-service/db"
)

var (
	driver     string
	sqlitePath string
)

var rootCmd = &cobra.Command{
	Use:   "migration",
	Short: "Manage the effect database schema",
	Long: `migration applies the embedded schema migrations to the effect database.

Connection settings come from the same environment variables the service reads
(STORE_DRIVER, MYSQL_*, SQLITE_PATH); flags override the driver and SQLite path.

Examples:
  migration up                          # Apply pending migrations
  migration status                      # Show applied and pending migrations
  migration up --driver sqlite --sqlite-path data/effects.db`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlDB, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		applied, err := db.ApplyMigrations(cmd.Context(), sqlDB)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlDB, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		migrations, err := db.Status(cmd.Context(), sqlDB)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MIGRATION\tAPPLIED AT")
		for _, m := range migrations {
			appliedAt := "pending"
			if m.Applied {
				appliedAt = m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\n", m.Name, appliedAt)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Store driver, mysql or sqlite (default from STORE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file (default from SQLITE_PATH)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
}

func connect(ctx context.Context) (*sql.DB, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if driver != "" {
		cfg.Driver = driver
	}
	if sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		return dao.ConnectSQLite(ctx, cfg.SQLitePath)
	case config.DriverMySQL:
		return dao.OpenMySQL(ctx, dao.MySQLConfig{
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Addr:     cfg.MySQL.Addr,
			Database: cfg.MySQL.Database,
		})
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		config.Exitf("Error: %v", err)
	}
}
