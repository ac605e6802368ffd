// Postmill migrate — применение миграций схемы через goose.
//
// Использование:
//
//	postmill-migrate [up|down|status|version]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/postmill/internal/config"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

func main() {
	var dsn string

	rootCmd := &cobra.Command{
		Use:           "postmill-migrate",
		Short:         "Apply Postmill database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "db-url", "", "Postgres URL (default: DB_URL)")

	for _, c := range []struct{ name, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Show migration status"},
		{"version", "Show the current schema version"},
	} {
		command := c.name
		rootCmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)

				url := cfg.Database.URL
				if dsn != "" {
					url = dsn
				}
				return repo.Migrate(cmd.Context(), url, command, logger)
			},
		})
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
