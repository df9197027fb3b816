package cmds

import (
	"github.com/spf13/cobra"

	"github.com/algoclash/judge-api/judge-api/internal/logger"
	"github.com/algoclash/judge-api/judge-api/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Migrate the database to the latest version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}

		if err := migrations.Up(cmd.Context(), db); err != nil {
			return err
		}

		logger.Logger.Info("migrated database to latest version")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}

		if err := migrations.Down(cmd.Context(), db); err != nil {
			return err
		}

		logger.Logger.Info("rolled back one migration")
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
