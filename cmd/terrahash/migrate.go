package main

import (
	"github.com/spf13/cobra"

	"github.com/terrahash/landregistry/internal/database"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the registry tables",
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := database.NewPostgresDB(e.cfg.Database)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			e.logger.Info("Migrations applied")
			return nil
		},
	}
}
