package main

import (
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-driver/internal/db"
)

func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateDatabase(); err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeDB(conn)
			return db.Migrate(cmd.Context(), conn)
		},
	}
}
