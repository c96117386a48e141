package main

import (
	"github.com/spf13/cobra"

	"parking-status-backend/internal/db"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer closeQuietly(closer)

			gdb, err := db.Init(&cfg.Database, log)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			return nil
		},
	}
}
