package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/app"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/config"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the settlement tables",
		Long: `Runs AutoMigrate for users, properties, units, subscriptions,
payments, subscription payments, disbursements and the callback archive
against DB_DRIVER/DB_DSN. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := app.OpenDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := database.Migrate(db, app.Models()...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables (%s)\n", len(app.Models()), cfg.DB.Driver)
			return nil
		},
	}
}
