package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/orderlyflow/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply, roll back or report database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.OpenNoMigrate(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			switch args[0] {
			case "up", "down":
				if err := database.Migrate(db, args[0]); err != nil {
					return err
				}
			case "version":
			default:
				return fmt.Errorf("unknown migrate action %q", args[0])
			}

			v, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database version %d\n", v)
			return nil
		},
	}
}
