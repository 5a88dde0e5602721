package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/orderlyflow/internal/backup"
	"github.com/dukerupert/orderlyflow/internal/database"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create or restore encrypted database snapshots in object storage",
	}
	cmd.AddCommand(backupCreateCmd(), backupRestoreCmd())
	return cmd
}

func newBackupManager() (*backup.Manager, func(), error) {
	if cfg.Storage.Driver != "s3" {
		return nil, nil, errors.New("backups require the s3 storage driver")
	}
	if cfg.Backup.Passphrase == "" {
		return nil, nil, errors.New("backup.passphrase must be set")
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	objects, err := newObjectStore()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return backup.NewManager(db, objects, logger.With("component", "backup")), func() { db.Close() }, nil
}

func backupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the database and upload it",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := newBackupManager()
			if err != nil {
				return err
			}
			defer done()

			snap, err := m.Create(cmd.Context(), cfg.Backup.Passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", snap.Key, snap.SizeBytes)
			return nil
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key> <destination>",
		Short: "Download, decrypt and verify a snapshot into a new database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := newBackupManager()
			if err != nil {
				return err
			}
			defer done()

			if err := m.Restore(cmd.Context(), args[0], cfg.Backup.Passphrase, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", args[0], args[1])
			return nil
		},
	}
}
