// Package backup takes encrypted snapshots of the SQLite database and keeps
// them in object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dukerupert/orderlyflow/internal/storage"
)

const (
	keyPrefix   = "backups/"
	contentType = "application/octet-stream"
)

var (
	ErrNoPassphrase      = errors.New("backup: passphrase is required")
	ErrDestinationExists = errors.New("backup: restore destination already exists")
)

// Snapshot describes one uploaded backup.
type Snapshot struct {
	Key       string
	SizeBytes int64
	CreatedAt time.Time
}

// Manager creates and restores encrypted database snapshots.
type Manager struct {
	db      *sql.DB
	objects storage.Store
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(db *sql.DB, objects storage.Store, logger *slog.Logger) *Manager {
	return &Manager{db: db, objects: objects, logger: logger, now: time.Now}
}

// Key returns the storage key of a snapshot taken at t.
func Key(t time.Time) string {
	return keyPrefix + "orderlyflow-" + t.UTC().Format("2006-01-02T150405Z") + ".db.enc"
}

// Create snapshots the live database with VACUUM INTO, encrypts it under
// passphrase and uploads it.
func (m *Manager) Create(ctx context.Context, passphrase string) (*Snapshot, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	tmpDir, err := os.MkdirTemp("", "orderlyflow-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dbCopy := filepath.Join(tmpDir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO "+quote(dbCopy)); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}
	plaintext, err := os.ReadFile(dbCopy)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	enc, err := Encrypt(plaintext, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	created := m.now().UTC()
	key := Key(created)
	if err := m.objects.Put(ctx, key, contentType, bytes.NewReader(enc)); err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}

	m.logger.Info("backup created", "key", key, "size_bytes", len(enc))
	return &Snapshot{Key: key, SizeBytes: int64(len(enc)), CreatedAt: created}, nil
}

// Restore downloads the snapshot at key, decrypts it, checks its integrity
// and writes it to dstPath. dstPath must not exist; swapping it in for the
// live database is left to the operator.
func (m *Manager) Restore(ctx context.Context, key, passphrase, dstPath string) error {
	if passphrase == "" {
		return ErrNoPassphrase
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dstPath)
	}

	obj, err := m.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	enc, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	plaintext, err := Decrypt(enc, passphrase)
	if err != nil {
		return err
	}

	tmp := dstPath + ".restore"
	if err := os.WriteFile(tmp, plaintext, 0o600); err != nil {
		return fmt.Errorf("write restored file: %w", err)
	}
	defer os.Remove(tmp)

	if err := checkIntegrity(ctx, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		return fmt.Errorf("move restored file: %w", err)
	}

	m.logger.Info("backup restored", "key", key, "path", dstPath)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
