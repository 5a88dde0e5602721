package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/orderlyflow/internal/database"
	"github.com/dukerupert/orderlyflow/internal/storage"
	"github.com/dukerupert/orderlyflow/internal/store"
)

func setupManager(t *testing.T) (*Manager, *storage.Memory) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := store.NewUserStore(db).Create("alice@example.com", "Alice", "password123"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	objects := storage.NewMemory()
	m := NewManager(db, objects, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return time.Date(2026, 3, 1, 4, 5, 6, 0, time.UTC) }
	return m, objects
}

func TestKey(t *testing.T) {
	got := Key(time.Date(2026, 3, 1, 4, 5, 6, 0, time.UTC))
	want := "backups/orderlyflow-2026-03-01T040506Z.db.enc"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestCreateAndRestore(t *testing.T) {
	m, objects := setupManager(t)
	ctx := context.Background()

	snap, err := m.Create(ctx, "correct horse")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(snap.Key, "backups/") || snap.SizeBytes == 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, err := objects.Get(ctx, snap.Key); err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(ctx, snap.Key, "correct horse", dst); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := database.Open(dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	u, err := store.NewUserStore(restored).GetByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u == nil || u.Name != "Alice" {
		t.Errorf("restored user = %+v", u)
	}
}

func TestRestoreRejects(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	snap, err := m.Create(ctx, "pass")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dir := t.TempDir()
	if err := m.Restore(ctx, snap.Key, "wrong", filepath.Join(dir, "a.db")); err == nil {
		t.Error("expected error with wrong passphrase")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.db")); !os.IsNotExist(err) {
		t.Error("failed restore must not leave a database behind")
	}

	existing := filepath.Join(dir, "exists.db")
	os.WriteFile(existing, []byte("x"), 0o600)
	if err := m.Restore(ctx, snap.Key, "pass", existing); !errors.Is(err, ErrDestinationExists) {
		t.Errorf("err = %v, want ErrDestinationExists", err)
	}

	if err := m.Restore(ctx, "backups/missing.db.enc", "pass", filepath.Join(dir, "b.db")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
}

func TestCreateRequiresPassphrase(t *testing.T) {
	m, _ := setupManager(t)
	if _, err := m.Create(context.Background(), ""); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("err = %v, want ErrNoPassphrase", err)
	}
}
