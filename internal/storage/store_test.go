package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"moverwatch/internal/config"
)

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if _, err := s.InsertAlert(ctx, AlertRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListRecentAlerts(ctx, 10); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.DeleteAlertsBefore(ctx, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	s.Close()
}

func TestNewPoolRequiresDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), config.DatabaseConfig{}); err == nil {
		t.Fatal("empty dsn should fail")
	}
	if _, err := NewPool(context.Background(), config.DatabaseConfig{DSN: "::not a dsn::"}); err == nil {
		t.Fatal("invalid dsn should fail")
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := MigrationFiles(dir)
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "0001_a.sql" {
		t.Fatalf("unexpected migration order: %v", files)
	}

	if files, _ := MigrationFiles(""); len(files) != 0 {
		t.Fatal("empty dir should yield no migrations")
	}
}
