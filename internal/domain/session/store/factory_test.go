package store

import (
	"context"
	"testing"
	"time"

	"medgate/internal/platform/storage"
)

func TestFactoryDrivers(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to memory", func(t *testing.T) {
		s, err := New(Config{TTL: time.Minute}, Dependencies{})
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		t.Cleanup(func() { _ = s.Close(ctx) })

		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats error: %v", err)
		}
		if stats["type"] != "memory" {
			t.Fatalf("expected memory driver, got %v", stats["type"])
		}
	})

	t.Run("sqlite requires handle", func(t *testing.T) {
		if _, err := New(Config{Driver: DriverSQLite}, Dependencies{}); err == nil {
			t.Fatalf("expected error without database handle")
		}
	})

	t.Run("sqlite with handle", func(t *testing.T) {
		db, err := storage.OpenSQLite(":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		s, err := New(Config{Driver: DriverSQLite, TTL: time.Minute}, Dependencies{SQLiteDB: db})
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		t.Cleanup(func() { _ = s.Close(ctx) })
	})

	t.Run("unknown driver", func(t *testing.T) {
		if _, err := New(Config{Driver: "etcd"}, Dependencies{}); err == nil {
			t.Fatalf("expected error for unknown driver")
		}
	})
}
