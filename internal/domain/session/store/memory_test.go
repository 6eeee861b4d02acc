package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medgate/internal/domain/session/model"
)

func baseSession(id string) model.Session {
	return model.Session{
		ID:     id,
		UserID: "user-1",
		Role:   model.RoleDoctor,
		Stage:  model.StageCredentialsSubmitted,
		Flags:  model.MFAFlags{RequireTOTP: true},
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{
		TTL:    time.Second,
		Memory: &MemoryConfig{GCInterval: 10 * time.Millisecond},
	})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	sess := baseSession("sess-basic")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	stored, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.UserID != sess.UserID || stored.Stage != sess.Stage {
		t.Fatalf("unexpected session: %+v", stored)
	}
	if stored.Version != 1 {
		t.Fatalf("expected initial version 1, got %d", stored.Version)
	}

	stored.Stage = model.StageTotpVerifyPending
	updated, err := store.Update(ctx, stored)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", updated.Version)
	}

	if err := store.Remove(ctx, sess.ID); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestMemoryStoreExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{
		TTL:    30 * time.Millisecond,
		Memory: &MemoryConfig{GCInterval: time.Hour},
	})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	sess := baseSession("sess-expire")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Expiry is enforced on load, not by the sweep.
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	if err := store.CleanupExpired(ctx); err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats["total"].(int) != 0 {
		t.Fatalf("expected swept store, got %v", stats["total"])
	}
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{TTL: time.Minute})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	sess := baseSession("sess-cas")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	read, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	first := read
	first.Stage = model.StageAuthenticated
	if _, err := store.Update(ctx, first); err != nil {
		t.Fatalf("first Update returned error: %v", err)
	}

	second := read
	second.Stage = model.StageLocked
	if _, err := store.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMemoryStoreConcurrentUpdateSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{TTL: time.Minute})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	sess := baseSession("sess-race")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	read, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := read
			candidate.Stage = model.StageAuthenticated
			if _, err := store.Update(ctx, candidate); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winning update, got %d", count)
	}
}
