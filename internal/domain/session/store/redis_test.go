package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"medgate/internal/domain/session/model"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := NewRedis(Config{
		TTL: time.Minute,
		Redis: &RedisConfig{
			Addr: mr.Addr(),
		},
	})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	return store
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	sess := baseSession("redis-sess")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.UserID != sess.UserID || !got.Flags.RequireTOTP {
		t.Fatalf("unexpected session: %+v", got)
	}

	got.Stage = model.StageTotpVerifyPending
	updated, err := store.Update(ctx, got)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	if err := store.Remove(ctx, sess.ID); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestRedisStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	sess := baseSession("redis-cas")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	read, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	first := read
	first.Stage = model.StageAuthenticated
	if _, err := store.Update(ctx, first); err != nil {
		t.Fatalf("first Update error: %v", err)
	}

	second := read
	second.Stage = model.StageLocked
	if _, err := store.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The winning write must still be in place.
	final, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if final.Stage != model.StageAuthenticated {
		t.Fatalf("conflicting update must not regress stage, got %s", final.Stage)
	}
}
