package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medgate/internal/domain/session/model"
)

type memoryStore struct {
	items       map[string]model.Session
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory session store.
func NewMemory(cfg Config) Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]model.Session),
		ttl:         ttl,
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Put(_ context.Context, sess model.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = now.Add(s.ttl)
	}
	if sess.Version == 0 {
		sess.Version = 1
	}

	s.mutex.Lock()
	s.items[sess.ID] = sess
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (model.Session, error) {
	s.mutex.RLock()
	sess, ok := s.items[id]
	s.mutex.RUnlock()
	if !ok || sess.ExpiredAt(time.Now()) {
		return model.Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *memoryStore) Update(_ context.Context, sess model.Session) (model.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, ok := s.items[sess.ID]
	if !ok || current.ExpiredAt(time.Now()) {
		return model.Session{}, ErrNotFound
	}
	if current.Version != sess.Version {
		return model.Session{}, ErrVersionConflict
	}
	sess.Version++
	s.items[sess.ID] = sess
	return sess, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mutex.Lock()
	delete(s.items, id)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) error {
	now := time.Now()
	s.mutex.Lock()
	for id, sess := range s.items {
		if sess.ExpiredAt(now) {
			delete(s.items, id)
		}
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	total := len(s.items)
	active := 0
	for _, sess := range s.items {
		if !sess.ExpiredAt(now) {
			active++
		}
	}
	return map[string]any{
		"type":        "memory",
		"total":       total,
		"active":      active,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
