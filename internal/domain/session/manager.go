package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"medgate/internal/domain/session/model"
	"medgate/internal/domain/session/store"

	"github.com/google/uuid"
)

type (
	// Session re-exports the shared session entity for callers.
	Session = model.Session
	// Logger re-exports the logging interface used across the domain.
	Logger = model.Logger
)

const (
	defaultCleanupInterval = 10 * time.Minute
	minCleanupInterval     = 30 * time.Second
)

// Options encapsulates the dependencies required to construct a Manager.
type Options struct {
	Store           store.Store
	Logger          Logger
	Codec           *TokenCodec
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

// Manager owns the session lifecycle: identifier minting, token issuance,
// load-with-expiry-check, versioned updates and invalidation. The background
// sweep is best effort only; correctness rests on the load-time check.
type Manager struct {
	store      store.Store
	logger     Logger
	codec      *TokenCodec
	sessionTTL time.Duration

	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupOnce     sync.Once
}

// NewManager wires a Manager using the supplied options.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session manager requires a store")
	}
	if opts.Logger == nil {
		return nil, errors.New("session manager requires a logger")
	}
	if opts.Codec == nil {
		return nil, errors.New("session manager requires a token codec")
	}
	sessionTTL := opts.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 8 * time.Hour
	}
	cleanupInterval := opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	} else if cleanupInterval < minCleanupInterval {
		opts.Logger.Warn(
			"cleanup interval too small, adjusting to minimum %s",
			minCleanupInterval,
		)
		cleanupInterval = minCleanupInterval
	}
	mgr := &Manager{
		store:           opts.Store,
		logger:          opts.Logger,
		codec:           opts.Codec,
		sessionTTL:      sessionTTL,
		cleanupInterval: cleanupInterval,
		cleanupStop:     make(chan struct{}),
	}

	go mgr.runCleanup()
	return mgr, nil
}

func (m *Manager) runCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.store.CleanupExpired(context.Background()); err != nil {
				m.logger.Warn("session store cleanup failed: %v", err)
			}
		case <-m.cleanupStop:
			return
		}
	}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.sessionTTL
}

// Create persists a fresh session and returns it with its signed token.
// Identifier, timestamps and version are assigned here; whatever the caller
// put in those fields is discarded.
func (m *Manager) Create(ctx context.Context, sess model.Session) (model.Session, string, error) {
	now := time.Now()
	sess.ID = uuid.NewString()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(m.sessionTTL)
	sess.Version = 1

	if err := m.store.Put(ctx, sess); err != nil {
		m.logger.Error("failed to persist session for user %s: %v", sess.UserID, err)
		return model.Session{}, "", err
	}
	token, err := m.codec.Sign(sess.ID, sess.ExpiresAt)
	if err != nil {
		_ = m.store.Remove(ctx, sess.ID)
		return model.Session{}, "", err
	}
	m.logger.Debug("created session %s at stage %s", sess.ID, sess.Stage)
	return sess, token, nil
}

// Load verifies the token and fetches the live session. Signature failure is
// ErrSessionInvalid; a valid token whose record is missing or past its
// lifetime is ErrSessionExpired, never a partially trusted payload.
func (m *Manager) Load(ctx context.Context, token string) (model.Session, error) {
	sessionID, err := m.codec.Verify(token)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Session{}, ErrSessionExpired
		}
		return model.Session{}, err
	}
	return sess, nil
}

// Update applies a versioned read-modify-write. A store.ErrVersionConflict
// result means a concurrent writer advanced the session first.
func (m *Manager) Update(ctx context.Context, sess model.Session) (model.Session, error) {
	return m.store.Update(ctx, sess)
}

// Get fetches a session by identifier without touching the token layer.
func (m *Manager) Get(ctx context.Context, sessionID string) (model.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// Invalidate destroys the session behind the token. Unverifiable tokens are
// ignored: logout of a dead session is a no-op, not an error.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	sessionID, err := m.codec.Verify(token)
	if err != nil {
		return nil
	}
	if err := m.store.Remove(ctx, sessionID); err != nil {
		return err
	}
	m.logger.Info("invalidated session %s", sessionID)
	return nil
}

// Stats returns debug information from the store backend.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	return m.store.Stats(ctx)
}

// Close releases underlying resources.
func (m *Manager) Close() error {
	m.cleanupOnce.Do(func() {
		close(m.cleanupStop)
	})

	if err := m.store.Close(context.Background()); err != nil {
		m.logger.Error("failed closing session store: %v", err)
		return err
	}
	return nil
}
