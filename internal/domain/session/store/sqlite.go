package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medgate/internal/domain/session/model"
	"medgate/internal/platform/storage"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a SQLite-backed session store.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &sqliteStore{
		db:  db,
		ttl: ttl,
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, sess model.Session) error {
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
	record, err := toRecord(sess)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *sqliteStore) Get(ctx context.Context, id string) (model.Session, error) {
	var record storage.SessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	sess, err := fromRecord(record)
	if err != nil {
		return model.Session{}, err
	}
	if sess.ExpiredAt(time.Now()) {
		return model.Session{}, ErrNotFound
	}
	return sess, nil
}

// Update relies on a guarded UPDATE: the WHERE clause carries the version the
// caller read, so a racing writer leaves zero rows affected here.
func (s *sqliteStore) Update(ctx context.Context, sess model.Session) (model.Session, error) {
	next := sess
	next.Version++
	flags, err := json.Marshal(next.Flags)
	if err != nil {
		return model.Session{}, err
	}

	res := s.db.WithContext(ctx).
		Model(&storage.SessionRecord{}).
		Where("id = ? AND version = ?", sess.ID, sess.Version).
		Updates(map[string]any{
			"user_id":       next.UserID,
			"role":          string(next.Role),
			"stage":         string(next.Stage),
			"flags":         datatypes.JSON(flags),
			"access_token":  next.AccessToken,
			"iam_ref":       next.IAMRef,
			"trust_score":   next.TrustScore,
			"attempt_count": next.AttemptCount,
			"in_flight":     next.InFlight,
			"in_flight_at":  next.InFlightAt,
			"version":       next.Version,
			"expires_at":    next.ExpiresAt,
		})
	if res.Error != nil {
		return model.Session{}, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, sess.ID); err != nil {
			return model.Session{}, err
		}
		return model.Session{}, ErrVersionConflict
	}
	return next, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&storage.SessionRecord{}).Error
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&storage.SessionRecord{}).
		Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.SessionRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":  "sqlite",
		"total": total,
		"ttl":   int(s.ttl.Seconds()),
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}

func toRecord(sess model.Session) (*storage.SessionRecord, error) {
	flags, err := json.Marshal(sess.Flags)
	if err != nil {
		return nil, err
	}
	return &storage.SessionRecord{
		ID:           sess.ID,
		UserID:       sess.UserID,
		Role:         string(sess.Role),
		Stage:        string(sess.Stage),
		Flags:        datatypes.JSON(flags),
		AccessToken:  sess.AccessToken,
		IAMRef:       sess.IAMRef,
		TrustScore:   sess.TrustScore,
		AttemptCount: sess.AttemptCount,
		InFlight:     sess.InFlight,
		InFlightAt:   sess.InFlightAt,
		Version:      sess.Version,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

func fromRecord(record storage.SessionRecord) (model.Session, error) {
	sess := model.Session{
		ID:           record.ID,
		UserID:       record.UserID,
		Role:         model.Role(record.Role),
		Stage:        model.Stage(record.Stage),
		AccessToken:  record.AccessToken,
		IAMRef:       record.IAMRef,
		TrustScore:   record.TrustScore,
		AttemptCount: record.AttemptCount,
		InFlight:     record.InFlight,
		InFlightAt:   record.InFlightAt,
		Version:      record.Version,
		CreatedAt:    record.CreatedAt,
		ExpiresAt:    record.ExpiresAt,
	}
	if len(record.Flags) > 0 {
		if err := json.Unmarshal(record.Flags, &sess.Flags); err != nil {
			return model.Session{}, err
		}
	}
	return sess, nil
}
