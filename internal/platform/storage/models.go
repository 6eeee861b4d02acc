package storage

import (
	"time"

	"gorm.io/datatypes"
)

// SessionRecord is the GORM shape of an authentication session. The version
// column backs the optimistic concurrency check in the sqlite store.
type SessionRecord struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	UserID       string         `gorm:"index;not null" json:"user_id"`
	Role         string         `gorm:"not null" json:"role"`
	Stage        string         `gorm:"not null" json:"stage"`
	Flags        datatypes.JSON `gorm:"not null" json:"flags"`
	AccessToken  string         `gorm:"type:text" json:"access_token"`
	IAMRef       string         `gorm:"type:text" json:"iam_ref"`
	TrustScore   float64        `json:"trust_score"`
	AttemptCount int            `gorm:"default:0" json:"attempt_count"`
	InFlight     bool           `gorm:"default:false" json:"in_flight"`
	InFlightAt   time.Time      `json:"in_flight_at"`
	Version      int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `gorm:"index" json:"expires_at"`
}

// TableName pins the table name.
func (SessionRecord) TableName() string {
	return "auth_sessions"
}
