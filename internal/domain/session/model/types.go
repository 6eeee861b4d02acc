package model

import "time"

// Role is the coarse authorization role asserted by the IAM service.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDoctor Role = "doctor"
	RoleNurse  Role = "nurse"
)

// Valid reports whether the role is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleNurse:
		return true
	}
	return false
}

// Stage is the position of a session in the authentication state machine.
type Stage string

const (
	StageUnauthenticated      Stage = "unauthenticated"
	StageCredentialsSubmitted Stage = "credentials_submitted"
	StageTotpSetupPending     Stage = "totp_setup_pending"
	StageTotpVerifyPending    Stage = "totp_verify_pending"
	StageWebauthnPending      Stage = "webauthn_pending"
	StageAuthenticated        Stage = "authenticated"
	StageLocked               Stage = "locked"
	StageExpired              Stage = "expired"
)

// Pending reports whether the stage awaits an MFA sub-flow response.
func (s Stage) Pending() bool {
	switch s {
	case StageTotpSetupPending, StageTotpVerifyPending, StageWebauthnPending:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	switch s {
	case StageAuthenticated, StageLocked, StageExpired:
		return true
	}
	return false
}

// MFAFlags is the per-login policy decision returned by IAM.
// SkipAll short-circuits every other flag; at most one pending path
// is active at a time (setup wins over verify, totp over webauthn).
type MFAFlags struct {
	RequireTOTP      bool `json:"require_totp"`
	RequireWebauthn  bool `json:"require_webauthn"`
	RequireTOTPSetup bool `json:"require_totp_setup"`
	SkipAll          bool `json:"skip_all_mfa"`
}

// Session is the authentication session owned by the state machine.
// It is mutated only through the machine's transition function; nothing
// else may set Stage to StageAuthenticated.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	Stage        Stage     `json:"stage"`
	Flags        MFAFlags  `json:"mfa_flags"`
	AccessToken  string    `json:"access_token,omitempty"`
	IAMRef       string    `json:"iam_ref,omitempty"`
	TrustScore   float64   `json:"trust_score"`
	AttemptCount int       `json:"attempt_count"`
	InFlight     bool      `json:"in_flight"`
	InFlightAt   time.Time `json:"in_flight_at,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the session lifetime has passed at the instant.
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Identity is the only view of a session handed to the domain CRUD layer.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Logger provides the minimal logging contract required by the session domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
