package eventbus

import "time"

// Audit topics published by the authentication flow and the access gate.
const (
	EventAuthLogin     = "auth:login"
	EventAuthMFAFailed = "auth:mfa_failed"
	EventAuthLocked    = "auth:locked"
	EventAuthDenied    = "auth:denied"
	EventAuthLogout    = "auth:logout"
)

// AuthEventData is the payload for login/lock/logout topics.
type AuthEventData struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// DenialEventData records the internal reason for a gate denial. The external
// response stays opaque; only this audit trail distinguishes wrong-role from
// not-authenticated.
type DenialEventData struct {
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Resource  string    `json:"resource"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}
