package session

import "errors"

var (
	// ErrSessionInvalid covers tokens that fail signature or shape checks.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionExpired covers well-formed tokens whose session is gone.
	ErrSessionExpired = errors.New("session expired")
)
