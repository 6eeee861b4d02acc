package iam

import (
	"errors"

	"medgate/internal/domain/session/model"
)

// Typed failures the gateway maps IAM responses onto. Callers never see raw
// transport errors; anything ambiguous collapses to ErrGatewayUnavailable.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrMFARejected        = errors.New("mfa rejected")
	ErrGatewayUnavailable = errors.New("iam gateway unavailable")
)

// Credentials is the opaque primary-factor blob forwarded to IAM. Only
// presence and size are checked locally; semantics are IAM's business.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is the identity assertion IAM returns for a login attempt.
type LoginResult struct {
	SessionRef  string         `json:"session_ref"`
	UserID      string         `json:"user_id"`
	Role        model.Role     `json:"role"`
	AccessToken string         `json:"access_token"`
	TrustScore  float64        `json:"trust_score"`
	Flags       model.MFAFlags `json:"mfa"`
}

// MFAResult is IAM's verdict on a verification or setup-confirmation call.
// Flags are the freshly evaluated requirements: IAM may escalate mid-flow.
type MFAResult struct {
	Verified   bool           `json:"verified"`
	TrustScore float64        `json:"trust_score"`
	Flags      model.MFAFlags `json:"mfa"`
}

// EnrollmentChallenge carries the TOTP provisioning material for enrollment.
type EnrollmentChallenge struct {
	Secret          string `json:"secret"`
	ProvisioningURL string `json:"provisioning_url"`
}

// Challenge is an issued WebAuthn challenge.
type Challenge struct {
	Challenge    string `json:"challenge"`
	RelyingParty string `json:"relying_party"`
}
