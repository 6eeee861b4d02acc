package authflow

import (
	"context"
	"errors"
	"time"

	"medgate/internal/domain/eventbus"
	"medgate/internal/domain/iam"
	"medgate/internal/domain/session"
	"medgate/internal/domain/session/model"
	"medgate/internal/domain/session/store"
)

var (
	// ErrLocked is terminal for the session: too many failed attempts.
	ErrLocked = errors.New("session locked")
	// ErrVerificationInFlight caps concurrent verification per session at one.
	ErrVerificationInFlight = errors.New("verification already in progress")
)

// inFlightGrace bounds how long a verification claim may go unsettled before
// another submit may reclaim it. It must exceed the gateway timeout so a slow
// verdict is never raced by its own retry.
const inFlightGrace = 30 * time.Second

// Options encapsulates the dependencies required to construct a Machine.
type Options struct {
	Gateway       iam.Client
	Sessions      *session.Manager
	Logger        model.Logger
	Bus           *eventbus.Bus
	MaxAttempts   int
	MinTrustScore float64
	LockTTL       time.Duration
}

// Machine is the authentication state machine. It owns every session
// transition: primary login, MFA orchestration and finalization. Nothing
// else writes a session's stage.
type Machine struct {
	gateway       iam.Client
	sessions      *session.Manager
	logger        model.Logger
	bus           *eventbus.Bus
	maxAttempts   int
	minTrustScore float64
	lockTTL       time.Duration
}

// Status is the machine's answer to the caller: the token to carry, where
// the flow stands, and what (if anything) the user must do next.
type Status struct {
	Token      string                   `json:"-"`
	Stage      model.Stage              `json:"stage"`
	NextAction NextAction               `json:"next_action"`
	Enrollment *iam.EnrollmentChallenge `json:"enrollment,omitempty"`
	Challenge  *iam.Challenge           `json:"challenge,omitempty"`
}

// NewMachine wires a Machine using the supplied options.
func NewMachine(opts Options) (*Machine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("auth machine requires a gateway client")
	}
	if opts.Sessions == nil {
		return nil, errors.New("auth machine requires a session manager")
	}
	if opts.Logger == nil {
		return nil, errors.New("auth machine requires a logger")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Machine{
		gateway:       opts.Gateway,
		sessions:      opts.Sessions,
		logger:        opts.Logger,
		bus:           opts.Bus,
		maxAttempts:   maxAttempts,
		minTrustScore: opts.MinTrustScore,
		lockTTL:       opts.LockTTL,
	}, nil
}

// Login runs the primary-credential round trip and parks the session in the
// stage the orchestrator decides. A previous token, if supplied, is
// invalidated first: re-entry always restarts at credentials, never ahead.
// On gateway failure no session state is created at all.
func (m *Machine) Login(ctx context.Context, previousToken string, creds iam.Credentials) (Status, error) {
	if previousToken != "" {
		if prev, err := m.sessions.Load(ctx, previousToken); err == nil && prev.Stage == model.StageLocked {
			// A live lockout holds until its TTL runs out; fresh credentials
			// do not lift it.
			return Status{}, ErrLocked
		}
		_ = m.sessions.Invalidate(ctx, previousToken)
	}

	result, err := m.gateway.Login(ctx, creds)
	if err != nil {
		return Status{}, err
	}
	if m.minTrustScore > 0 && result.TrustScore < m.minTrustScore {
		// Below the operator's floor. Externally a generic failure so the
		// threshold cannot be probed.
		m.logger.Warn("login for %s refused: trust score %.3f below floor", result.UserID, result.TrustScore)
		return Status{}, iam.ErrInvalidCredentials
	}

	action := Decide(result.Flags)

	// Issue any sub-flow challenge before creating local state, so a gateway
	// outage here leaves the caller fully unauthenticated.
	var enrollment *iam.EnrollmentChallenge
	var challenge *iam.Challenge
	switch action {
	case ActionEnrollTOTP:
		ch, err := m.gateway.EnrollTOTP(ctx, result.SessionRef)
		if err != nil {
			return Status{}, err
		}
		enrollment = &ch
	case ActionVerifyWebauthn:
		ch, err := m.gateway.WebauthnChallenge(ctx, result.SessionRef)
		if err != nil {
			return Status{}, err
		}
		challenge = &ch
	}

	sess := model.Session{
		UserID:      result.UserID,
		Role:        result.Role,
		Stage:       model.StageCredentialsSubmitted,
		Flags:       result.Flags,
		AccessToken: result.AccessToken,
		IAMRef:      result.SessionRef,
		TrustScore:  result.TrustScore,
	}
	if action == ActionFinalize {
		finalized, err := finalize(sess)
		if err != nil {
			m.logger.Error("finalize at login refused: %v", err)
			return Status{}, iam.ErrGatewayUnavailable
		}
		sess = finalized
	} else {
		sess.Stage = stageFor(action)
	}

	sess, token, err := m.sessions.Create(ctx, sess)
	if err != nil {
		return Status{}, err
	}

	m.publish(eventbus.EventAuthLogin, eventbus.AuthEventData{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Stage:     string(sess.Stage),
		At:        time.Now(),
	})

	return Status{
		Token:      token,
		Stage:      sess.Stage,
		NextAction: action,
		Enrollment: enrollment,
		Challenge:  challenge,
	}, nil
}

// SubmitMFA advances a pending session with a user-supplied proof. The proof
// is an opaque blob for the gateway; the machine only decides which
// verification call the current stage maps to.
func (m *Machine) SubmitMFA(ctx context.Context, token, payload string) (Status, error) {
	sess, err := m.sessions.Load(ctx, token)
	if err != nil {
		return Status{}, err
	}

	switch {
	case sess.Stage == model.StageLocked:
		return Status{}, ErrLocked
	case sess.Stage == model.StageAuthenticated:
		// Nothing outstanding; idempotent no-op.
		return Status{Token: token, Stage: sess.Stage, NextAction: ActionFinalize}, nil
	case !sess.Stage.Pending():
		return Status{}, session.ErrSessionInvalid
	}

	// Claim the single in-flight verification slot. A concurrent submit
	// either sees the flag or loses this CAS; both observe the advanced
	// state and stop, never regress it. A claim older than the grace window
	// belongs to a settle that never ran (process crash mid-verification)
	// and may be taken over; the CAS keeps the takeover single-winner.
	if sess.InFlight && time.Since(sess.InFlightAt) < inFlightGrace {
		return Status{}, ErrVerificationInFlight
	}
	sess.InFlight = true
	sess.InFlightAt = time.Now()
	sess, err = m.sessions.Update(ctx, sess)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return Status{}, ErrVerificationInFlight
		}
		if errors.Is(err, store.ErrNotFound) {
			return Status{}, session.ErrSessionExpired
		}
		return Status{}, err
	}

	result, verr := m.verify(ctx, sess, payload)
	if verr == nil && !result.Verified {
		// No gateway implementation may advance the flow without an
		// explicit positive verdict.
		verr = iam.ErrGatewayUnavailable
	}
	if verr != nil {
		return m.settleFailure(ctx, token, sess, verr)
	}
	return m.settleSuccess(ctx, token, sess, result)
}

// Resume reports the flow position for an existing token, re-issuing the
// sub-flow challenge where the step needs one.
func (m *Machine) Resume(ctx context.Context, token string) (Status, error) {
	sess, err := m.sessions.Load(ctx, token)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Token:      token,
		Stage:      sess.Stage,
		NextAction: actionFor(sess.Stage),
	}
	switch sess.Stage {
	case model.StageTotpSetupPending:
		ch, err := m.gateway.EnrollTOTP(ctx, sess.IAMRef)
		if err != nil {
			return Status{}, err
		}
		status.Enrollment = &ch
	case model.StageWebauthnPending:
		ch, err := m.gateway.WebauthnChallenge(ctx, sess.IAMRef)
		if err != nil {
			return Status{}, err
		}
		status.Challenge = &ch
	}
	return status, nil
}

// Logout destroys the session behind the token.
func (m *Machine) Logout(ctx context.Context, token string) error {
	if err := m.sessions.Invalidate(ctx, token); err != nil {
		return err
	}
	m.publish(eventbus.EventAuthLogout, eventbus.AuthEventData{At: time.Now()})
	return nil
}

func (m *Machine) verify(ctx context.Context, sess model.Session, payload string) (iam.MFAResult, error) {
	switch sess.Stage {
	case model.StageTotpSetupPending:
		return m.gateway.ConfirmTOTPSetup(ctx, sess.IAMRef, payload)
	case model.StageTotpVerifyPending:
		return m.gateway.VerifyTOTP(ctx, sess.IAMRef, payload)
	case model.StageWebauthnPending:
		return m.gateway.WebauthnVerify(ctx, sess.IAMRef, payload)
	default:
		return iam.MFAResult{}, session.ErrSessionInvalid
	}
}

// settleFailure releases the in-flight slot and, for confirmed rejections,
// spends one attempt. Transport failures cost nothing: the user is not
// penalized for a timeout that may not have consumed a code.
func (m *Machine) settleFailure(ctx context.Context, token string, sess model.Session, verr error) (Status, error) {
	sess.InFlight = false
	sess.InFlightAt = time.Time{}

	if errors.Is(verr, iam.ErrMFARejected) {
		sess.AttemptCount++
		if sess.AttemptCount >= m.maxAttempts {
			sess.Stage = model.StageLocked
			if lockedUntil := time.Now().Add(m.lockTTL); m.lockTTL > 0 && lockedUntil.Before(sess.ExpiresAt) {
				// The lock may lift before the session would have expired.
				sess.ExpiresAt = lockedUntil
			}
			if _, err := m.sessions.Update(ctx, sess); err != nil {
				m.logger.Error("failed to persist lockout for session %s: %v", sess.ID, err)
			}
			m.publish(eventbus.EventAuthLocked, eventbus.AuthEventData{
				SessionID: sess.ID,
				UserID:    sess.UserID,
				Stage:     string(model.StageLocked),
				At:        time.Now(),
			})
			m.logger.Warn("session %s locked after %d failed attempts", sess.ID, sess.AttemptCount)
			return Status{}, ErrLocked
		}

		if _, err := m.sessions.Update(ctx, sess); err != nil {
			m.logger.Error("failed to persist attempt count for session %s: %v", sess.ID, err)
		}
		m.publish(eventbus.EventAuthMFAFailed, eventbus.AuthEventData{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Stage:     string(sess.Stage),
			At:        time.Now(),
		})
		return Status{Token: token, Stage: sess.Stage, NextAction: actionFor(sess.Stage)}, iam.ErrMFARejected
	}

	if _, err := m.sessions.Update(ctx, sess); err != nil {
		m.logger.Error("failed to release in-flight slot for session %s: %v", sess.ID, err)
	}
	return Status{}, verr
}

// settleSuccess applies the verified step. Flags come back freshly evaluated
// from the round trip, so an enrollment that changed requirements simply
// parks the session in the next pending stage.
func (m *Machine) settleSuccess(ctx context.Context, token string, sess model.Session, result iam.MFAResult) (Status, error) {
	sess.InFlight = false
	sess.InFlightAt = time.Time{}
	sess.AttemptCount = 0
	if result.TrustScore > 0 {
		sess.TrustScore = result.TrustScore
	}
	sess.Flags = result.Flags

	action := Decide(result.Flags)

	var enrollment *iam.EnrollmentChallenge
	var challenge *iam.Challenge
	if action == ActionFinalize {
		finalized, err := finalize(sess)
		if err != nil {
			m.logger.Error("finalize refused for session %s: %v", sess.ID, err)
			return Status{}, iam.ErrGatewayUnavailable
		}
		sess = finalized
	} else {
		sess.Stage = stageFor(action)
		switch action {
		case ActionEnrollTOTP:
			ch, err := m.gateway.EnrollTOTP(ctx, sess.IAMRef)
			if err != nil {
				return m.settleFailure(ctx, token, sess, err)
			}
			enrollment = &ch
		case ActionVerifyWebauthn:
			ch, err := m.gateway.WebauthnChallenge(ctx, sess.IAMRef)
			if err != nil {
				return m.settleFailure(ctx, token, sess, err)
			}
			challenge = &ch
		}
	}

	sess, err := m.sessions.Update(ctx, sess)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return Status{}, ErrVerificationInFlight
		}
		if errors.Is(err, store.ErrNotFound) {
			return Status{}, session.ErrSessionExpired
		}
		return Status{}, err
	}

	m.logger.Debug("session %s advanced to %s", sess.ID, sess.Stage)
	return Status{
		Token:      token,
		Stage:      sess.Stage,
		NextAction: action,
		Enrollment: enrollment,
		Challenge:  challenge,
	}, nil
}

// finalize is the single gate to StageAuthenticated. The invariant it
// enforces: an IAM access token is present and the role is a known one.
func finalize(sess model.Session) (model.Session, error) {
	if sess.AccessToken == "" {
		return model.Session{}, errors.New("finalize without access token")
	}
	if !sess.Role.Valid() {
		return model.Session{}, errors.New("finalize with unknown role")
	}
	sess.Stage = model.StageAuthenticated
	return sess, nil
}

func (m *Machine) publish(topic string, data any) {
	if m.bus != nil {
		m.bus.PublishAsync(topic, data)
	}
}
