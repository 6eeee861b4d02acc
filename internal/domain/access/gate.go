// Package access implements the role-gated access control boundary. It is the
// only component that answers "may this request touch a protected resource",
// and it hands downstream collaborators nothing beyond user id and role.
package access

import (
	"context"
	"errors"
	"time"

	"medgate/internal/domain/eventbus"
	"medgate/internal/domain/session"
	"medgate/internal/domain/session/model"
)

// Internal denial reasons. These reach logs and the audit bus only; callers
// relay a single opaque denial so the reason cannot be probed from outside.
const (
	reasonNoToken          = "no session token"
	reasonSessionInvalid   = "session token invalid"
	reasonSessionExpired   = "session expired"
	reasonNotAuthenticated = "session not authenticated"
	reasonRoleNotPermitted = "role not permitted"
)

// Decision is the gate's answer. Identity is populated only when Allowed is
// true; the internal reason never leaves the process.
type Decision struct {
	Allowed  bool
	Identity model.Identity
	reason   string
}

// Reason exposes the internal denial reason for logging and tests.
func (d Decision) Reason() string {
	return d.reason
}

// Options encapsulates the dependencies required to construct a Gate.
type Options struct {
	Sessions *session.Manager
	Logger   model.Logger
	Bus      *eventbus.Bus
}

// Gate checks session tokens against per-resource role allow-lists.
type Gate struct {
	sessions *session.Manager
	logger   model.Logger
	bus      *eventbus.Bus
}

// NewGate wires a Gate using the supplied options.
func NewGate(opts Options) (*Gate, error) {
	if opts.Sessions == nil {
		return nil, errors.New("access gate requires a session manager")
	}
	if opts.Logger == nil {
		return nil, errors.New("access gate requires a logger")
	}
	return &Gate{
		sessions: opts.Sessions,
		logger:   opts.Logger,
		bus:      opts.Bus,
	}, nil
}

// Check admits a request iff the token resolves to a live session in the
// authenticated stage whose role appears in the explicit allow-list. An empty
// allow-list admits nobody. The check reads session state and never mutates
// it, so repeating it yields the same decision.
func (g *Gate) Check(ctx context.Context, token, resource string, required ...model.Role) Decision {
	if token == "" {
		return g.deny(resource, "", "", reasonNoToken)
	}

	sess, err := g.sessions.Load(ctx, token)
	if err != nil {
		reason := reasonSessionInvalid
		if errors.Is(err, session.ErrSessionExpired) {
			reason = reasonSessionExpired
		}
		return g.deny(resource, "", "", reason)
	}

	if sess.Stage != model.StageAuthenticated {
		return g.deny(resource, sess.ID, sess.UserID, reasonNotAuthenticated)
	}
	for _, role := range required {
		if sess.Role == role {
			return Decision{
				Allowed:  true,
				Identity: model.Identity{UserID: sess.UserID, Role: sess.Role},
			}
		}
	}
	return g.deny(resource, sess.ID, sess.UserID, reasonRoleNotPermitted)
}

// Identity resolves a token to the minimal collaborator view without any
// role requirement beyond being authenticated.
func (g *Gate) Identity(ctx context.Context, token string) (model.Identity, bool) {
	sess, err := g.sessions.Load(ctx, token)
	if err != nil || sess.Stage != model.StageAuthenticated {
		return model.Identity{}, false
	}
	return model.Identity{UserID: sess.UserID, Role: sess.Role}, true
}

func (g *Gate) deny(resource, sessionID, userID, reason string) Decision {
	g.logger.Info("access denied for %s: %s", resource, reason)
	if g.bus != nil {
		g.bus.PublishAsync(eventbus.EventAuthDenied, eventbus.DenialEventData{
			SessionID: sessionID,
			UserID:    userID,
			Resource:  resource,
			Reason:    reason,
			At:        time.Now(),
		})
	}
	return Decision{reason: reason}
}
