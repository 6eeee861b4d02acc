// Package authapi exposes the authentication flow and the sample protected
// resources over HTTP. It owns the cookie transport for the session token;
// everything behind it works on tokens only.
package authapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medgate/internal/domain/access"
	"medgate/internal/domain/authflow"
	"medgate/internal/domain/iam"
	"medgate/internal/domain/session"
	"medgate/internal/domain/session/model"
	"medgate/internal/platform/config"
	platformerrors "medgate/internal/platform/errors"
	httptransport "medgate/internal/transport/http"
)

// Service is the HTTP transport for the authentication flow.
type Service struct {
	machine *authflow.Machine
	gate    *access.Gate
	logger  model.Logger
	cookie  config.CookieConfig
	started time.Time
}

// Options encapsulates the dependencies required to construct a Service.
type Options struct {
	Machine *authflow.Machine
	Gate    *access.Gate
	Logger  model.Logger
	Cookie  config.CookieConfig
}

// NewService builds the auth API transport.
func NewService(opts Options) (*Service, error) {
	if opts.Machine == nil {
		return nil, platformerrors.New(platformerrors.KindTransport, "authapi.new", "auth machine is required")
	}
	if opts.Gate == nil {
		return nil, platformerrors.New(platformerrors.KindTransport, "authapi.new", "access gate is required")
	}
	if opts.Logger == nil {
		return nil, platformerrors.New(platformerrors.KindTransport, "authapi.new", "logger is required")
	}
	cookie := opts.Cookie
	if cookie.Name == "" {
		cookie.Name = "medgate_session"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &Service{
		machine: opts.Machine,
		gate:    opts.Gate,
		logger:  opts.Logger,
		cookie:  cookie,
		started: time.Now(),
	}, nil
}

// Register mounts the auth endpoints, the sample protected resource group and
// the admin status endpoint on the router group.
func (s *Service) Register(router *gin.RouterGroup) {
	auth := router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin)
		auth.POST("/mfa", s.handleSubmitMFA)
		auth.POST("/logout", s.handleLogout)
		auth.GET("/session", s.handleSession)
	}

	// Sample protected resources. Handlers receive nothing beyond the
	// identity the gate stored; per-route allow-lists are explicit.
	records := router.Group("/records")
	{
		records.GET("",
			s.gate.RequireRole(s.cookie.Name, model.RoleAdmin, model.RoleDoctor, model.RoleNurse),
			s.handleRecordsList)
		records.GET("/:id",
			s.gate.RequireRole(s.cookie.Name, model.RoleAdmin, model.RoleDoctor),
			s.handleRecordsGet)
	}

	admin := router.Group("/admin")
	{
		admin.GET("/status",
			s.gate.RequireRole(s.cookie.Name, model.RoleAdmin),
			s.handleAdminStatus)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type mfaRequest struct {
	Payload string `json:"payload"`
}

type flowResponse struct {
	Stage      model.Stage              `json:"stage"`
	NextAction authflow.NextAction      `json:"next_action"`
	Enrollment *iam.EnrollmentChallenge `json:"enrollment,omitempty"`
	Challenge  *iam.Challenge           `json:"challenge,omitempty"`
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		httptransport.RespondError(c, http.StatusBadRequest, "username and password are required")
		return
	}

	previous := access.TokenFromRequest(c, s.cookie.Name)
	status, err := s.machine.Login(c.Request.Context(), previous, iam.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.clearCookie(c)
		s.respondFlowError(c, err)
		return
	}

	s.setCookie(c, status.Token)
	httptransport.RespondSuccess(c, http.StatusOK, flowResponse{
		Stage:      status.Stage,
		NextAction: status.NextAction,
		Enrollment: status.Enrollment,
		Challenge:  status.Challenge,
	}, "")
}

func (s *Service) handleSubmitMFA(c *gin.Context) {
	var req mfaRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Payload == "" {
		httptransport.RespondError(c, http.StatusBadRequest, "payload is required")
		return
	}

	token := access.TokenFromRequest(c, s.cookie.Name)
	if token == "" {
		httptransport.RespondError(c, http.StatusUnauthorized, "no active session")
		return
	}

	status, err := s.machine.SubmitMFA(c.Request.Context(), token, req.Payload)
	if err != nil {
		s.respondFlowError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, flowResponse{
		Stage:      status.Stage,
		NextAction: status.NextAction,
		Enrollment: status.Enrollment,
		Challenge:  status.Challenge,
	}, "")
}

func (s *Service) handleLogout(c *gin.Context) {
	token := access.TokenFromRequest(c, s.cookie.Name)
	if token != "" {
		if err := s.machine.Logout(c.Request.Context(), token); err != nil {
			s.logger.Warn("logout failed: %v", err)
		}
	}
	s.clearCookie(c)
	httptransport.RespondSuccess(c, http.StatusOK, nil, "logged out")
}

func (s *Service) handleSession(c *gin.Context) {
	token := access.TokenFromRequest(c, s.cookie.Name)
	if token == "" {
		httptransport.RespondError(c, http.StatusUnauthorized, "no active session")
		return
	}
	status, err := s.machine.Resume(c.Request.Context(), token)
	if err != nil {
		s.respondFlowError(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, flowResponse{
		Stage:      status.Stage,
		NextAction: status.NextAction,
		Enrollment: status.Enrollment,
		Challenge:  status.Challenge,
	}, "")
}

func (s *Service) handleRecordsList(c *gin.Context) {
	identity, ok := access.IdentityFrom(c)
	if !ok {
		httptransport.RespondError(c, http.StatusUnauthorized, "access denied")
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"records":   []string{},
		"viewed_by": identity,
	}, "")
}

func (s *Service) handleRecordsGet(c *gin.Context) {
	identity, ok := access.IdentityFrom(c)
	if !ok {
		httptransport.RespondError(c, http.StatusUnauthorized, "access denied")
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"record_id": c.Param("id"),
		"viewed_by": identity,
	}, "")
}

// respondFlowError maps the flow taxonomy to HTTP statuses. Credential and
// MFA failures share a generic message; the distinction lives in logs and
// audit events only.
func (s *Service) respondFlowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, iam.ErrInvalidCredentials), errors.Is(err, iam.ErrMFARejected):
		httptransport.RespondError(c, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionInvalid):
		s.clearCookie(c)
		httptransport.RespondError(c, http.StatusUnauthorized, "session expired")
	case errors.Is(err, authflow.ErrLocked):
		httptransport.RespondError(c, http.StatusLocked, "session locked")
	case errors.Is(err, authflow.ErrVerificationInFlight):
		httptransport.RespondError(c, http.StatusConflict, "verification already in progress")
	case errors.Is(err, iam.ErrGatewayUnavailable):
		httptransport.RespondError(c, http.StatusServiceUnavailable, "authentication service unavailable")
	case errors.Is(err, iam.ErrInvalidAPIKey):
		// Operator problem, not a user problem. Do not hint at the cause.
		s.logger.Error("IAM rejected our API key")
		httptransport.RespondError(c, http.StatusServiceUnavailable, "authentication service unavailable")
	default:
		s.logger.Error("unhandled flow error: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "internal error")
	}
}

func (s *Service) setCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    token,
		Path:     s.cookie.Path,
		Domain:   s.cookie.Domain,
		Secure:   s.cookie.Secure,
		HttpOnly: true,
		SameSite: sameSite(s.cookie.SameSite),
	})
}

func (s *Service) clearCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     s.cookie.Path,
		Domain:   s.cookie.Domain,
		MaxAge:   -1,
		Secure:   s.cookie.Secure,
		HttpOnly: true,
		SameSite: sameSite(s.cookie.SameSite),
	})
}

func sameSite(mode string) http.SameSite {
	switch mode {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
