package access_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"medgate/internal/domain/access"
	"medgate/internal/domain/session"
	"medgate/internal/domain/session/model"
	"medgate/internal/domain/session/store"
	platformtesting "medgate/internal/platform/testing"
)

type fixture struct {
	gate     *access.Gate
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := platformtesting.SetupTestLogger(t)
	codec, err := session.NewTokenCodec("gate-test-secret")
	if err != nil {
		t.Fatalf("NewTokenCodec error: %v", err)
	}
	sessions, err := session.NewManager(session.Options{
		Store:      store.NewMemory(store.Config{TTL: time.Hour}),
		Logger:     logger,
		Codec:      codec,
		SessionTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	gate, err := access.NewGate(access.Options{
		Sessions: sessions,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewGate error: %v", err)
	}
	return &fixture{gate: gate, sessions: sessions}
}

// mint persists a session at the given stage and role and returns its token.
func (f *fixture) mint(t *testing.T, stage model.Stage, role model.Role) string {
	t.Helper()
	_, token, err := f.sessions.Create(context.Background(), model.Session{
		UserID:      "uid-1",
		Role:        role,
		Stage:       stage,
		AccessToken: "iam-token",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return token
}

func TestCheckAdmitsOnlyAuthenticatedAllowedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stages := []model.Stage{
		model.StageUnauthenticated,
		model.StageCredentialsSubmitted,
		model.StageTotpSetupPending,
		model.StageTotpVerifyPending,
		model.StageWebauthnPending,
		model.StageAuthenticated,
		model.StageLocked,
		model.StageExpired,
	}
	roles := []model.Role{model.RoleAdmin, model.RoleDoctor, model.RoleNurse}

	for _, stage := range stages {
		for _, role := range roles {
			token := f.mint(t, stage, role)
			decision := f.gate.Check(ctx, token, "/records", model.RoleDoctor)

			want := stage == model.StageAuthenticated && role == model.RoleDoctor
			if decision.Allowed != want {
				t.Fatalf("stage=%s role=%s: allowed=%v, want %v (reason %q)",
					stage, role, decision.Allowed, want, decision.Reason())
			}
			if want && decision.Identity != (model.Identity{UserID: "uid-1", Role: role}) {
				t.Fatalf("admitted decision carries wrong identity: %+v", decision.Identity)
			}
			if !want && decision.Identity != (model.Identity{}) {
				t.Fatalf("denied decision must not carry an identity: %+v", decision.Identity)
			}
		}
	}
}

func TestCheckMultiRoleAllowList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token := f.mint(t, model.StageAuthenticated, model.RoleNurse)
	if d := f.gate.Check(ctx, token, "/records", model.RoleDoctor, model.RoleNurse); !d.Allowed {
		t.Fatalf("nurse should pass a doctor|nurse allow-list: %q", d.Reason())
	}
	// An empty allow-list admits nobody.
	if d := f.gate.Check(ctx, token, "/records"); d.Allowed {
		t.Fatalf("empty allow-list must deny")
	}
}

func TestCheckDeniesDeadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if d := f.gate.Check(ctx, "", "/records", model.RoleAdmin); d.Allowed {
		t.Fatalf("missing token must deny")
	}
	if d := f.gate.Check(ctx, "not-a-token", "/records", model.RoleAdmin); d.Allowed {
		t.Fatalf("garbage token must deny")
	}

	token := f.mint(t, model.StageAuthenticated, model.RoleAdmin)
	if err := f.sessions.Invalidate(ctx, token); err != nil {
		t.Fatalf("Invalidate error: %v", err)
	}
	if d := f.gate.Check(ctx, token, "/records", model.RoleAdmin); d.Allowed {
		t.Fatalf("token of a destroyed session must deny")
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token := f.mint(t, model.StageAuthenticated, model.RoleAdmin)
	first := f.gate.Check(ctx, token, "/admin/status", model.RoleAdmin)
	second := f.gate.Check(ctx, token, "/admin/status", model.RoleAdmin)
	if first != second {
		t.Fatalf("repeated checks must agree: %+v vs %+v", first, second)
	}

	// The check reads but never mutates session state.
	sess, err := f.sessions.Load(ctx, token)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.Version != 1 {
		t.Fatalf("check must not advance the session version, got %d", sess.Version)
	}
}

func TestIdentityRequiresAuthenticatedStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.mint(t, model.StageTotpVerifyPending, model.RoleDoctor)
	if _, ok := f.gate.Identity(ctx, pending); ok {
		t.Fatalf("pending session must not yield an identity")
	}

	token := f.mint(t, model.StageAuthenticated, model.RoleDoctor)
	identity, ok := f.gate.Identity(ctx, token)
	if !ok {
		t.Fatalf("authenticated session must yield an identity")
	}
	if identity.UserID != "uid-1" || identity.Role != model.RoleDoctor {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	f := newFixture(t)
	gin.SetMode(gin.TestMode)

	const cookieName = "medgate_session"
	router := gin.New()
	router.GET("/records", f.gate.RequireRole(cookieName, model.RoleDoctor), func(c *gin.Context) {
		identity, ok := access.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "user_id": identity.UserID})
	})

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/records", nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: expected 401, got %d", rec.Code)
	}

	nurse := f.mint(t, model.StageAuthenticated, model.RoleNurse)
	wrongRole := do(nurse)
	if wrongRole.Code != http.StatusUnauthorized {
		t.Fatalf("wrong role: expected 401, got %d", wrongRole.Code)
	}

	// The wrong-role body is byte-identical to the no-session body; the
	// reason is not observable from outside.
	if noSession := do(""); wrongRole.Body.String() != noSession.Body.String() {
		t.Fatalf("denial bodies differ: %q vs %q", wrongRole.Body.String(), noSession.Body.String())
	}

	doctor := f.mint(t, model.StageAuthenticated, model.RoleDoctor)
	if rec := do(doctor); rec.Code != http.StatusOK {
		t.Fatalf("doctor: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	// Bearer fallback for non-browser clients.
	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Authorization", "Bearer "+doctor)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token: expected 200, got %d", rec.Code)
	}
}
