// Package iamtest provides an in-process fake of the external IAM service
// for gateway and flow tests. TOTP verification is real (pquerna/otp), so
// tests exercise actual one-time codes instead of canned strings.
package iamtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"medgate/internal/domain/session/model"
)

// Account describes a provisioned IAM user.
type Account struct {
	UserID     string
	Password   string
	Role       model.Role
	Flags      model.MFAFlags
	TOTPSecret string
}

type flowState struct {
	username      string
	pendingSecret string
	challenge     string
}

// Server is the fake IAM, exposed over httptest.
type Server struct {
	apiKey string

	mu       sync.Mutex
	accounts map[string]Account
	flows    map[string]*flowState
	failures map[string]int
	calls    map[string]int

	httpSrv *httptest.Server
}

// New starts the fake IAM expecting the given API key on every call.
func New(apiKey string) *Server {
	s := &Server{
		apiKey:   apiKey,
		accounts: make(map[string]Account),
		flows:    make(map[string]*flowState),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/login", s.handleLogin)
	mux.HandleFunc("/v1/totp/verify", s.handleTOTPVerify)
	mux.HandleFunc("/v1/totp/enroll", s.handleTOTPEnroll)
	mux.HandleFunc("/v1/totp/confirm", s.handleTOTPConfirm)
	mux.HandleFunc("/v1/webauthn/challenge", s.handleWebauthnChallenge)
	mux.HandleFunc("/v1/webauthn/verify", s.handleWebauthnVerify)
	s.httpSrv = httptest.NewServer(mux)
	return s
}

// URL returns the fake IAM base URL.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close shuts the fake down.
func (s *Server) Close() {
	s.httpSrv.Close()
}

// AddAccount provisions a user.
func (s *Server) AddAccount(username string, acct Account) {
	s.mu.Lock()
	s.accounts[username] = acct
	s.mu.Unlock()
}

// FailNext makes the next n calls to path answer 503.
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	s.failures[path] = n
	s.mu.Unlock()
}

// Calls reports how many requests reached the path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TOTPCode computes the currently valid code for the user's enrolled secret.
func (s *Server) TOTPCode(username string) (string, error) {
	s.mu.Lock()
	secret := s.accounts[username].TOTPSecret
	s.mu.Unlock()
	return totp.GenerateCode(secret, time.Now())
}

// SignAssertion produces the assertion the fake accepts for a challenge.
func SignAssertion(challenge string) string {
	return "signed:" + challenge
}

func (s *Server) gate(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	if n := s.failures[r.URL.Path]; n > 0 {
		s.failures[r.URL.Path] = n - 1
		s.mu.Unlock()
		http.Error(w, "injected outage", http.StatusServiceUnavailable)
		return false
	}
	s.mu.Unlock()

	if r.Header.Get("X-Api-Key") != s.apiKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_api_key"})
		return false
	}
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[creds.Username]
	s.mu.Unlock()
	if !ok || acct.Password != creds.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}

	ref := randomHex(16)
	s.mu.Lock()
	s.flows[ref] = &flowState{username: creds.Username}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"session_ref":  ref,
		"user_id":      acct.UserID,
		"role":         string(acct.Role),
		"access_token": "iam-token-" + randomHex(8),
		"trust_score":  0.87,
		"mfa":          acct.Flags,
	})
}

func (s *Server) flowAccount(ref string) (Account, *flowState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[ref]
	if !ok {
		return Account{}, nil, false
	}
	return s.accounts[flow.username], flow, true
}

func (s *Server) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	req := decodeRef(w, r)
	if req == nil {
		return
	}
	acct, _, ok := s.flowAccount(req["session_ref"])
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}
	if acct.TOTPSecret == "" || !totp.Validate(req["code"], acct.TOTPSecret) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "mfa_rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":    true,
		"trust_score": 0.93,
		"mfa":         model.MFAFlags{},
	})
}

func (s *Server) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	req := decodeRef(w, r)
	if req == nil {
		return
	}
	_, flow, ok := s.flowAccount(req["session_ref"])
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "iamtest",
		AccountName: flow.username,
	})
	if err != nil {
		http.Error(w, "keygen failed", http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	flow.pendingSecret = key.Secret()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":           key.Secret(),
		"provisioning_url": key.URL(),
	})
}

func (s *Server) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	req := decodeRef(w, r)
	if req == nil {
		return
	}
	acct, flow, ok := s.flowAccount(req["session_ref"])
	if !ok || flow.pendingSecret == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}
	if !totp.Validate(req["code"], flow.pendingSecret) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "mfa_rejected"})
		return
	}

	// Enrollment complete: persist the secret and re-evaluate requirements
	// with the setup flag cleared.
	s.mu.Lock()
	acct.TOTPSecret = flow.pendingSecret
	acct.Flags.RequireTOTPSetup = false
	s.accounts[flow.username] = acct
	flow.pendingSecret = ""
	flags := acct.Flags
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"verified":    true,
		"trust_score": 0.9,
		"mfa":         flags,
	})
}

func (s *Server) handleWebauthnChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	req := decodeRef(w, r)
	if req == nil {
		return
	}
	_, flow, ok := s.flowAccount(req["session_ref"])
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}

	challenge := randomHex(24)
	s.mu.Lock()
	flow.challenge = challenge
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"challenge":     challenge,
		"relying_party": "iamtest",
	})
}

func (s *Server) handleWebauthnVerify(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	req := decodeRef(w, r)
	if req == nil {
		return
	}
	_, flow, ok := s.flowAccount(req["session_ref"])
	if !ok || flow.challenge == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}
	if req["assertion"] != SignAssertion(flow.challenge) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "mfa_rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":    true,
		"trust_score": 0.95,
		"mfa":         model.MFAFlags{},
	})
}

func decodeRef(w http.ResponseWriter, r *http.Request) map[string]string {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil
	}
	return req
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
