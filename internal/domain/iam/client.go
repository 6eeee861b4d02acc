package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medgate/internal/domain/session/model"
)

const (
	apiKeyHeader = "X-Api-Key"

	// maxBlobSize bounds every opaque credential/assertion blob before it
	// leaves this process. Semantic validation stays with IAM.
	maxBlobSize = 4096
)

// Client is the typed surface of the external IAM service.
type Client interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
	VerifyTOTP(ctx context.Context, sessionRef, code string) (MFAResult, error)
	EnrollTOTP(ctx context.Context, sessionRef string) (EnrollmentChallenge, error)
	ConfirmTOTPSetup(ctx context.Context, sessionRef, code string) (MFAResult, error)
	WebauthnChallenge(ctx context.Context, sessionRef string) (Challenge, error)
	WebauthnVerify(ctx context.Context, sessionRef, assertion string) (MFAResult, error)
}

// Options configures the HTTP gateway client.
type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       model.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  model.Logger
}

// NewClient builds the HTTP gateway client. An empty API key is refused here
// so a misconfigured deployment fails closed before serving a single login.
func NewClient(opts Options) (Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("iam client requires a base url")
	}
	if opts.APIKey == "" {
		return nil, errors.New("iam client requires an api key")
	}
	if opts.Logger == nil {
		return nil, errors.New("iam client requires a logger")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &httpClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  client,
		retries: retries,
		backoff: backoff,
		logger:  opts.Logger,
	}, nil
}

func (c *httpClient) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	if err := checkBlob("username", creds.Username); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := checkBlob("password", creds.Password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	var result LoginResult
	// A login has no confirmed session side effect until a 2xx lands, so
	// retrying on transport failure cannot double-create anything.
	if err := c.call(ctx, "/v1/login", creds, &result, true); err != nil {
		return LoginResult{}, err
	}
	if result.UserID == "" || !result.Role.Valid() || result.SessionRef == "" {
		c.logger.Warn("iam login response missing required fields")
		return LoginResult{}, ErrGatewayUnavailable
	}
	return result, nil
}

func (c *httpClient) VerifyTOTP(ctx context.Context, sessionRef, code string) (MFAResult, error) {
	if err := checkBlob("code", code); err != nil {
		return MFAResult{}, ErrMFARejected
	}
	return c.verifyCall(ctx, "/v1/totp/verify", sessionRef, map[string]string{"code": code})
}

func (c *httpClient) EnrollTOTP(ctx context.Context, sessionRef string) (EnrollmentChallenge, error) {
	if sessionRef == "" {
		return EnrollmentChallenge{}, ErrGatewayUnavailable
	}
	var challenge EnrollmentChallenge
	// Challenge issuance is idempotent on the IAM side; safe to retry.
	err := c.call(ctx, "/v1/totp/enroll", map[string]string{"session_ref": sessionRef}, &challenge, true)
	if err != nil {
		return EnrollmentChallenge{}, err
	}
	if challenge.Secret == "" {
		return EnrollmentChallenge{}, ErrGatewayUnavailable
	}
	return challenge, nil
}

func (c *httpClient) ConfirmTOTPSetup(ctx context.Context, sessionRef, code string) (MFAResult, error) {
	if err := checkBlob("code", code); err != nil {
		return MFAResult{}, ErrMFARejected
	}
	return c.verifyCall(ctx, "/v1/totp/confirm", sessionRef, map[string]string{"code": code})
}

func (c *httpClient) WebauthnChallenge(ctx context.Context, sessionRef string) (Challenge, error) {
	if sessionRef == "" {
		return Challenge{}, ErrGatewayUnavailable
	}
	var challenge Challenge
	err := c.call(ctx, "/v1/webauthn/challenge", map[string]string{"session_ref": sessionRef}, &challenge, true)
	if err != nil {
		return Challenge{}, err
	}
	if challenge.Challenge == "" {
		return Challenge{}, ErrGatewayUnavailable
	}
	return challenge, nil
}

func (c *httpClient) WebauthnVerify(ctx context.Context, sessionRef, assertion string) (MFAResult, error) {
	if err := checkBlob("assertion", assertion); err != nil {
		return MFAResult{}, ErrMFARejected
	}
	return c.verifyCall(ctx, "/v1/webauthn/verify", sessionRef, map[string]string{"assertion": assertion})
}

// verifyCall submits a one-time proof. These calls are never retried: a
// replayed request could consume a second code server-side.
func (c *httpClient) verifyCall(
	ctx context.Context,
	path string,
	sessionRef string,
	payload map[string]string,
) (MFAResult, error) {
	if sessionRef == "" {
		return MFAResult{}, ErrGatewayUnavailable
	}
	payload["session_ref"] = sessionRef

	// The verdict must be explicit. A 2xx body without a "verified" field is
	// ambiguous and is treated as an outage, never as an allow.
	var wire struct {
		Verified   *bool          `json:"verified"`
		TrustScore float64        `json:"trust_score"`
		Flags      model.MFAFlags `json:"mfa"`
	}
	if err := c.call(ctx, path, payload, &wire, false); err != nil {
		return MFAResult{}, err
	}
	if wire.Verified == nil {
		return MFAResult{}, ErrGatewayUnavailable
	}
	if !*wire.Verified {
		return MFAResult{}, ErrMFARejected
	}
	return MFAResult{Verified: true, TrustScore: wire.TrustScore, Flags: wire.Flags}, nil
}

func (c *httpClient) call(
	ctx context.Context,
	path string,
	body any,
	out any,
	retryable bool,
) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode iam request: %w", err)
	}

	attempts := 1
	if retryable {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ErrGatewayUnavailable
			}
		}

		done, err := c.doOnce(ctx, path, payload, out)
		if done {
			return err
		}
		lastErr = err
		c.logger.Warn("iam call %s attempt %d/%d failed: %v", path, attempt+1, attempts, err)
	}
	if lastErr == nil {
		lastErr = ErrGatewayUnavailable
	}
	return lastErr
}

// doOnce performs a single round trip. done=false means the failure is
// transient and the caller may retry; done=true ends the attempt loop.
func (c *httpClient) doOnce(ctx context.Context, path string, payload []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return true, ErrGatewayUnavailable
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, ErrGatewayUnavailable
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(raw, out); err != nil {
			// Unparseable success is never interpreted as an allow.
			return true, ErrGatewayUnavailable
		}
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized:
		if apiErrorCode(raw) == "invalid_api_key" {
			return true, ErrInvalidAPIKey
		}
		return true, ErrInvalidCredentials
	case resp.StatusCode == http.StatusForbidden:
		return true, ErrMFARejected
	case resp.StatusCode >= 500:
		return false, ErrGatewayUnavailable
	default:
		return true, ErrGatewayUnavailable
	}
}

func apiErrorCode(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Error
}

func checkBlob(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if len(value) > maxBlobSize {
		return fmt.Errorf("%s exceeds %d bytes", name, maxBlobSize)
	}
	return nil
}
