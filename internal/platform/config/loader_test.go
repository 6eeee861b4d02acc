package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "medgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoaderFileAndEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9100
iam:
  base_url: https://iam.example.test
  api_key: file-key
  timeout: 5s
session:
  signing_secret: file-secret
  ttl: 1h
`)
	t.Setenv("MEDGATE_IAM_API_KEY", "env-key")
	t.Setenv("MEDGATE_SESSION_TTL", "30m")

	res, err := NewLoader(path).WithDotEnv(false).Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if res.Path != path {
		t.Fatalf("expected path %s, got %s", path, res.Path)
	}
	cfg := res.Config
	if cfg.Server.Port != 9100 {
		t.Fatalf("expected port from file, got %d", cfg.Server.Port)
	}
	if cfg.IAM.APIKey != "env-key" {
		t.Fatalf("env override should win, got %q", cfg.IAM.APIKey)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl: %s", cfg.Session.TTL)
	}
	if cfg.IAM.Timeout != 5*time.Second {
		t.Fatalf("unexpected iam timeout: %s", cfg.IAM.Timeout)
	}
	// Defaults survive partial files.
	if cfg.MFA.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts, got %d", cfg.MFA.MaxAttempts)
	}
	if !cfg.Session.Cookie.Secure || cfg.Session.Cookie.SameSite != "strict" {
		t.Fatalf("cookie defaults must stay strict: %+v", cfg.Session.Cookie)
	}
}

func TestLoaderFailsClosedOnMissingSecrets(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing api key",
			yaml: "iam:\n  base_url: https://iam.example.test\nsession:\n  signing_secret: s\n",
		},
		{
			name: "missing base url",
			yaml: "iam:\n  api_key: k\nsession:\n  signing_secret: s\n",
		},
		{
			name: "missing signing secret",
			yaml: "iam:\n  base_url: https://iam.example.test\n  api_key: k\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			if _, err := NewLoader(path).WithDotEnv(false).Load(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestValidateRejectsBadCookiePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IAM.BaseURL = "https://iam.example.test"
	cfg.IAM.APIKey = "k"
	cfg.Session.SigningSecret = "s"
	cfg.Session.Cookie.SameSite = "whatever"

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected same_site validation failure")
	}
}

func TestValidateRejectsWildcardOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IAM.BaseURL = "https://iam.example.test"
	cfg.IAM.APIKey = "k"
	cfg.Session.SigningSecret = "s"

	for _, origin := range []string{"*", "https://*.example.test", ""} {
		cfg.Server.AllowedOrigins = []string{origin}
		if err := Validate(cfg); err == nil {
			t.Fatalf("origin %q must be refused", origin)
		}
	}

	cfg.Server.AllowedOrigins = []string{"https://portal.example.test"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("explicit origin must pass validation: %v", err)
	}
}

func TestLoaderAllowedOriginsFromEnv(t *testing.T) {
	path := writeConfigFile(t, `
iam:
  base_url: https://iam.example.test
  api_key: k
session:
  signing_secret: s
`)
	t.Setenv("MEDGATE_ALLOWED_ORIGINS", "https://a.example.test, https://b.example.test")

	res, err := NewLoader(path).WithDotEnv(false).Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	got := res.Config.Server.AllowedOrigins
	if len(got) != 2 || got[0] != "https://a.example.test" || got[1] != "https://b.example.test" {
		t.Fatalf("unexpected allowed origins: %v", got)
	}
}
