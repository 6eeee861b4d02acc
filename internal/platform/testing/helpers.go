package testing

import (
	"testing"
	"time"

	"medgate/internal/platform/config"
	"medgate/internal/platform/logging"
)

func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Log = config.LogConfig{Level: "debug"}
	cfg.IAM = config.IAMConfig{
		BaseURL:      "https://iam.example.test",
		APIKey:       "test-api-key",
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 5 * time.Millisecond,
	}
	cfg.Session.SigningSecret = "test-signing-secret"
	cfg.Session.TTL = time.Hour

	return cfg
}

func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	logger, err := logging.New(logging.Config{Level: "debug"})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}
