package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "medgate/internal/platform/errors"
)

// Loader reads configuration from an optional YAML file, then applies
// .env and MEDGATE_* environment overrides.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader for the given config path. An empty path means
// defaults plus environment only.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration and validates it fail-closed.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// No .env file is fine; the process environment still applies.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := ""
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, platformerrors.Wrap(
					platformerrors.KindConfig, "config.load", "read config file", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, platformerrors.Wrap(
					platformerrors.KindConfig, "config.load", "parse config file", err)
			}
			path = l.path
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: path}, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEDGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MEDGATE_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("MEDGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEDGATE_IAM_URL"); v != "" {
		cfg.IAM.BaseURL = v
	}
	if v := os.Getenv("MEDGATE_IAM_API_KEY"); v != "" {
		cfg.IAM.APIKey = v
	}
	if v := os.Getenv("MEDGATE_SESSION_SECRET"); v != "" {
		cfg.Session.SigningSecret = v
	}
	if v := os.Getenv("MEDGATE_SESSION_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = ttl
		}
	}
	if v := os.Getenv("MEDGATE_STORE_TYPE"); v != "" {
		cfg.Session.Store.Type = v
	}
	if v := os.Getenv("MEDGATE_REDIS_ADDR"); v != "" {
		cfg.Session.Store.Redis.Addr = v
	}
}

// Validate enforces the fail-closed startup invariants: admission must never
// start without the IAM key and a session signing secret.
func Validate(cfg *Config) error {
	if cfg.IAM.BaseURL == "" {
		return platformerrors.New(
			platformerrors.KindConfig, "config.validate", "iam base_url is required")
	}
	if cfg.IAM.APIKey == "" {
		return platformerrors.New(
			platformerrors.KindConfig, "config.validate", "iam api_key is required")
	}
	if cfg.Session.SigningSecret == "" {
		return platformerrors.New(
			platformerrors.KindConfig, "config.validate", "session signing_secret is required")
	}
	if cfg.Session.TTL <= 0 {
		return platformerrors.New(
			platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("session ttl must be positive, got %s", cfg.Session.TTL))
	}
	if cfg.MFA.MaxAttempts <= 0 {
		return platformerrors.New(
			platformerrors.KindConfig, "config.validate", "mfa max_attempts must be positive")
	}
	switch cfg.Session.Cookie.SameSite {
	case "", "strict", "lax", "none":
	default:
		return platformerrors.New(
			platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("unknown cookie same_site: %s", cfg.Session.Cookie.SameSite))
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		// The session cookie is credentialed, so origins must be explicit.
		if origin == "" || origin == "*" || strings.Contains(origin, "*") {
			return platformerrors.New(
				platformerrors.KindConfig, "config.validate",
				fmt.Sprintf("server allowed_origins must list explicit origins, got %q", origin))
		}
	}
	return nil
}
