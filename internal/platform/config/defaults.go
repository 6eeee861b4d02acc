package config

import "time"

// DefaultConfig returns the baseline configuration. Production deployments
// override the IAM key and session signing secret via file or environment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "medgate.log",
		},
		IAM: IAMConfig{
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Session: SessionConfig{
			TTL: 8 * time.Hour,
			Store: StoreConfig{
				Type:    "memory",
				Cleanup: 10 * time.Minute,
				Memory: MemoryStoreConfig{
					Cleanup: 5 * time.Minute,
				},
				SQLite: SQLiteStoreConfig{
					DSN: "data/medgate.db",
				},
			},
			Cookie: CookieConfig{
				Name:     "medgate_session",
				Path:     "/",
				Secure:   true,
				SameSite: "strict",
			},
		},
		MFA: MFAConfig{
			MaxAttempts: 5,
			LockTTL:     8 * time.Hour,
		},
		Audit: AuditConfig{
			Workers: 4,
		},
	}
}
