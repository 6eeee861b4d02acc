package config

import (
	"time"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	IAM     IAMConfig     `yaml:"iam"`
	Session SessionConfig `yaml:"session"`
	MFA     MFAConfig     `yaml:"mfa"`
	Audit   AuditConfig   `yaml:"audit"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
	// AllowedOrigins lists the cross-origin callers permitted to reach the
	// API with credentials. Empty keeps the API same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// IAMConfig describes the outbound connection to the IAM service.
type IAMConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type SessionConfig struct {
	SigningSecret string        `yaml:"signing_secret"`
	TTL           time.Duration `yaml:"ttl"`
	Store         StoreConfig   `yaml:"store"`
	Cookie        CookieConfig  `yaml:"cookie"`
}

type StoreConfig struct {
	Type    string             `yaml:"type"`
	Cleanup time.Duration      `yaml:"cleanup"`
	Redis   RedisStoreConfig   `yaml:"redis,omitempty"`
	SQLite  SQLiteStoreConfig  `yaml:"sqlite,omitempty"`
	Memory  MemoryStoreConfig  `yaml:"memory,omitempty"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type SQLiteStoreConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

type MemoryStoreConfig struct {
	Cleanup time.Duration `yaml:"cleanup"`
}

// CookieConfig controls the session token transport attributes.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Domain   string `yaml:"domain,omitempty"`
	Path     string `yaml:"path"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"`
}

type MFAConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	MinTrustScore float64       `yaml:"min_trust_score"`
}

type AuditConfig struct {
	Workers int `yaml:"workers"`
}
