// Package config loads process configuration from environment variables,
// with an optional YAML overlay applied before the environment so that env
// vars always win.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the kernel process's runtime configuration.
type Config struct {
	Port             string
	LogLevel         string
	LedgerPath       string
	APIKey           string
	SigningKeyB64    string
	VerifyingKeyB64  string
	SeedPassphrase   string
	SeedSalt         string
	PolicyBundlePath string
	RateLimitRPS     float64
	RateLimitBurst   int
	RedisAddr        string
	AuditDSN         string
	BlobOffloadBytes int64
	BlobBackend      string
	BlobBucket       string
	OtelEnabled      bool
	OtelEndpoint     string
	OtelEnvironment  string
}

// fileOverlay mirrors the subset of Config that may be supplied via YAML.
type fileOverlay struct {
	Port             string  `yaml:"port"`
	LogLevel         string  `yaml:"log_level"`
	LedgerPath       string  `yaml:"ledger_path"`
	PolicyBundlePath string  `yaml:"policy_bundle_path"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`
	RedisAddr        string  `yaml:"redis_addr"`
	AuditDSN         string  `yaml:"audit_dsn"`
	BlobOffloadBytes int64   `yaml:"blob_offload_bytes"`
	BlobBackend      string  `yaml:"blob_backend"`
	BlobBucket       string  `yaml:"blob_bucket"`
	OtelEnabled      bool    `yaml:"otel_enabled"`
	OtelEndpoint     string  `yaml:"otel_endpoint"`
}

// Load builds a Config from UBL_CONFIG_FILE (if set) overlaid by
// environment variables, which always take precedence.
func Load() *Config {
	c := &Config{
		Port:             "8080",
		LogLevel:         "info",
		LedgerPath:       "ubl_ledger.json",
		RateLimitRPS:     50,
		RateLimitBurst:   100,
		BlobOffloadBytes: 256 * 1024,
		OtelEnvironment:  "development",
	}

	if path := os.Getenv("UBL_CONFIG_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var overlay fileOverlay
			if yaml.Unmarshal(data, &overlay) == nil {
				applyOverlay(c, overlay)
			}
		}
	}

	applyEnv(c)
	return c
}

func applyOverlay(c *Config, o fileOverlay) {
	if o.Port != "" {
		c.Port = o.Port
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LedgerPath != "" {
		c.LedgerPath = o.LedgerPath
	}
	if o.PolicyBundlePath != "" {
		c.PolicyBundlePath = o.PolicyBundlePath
	}
	if o.RateLimitRPS != 0 {
		c.RateLimitRPS = o.RateLimitRPS
	}
	if o.RateLimitBurst != 0 {
		c.RateLimitBurst = o.RateLimitBurst
	}
	if o.RedisAddr != "" {
		c.RedisAddr = o.RedisAddr
	}
	if o.AuditDSN != "" {
		c.AuditDSN = o.AuditDSN
	}
	if o.BlobOffloadBytes != 0 {
		c.BlobOffloadBytes = o.BlobOffloadBytes
	}
	if o.BlobBackend != "" {
		c.BlobBackend = o.BlobBackend
	}
	if o.BlobBucket != "" {
		c.BlobBucket = o.BlobBucket
	}
	if o.OtelEnabled {
		c.OtelEnabled = true
	}
	if o.OtelEndpoint != "" {
		c.OtelEndpoint = o.OtelEndpoint
	}
}

func applyEnv(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("UBL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("UBL_LEDGER_PATH"); v != "" {
		c.LedgerPath = v
	}
	c.APIKey = os.Getenv("UBL_API_KEY")
	c.SigningKeyB64 = os.Getenv("UBL_ED25519_PRIVATE_KEY_B64")
	c.VerifyingKeyB64 = os.Getenv("UBL_ED25519_PUBLIC_KEY_B64")
	c.SeedPassphrase = os.Getenv("UBL_ED25519_SEED_PASSPHRASE")
	c.SeedSalt = os.Getenv("UBL_ED25519_SEED_SALT")
	if v := os.Getenv("UBL_POLICY_BUNDLE"); v != "" {
		c.PolicyBundlePath = v
	}
	if v := os.Getenv("UBL_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimitRPS = f
		}
	}
	if v := os.Getenv("UBL_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimitBurst = n
		}
	}
	if v := os.Getenv("UBL_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("UBL_AUDIT_DSN"); v != "" {
		c.AuditDSN = v
	}
	if v := os.Getenv("UBL_BLOB_OFFLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.BlobOffloadBytes = n
		}
	}
	if v := os.Getenv("UBL_BLOB_BACKEND"); v != "" {
		c.BlobBackend = v
	}
	if v := os.Getenv("UBL_BLOB_BUCKET"); v != "" {
		c.BlobBucket = v
	}
	if v := os.Getenv("UBL_OTEL_ENABLED"); v != "" {
		c.OtelEnabled = v == "1" || v == "true"
	}
	if v := os.Getenv("UBL_OTEL_ENDPOINT"); v != "" {
		c.OtelEndpoint = v
	}
	if v := os.Getenv("UBL_OTEL_ENVIRONMENT"); v != "" {
		c.OtelEnvironment = v
	}
}
