// Package config holds the bridge daemon configuration: transport
// endpoints, cache tuning, and the emergency calling policy surface.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is loaded once at startup and read-only afterwards.
type Config struct {
	// Node identifies this daemon instance on the bus.
	Node     string `env:"NODE"`
	LogLevel string `env:"LOGLEVEL"`

	// BusURL selects the NATS server; empty runs the in-memory loopback
	// bus (single-node development mode).
	BusURL string `env:"BUS_URL"`

	// RedisAddr selects the account store; empty runs the in-memory
	// provider.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	// AccountCacheTTL bounds staleness of cached account lookups.
	AccountCacheTTL time.Duration `env:"ACCOUNT_CACHE_TTL"`

	// Emergency calling policy.
	EnsureValidEmergencyCID bool   `env:"ENSURE_VALID_EMERGENCY_CID"`
	DenyInvalidEmergencyCID bool   `env:"DENY_INVALID_EMERGENCY_CID"`
	DefaultEmergencyCID     string `env:"DEFAULT_EMERGENCY_CID"`
	DenyEmergencyCode       int    `env:"DENY_EMERGENCY_CODE"`
	DenyEmergencyCause      string `env:"DENY_EMERGENCY_CAUSE"`
	DenyEmergencyMedia      string `env:"DENY_EMERGENCY_MEDIA"`

	// FormatFromURI injects a From-URI CCV into dial commands when the
	// resolved number and account realm are both known.
	FormatFromURI bool `env:"FORMAT_FROM_URI"`
}

// Load parses flags from args and applies environment overrides. A .env
// file is honored when present.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	fs := flag.NewFlagSet("bridged", flag.ContinueOnError)

	fs.StringVar(&cfg.Node, "node", "bridged-1", "Node identifier on the bus")
	fs.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.BusURL, "bus", "", "NATS server URL (empty for in-memory loopback)")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for account lookups (empty for in-memory)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	fs.DurationVar(&cfg.AccountCacheTTL, "account-cache-ttl", 30*time.Second, "TTL for cached account lookups")

	fs.BoolVar(&cfg.EnsureValidEmergencyCID, "ensure-valid-emergency-cid", false, "Validate emergency caller ID against the account's enabled numbers")
	fs.BoolVar(&cfg.DenyInvalidEmergencyCID, "deny-invalid-emergency-cid", false, "Deny emergency bridges with no valid caller ID instead of using a fallback")
	fs.StringVar(&cfg.DefaultEmergencyCID, "default-emergency-cid", "", "Fallback emergency caller ID number")
	fs.IntVar(&cfg.DenyEmergencyCode, "deny-emergency-code", 486, "SIP code for denied emergency bridges")
	fs.StringVar(&cfg.DenyEmergencyCause, "deny-emergency-cause", "Emergency service not configured", "Cause string for denied emergency bridges")
	fs.StringVar(&cfg.DenyEmergencyMedia, "deny-emergency-media", "prompt://system_media/emergency-not-configured", "Announcement played on denied emergency bridges")

	fs.BoolVar(&cfg.FormatFromURI, "format-from-uri", false, "Inject a formatted From-URI CCV into dial commands")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
