package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node != "bridged-1" {
		t.Errorf("Node = %q", cfg.Node)
	}
	if cfg.DenyEmergencyCode != 486 {
		t.Errorf("DenyEmergencyCode = %d, want 486", cfg.DenyEmergencyCode)
	}
	if cfg.DenyEmergencyCause != "Emergency service not configured" {
		t.Errorf("DenyEmergencyCause = %q", cfg.DenyEmergencyCause)
	}
	if cfg.AccountCacheTTL != 30*time.Second {
		t.Errorf("AccountCacheTTL = %v", cfg.AccountCacheTTL)
	}
	if cfg.EnsureValidEmergencyCID || cfg.DenyInvalidEmergencyCID || cfg.FormatFromURI {
		t.Error("policy flags must default off")
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"-node", "bridged-7",
		"-bus", "nats://broker:4222",
		"-ensure-valid-emergency-cid",
		"-deny-invalid-emergency-cid",
		"-default-emergency-cid", "+15550000911",
		"-deny-emergency-code", "603",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node != "bridged-7" || cfg.BusURL != "nats://broker:4222" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.EnsureValidEmergencyCID || !cfg.DenyInvalidEmergencyCID {
		t.Error("policy flags not parsed")
	}
	if cfg.DefaultEmergencyCID != "+15550000911" {
		t.Errorf("DefaultEmergencyCID = %q", cfg.DefaultEmergencyCID)
	}
	if cfg.DenyEmergencyCode != 603 {
		t.Errorf("DenyEmergencyCode = %d", cfg.DenyEmergencyCode)
	}
}

func TestLoadEnvOverridesFlags(t *testing.T) {
	t.Setenv("ENSURE_VALID_EMERGENCY_CID", "true")
	t.Setenv("DEFAULT_EMERGENCY_CID", "+15551119999")
	t.Setenv("REDIS_ADDR", "redis-1:6379")

	cfg, err := Load([]string{"-default-emergency-cid", "+15550000911"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.EnsureValidEmergencyCID {
		t.Error("env bool override not applied")
	}
	if cfg.DefaultEmergencyCID != "+15551119999" {
		t.Errorf("DefaultEmergencyCID = %q, want env value", cfg.DefaultEmergencyCID)
	}
	if cfg.RedisAddr != "redis-1:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}
