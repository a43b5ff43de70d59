package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Audience != "approvals-api" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if len(cfg.Templates.Directories) != 2 {
		t.Errorf("Templates.Directories = %v", cfg.Templates.Directories)
	}
	if cfg.Access.Cache.TTL != 2*time.Minute {
		t.Errorf("Access.Cache.TTL = %v, want 2m", cfg.Access.Cache.TTL)
	}
	if cfg.Access.Cache.MaxEntries != 10000 {
		t.Errorf("Access.Cache.MaxEntries = %d, want default", cfg.Access.Cache.MaxEntries)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSNEnv != "APPROVALS_PG_DSN" || !cfg.Store.AutoMigrate {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Idempotency.TTL != 12*time.Hour {
		t.Errorf("Idempotency.TTL = %v, want 12h", cfg.Idempotency.TTL)
	}
	if cfg.Notifications.Channel != "approvals.events.test" {
		t.Errorf("Notifications.Channel = %q", cfg.Notifications.Channel)
	}
	if b := cfg.Notifications.Breaker; b.FailureThreshold != 3 || b.SuccessThreshold != 2 || b.Cooldown != time.Minute {
		t.Errorf("Notifications.Breaker = %+v", b)
	}
	if cfg.SLA.MonitorInterval != 5*time.Minute {
		t.Errorf("SLA.MonitorInterval = %v, want 5m", cfg.SLA.MonitorInterval)
	}
	if !cfg.UsesRedis() {
		t.Error("UsesRedis() = false, want true")
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	if !strings.Contains(err.Error(), "identity.issuer is required") {
		t.Errorf("error = %v", err)
	}
}

func TestLoad_unsupported_drivers(t *testing.T) {
	_, err := Load("testdata/bad_drivers.yaml")
	if err == nil {
		t.Fatal("Load() with bad drivers should return error")
	}
	for _, want := range []string{`store.driver "sqlite"`, "numbering.driver postgres requires", `notifications.driver "kafka"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("default Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.SLA.MonitorInterval != 0 {
		t.Errorf("default SLA.MonitorInterval = %v, want disabled", cfg.SLA.MonitorInterval)
	}
	if cfg.UsesRedis() {
		t.Error("defaults should not need Redis")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APPROVALS_SERVER_PORT", "3000")
	t.Setenv("APPROVALS_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("APPROVALS_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("APPROVALS_STORE_DRIVER", "memory")
	t.Setenv("APPROVALS_NUMBERING_DRIVER", "memory")
	t.Setenv("APPROVALS_SLA_MONITOR_INTERVAL", "90s")
	t.Setenv("APPROVALS_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Store.Driver != "memory" || cfg.Numbering.Driver != "memory" {
		t.Errorf("drivers = %q/%q, want memory", cfg.Store.Driver, cfg.Numbering.Driver)
	}
	if cfg.SLA.MonitorInterval != 90*time.Second {
		t.Errorf("SLA.MonitorInterval = %v, want 90s", cfg.SLA.MonitorInterval)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides_ignores_malformed(t *testing.T) {
	t.Setenv("APPROVALS_SERVER_PORT", "not-a-port")
	t.Setenv("APPROVALS_SLA_MONITOR_INTERVAL", "soon")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want file value", cfg.Server.Port)
	}
	if cfg.SLA.MonitorInterval != 5*time.Minute {
		t.Errorf("SLA.MonitorInterval = %v, want file value", cfg.SLA.MonitorInterval)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "approvals-api"
	cfg.Access.PolicyFile = "/policy.yaml"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() baseline error = %v", err)
	}

	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_idempotency_driver_only_checked_when_enabled(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "approvals-api"
	cfg.Access.PolicyFile = "/policy.yaml"
	cfg.Idempotency.Driver = "memcached"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled idempotency should not be validated: %v", err)
	}
	cfg.Idempotency.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled idempotency with unknown driver should fail")
	}
}
