package config

import (
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != "127.0.0.1:8264" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.RollbackEnabled == nil || !*cfg.RollbackEnabled {
		t.Error("rollback not enabled by default")
	}
	if cfg.LegacyTLSPort != 443 {
		t.Errorf("legacy tls port = %d", cfg.LegacyTLSPort)
	}
}

func TestParseHCL(t *testing.T) {
	cfg, err := Parse([]byte(`
listen_addr = "0.0.0.0:9000"
rollback_enabled = false
legacy_tls_port = 8443
log_level = "debug"
log_json = true
`), "test.hcl")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.RollbackEnabled == nil || *cfg.RollbackEnabled {
		t.Error("rollback_enabled = false not honored")
	}
	if cfg.LegacyTLSPort != 8443 {
		t.Errorf("legacy tls port = %d", cfg.LegacyTLSPort)
	}
	if !cfg.LogJSON || cfg.LogLevel != "debug" {
		t.Errorf("log settings = %q json=%v", cfg.LogLevel, cfg.LogJSON)
	}
	// Unset fields fall back to defaults.
	if cfg.DatabasePath != Default().DatabasePath {
		t.Errorf("database path = %q", cfg.DatabasePath)
	}
	if cfg.HeartbeatTimeoutSeconds != 120 {
		t.Errorf("heartbeat timeout = %d", cfg.HeartbeatTimeoutSeconds)
	}
}

func TestParseRejectsBadHCL(t *testing.T) {
	if _, err := Parse([]byte(`listen_addr = `), "broken.hcl"); err == nil {
		t.Error("broken HCL accepted")
	}
	if _, err := Parse([]byte(`unknown_key = true`), "extra.hcl"); err == nil {
		t.Error("unknown attribute accepted")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	orig := Default()
	orig.ListenAddr = "0.0.0.0:9000"
	orig.LogJSON = true

	cfg, err := Parse(Render(orig), "rendered.hcl")
	if err != nil {
		t.Fatalf("Parse(Render(...)): %v", err)
	}
	if cfg.ListenAddr != orig.ListenAddr || !cfg.LogJSON {
		t.Errorf("round trip lost overrides: %+v", cfg)
	}
	if cfg.DatabasePath != orig.DatabasePath || cfg.LegacyTLSPort != orig.LegacyTLSPort {
		t.Errorf("round trip lost defaults: %+v", cfg)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != Default().ListenAddr {
		t.Error("missing file did not yield defaults")
	}
}
