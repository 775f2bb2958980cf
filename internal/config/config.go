// Package config loads the daemon's HCL configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grimm.is/harrier/internal/brand"
)

// Config is the daemon configuration.
type Config struct {
	// ListenAddr is the API bind address, host:port.
	ListenAddr string `hcl:"listen_addr,optional"`

	// DatabasePath is the entity store location.
	DatabasePath string `hcl:"database_path,optional"`

	// AuditPath is the audit event store location. Empty disables the
	// audit trail.
	AuditPath string `hcl:"audit_path,optional"`

	// AuditRetentionDays bounds how long audit events are kept.
	AuditRetentionDays int `hcl:"audit_retention_days,optional"`

	// RollbackEnabled gates snapshot capture and Reject rollback
	// process-wide.
	RollbackEnabled *bool `hcl:"rollback_enabled,optional"`

	// LegacyTLSPort is the bind port used for listeners carrying only
	// the legacy single-certificate reference.
	LegacyTLSPort int `hcl:"legacy_tls_port,optional"`

	// HeartbeatTimeoutSeconds is how long a cluster may go without an
	// agent heartbeat before the sweep marks it DOWN.
	HeartbeatTimeoutSeconds int `hcl:"heartbeat_timeout_seconds,optional"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `hcl:"log_level,optional"`

	// LogJSON switches the log output to JSON.
	LogJSON bool `hcl:"log_json,optional"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	enabled := true
	return &Config{
		ListenAddr:              "127.0.0.1:8264",
		DatabasePath:            brand.DefaultStateDir + "/harrier.db",
		AuditPath:               brand.DefaultStateDir + "/audit.db",
		AuditRetentionDays:      90,
		RollbackEnabled:         &enabled,
		LegacyTLSPort:           443,
		HeartbeatTimeoutSeconds: 120,
		LogLevel:                "info",
	}
}

// Load reads and decodes an HCL config file, filling unset fields with
// defaults. A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes HCL config bytes.
func Parse(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse config: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("decode config: %s", diags.Error())
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.AuditRetentionDays <= 0 {
		c.AuditRetentionDays = def.AuditRetentionDays
	}
	if c.RollbackEnabled == nil {
		c.RollbackEnabled = def.RollbackEnabled
	}
	if c.LegacyTLSPort <= 0 {
		c.LegacyTLSPort = def.LegacyTLSPort
	}
	if c.HeartbeatTimeoutSeconds <= 0 {
		c.HeartbeatTimeoutSeconds = def.HeartbeatTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}
