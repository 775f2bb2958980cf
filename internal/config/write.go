package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Render serializes the effective configuration back to HCL text.
// Every attribute is written, including values that came from
// defaults, so the output is a complete, round-trippable config file.
func Render(c *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("listen_addr", cty.StringVal(c.ListenAddr))
	body.SetAttributeValue("database_path", cty.StringVal(c.DatabasePath))
	body.SetAttributeValue("audit_path", cty.StringVal(c.AuditPath))
	body.SetAttributeValue("audit_retention_days", cty.NumberIntVal(int64(c.AuditRetentionDays)))
	if c.RollbackEnabled != nil {
		body.SetAttributeValue("rollback_enabled", cty.BoolVal(*c.RollbackEnabled))
	}
	body.SetAttributeValue("legacy_tls_port", cty.NumberIntVal(int64(c.LegacyTLSPort)))
	body.SetAttributeValue("heartbeat_timeout_seconds", cty.NumberIntVal(int64(c.HeartbeatTimeoutSeconds)))
	body.SetAttributeValue("log_level", cty.StringVal(c.LogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(c.LogJSON))

	return f.Bytes()
}
