package fleet

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Entity names end up as section names in generated configuration, so
// they carry the same character restrictions as the target language.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Characters that must never reach a generated directive.
var dangerousChars = []string{";", "|", "&", "$", "`", "<", ">", "\\", "\"", "'", "\n", "\r"}

// ValidateName validates an entity name used as a config section name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("name too long (max 64 characters): %s", name)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid name: %s (must be alphanumeric with -_.)", name)
	}
	return nil
}

// ValidateAddress validates a bind or member address. Hostnames are
// accepted (the parser flags them as warnings, not errors).
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	for _, c := range dangerousChars {
		if strings.Contains(addr, c) {
			return fmt.Errorf("address contains dangerous character: %s", c)
		}
	}
	if strings.ContainsAny(addr, " \t") {
		return fmt.Errorf("address contains whitespace: %s", addr)
	}
	return nil
}

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}

// ValidateMode validates a protocol mode.
func ValidateMode(mode Mode) error {
	switch mode {
	case ModeHTTP, ModeTCP:
		return nil
	}
	return fmt.Errorf("invalid mode: %s (must be http or tcp)", mode)
}

var validAlgorithms = map[string]bool{
	"roundrobin": true,
	"leastconn":  true,
	"source":     true,
	"uri":        true,
	"first":      true,
}

// ValidateListener validates listener fields before staging.
func (l *Listener) Validate() error {
	if err := ValidateName(l.Name); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if err := ValidateAddress(l.BindAddress); err != nil {
		return fmt.Errorf("listener %s: %w", l.Name, err)
	}
	if err := ValidatePort(l.BindPort); err != nil {
		return fmt.Errorf("listener %s: %w", l.Name, err)
	}
	if err := ValidateMode(l.Mode); err != nil {
		return fmt.Errorf("listener %s: %w", l.Name, err)
	}
	if l.RateLimit != nil {
		if l.RateLimit.RequestsPerWindow <= 0 || l.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("listener %s: rate limit window and threshold must be positive", l.Name)
		}
	}
	return nil
}

// Validate validates pool fields before staging.
func (p *Pool) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := ValidateMode(p.Mode); err != nil {
		return fmt.Errorf("pool %s: %w", p.Name, err)
	}
	if p.Algorithm != "" && !validAlgorithms[p.Algorithm] {
		return fmt.Errorf("pool %s: unknown balance algorithm: %s", p.Name, p.Algorithm)
	}
	if p.HealthCheck != nil && p.HealthCheck.ExpectStatus != 0 {
		if p.Mode != ModeHTTP {
			return fmt.Errorf("pool %s: expect_status is only valid in http mode", p.Name)
		}
		if p.HealthCheck.ExpectStatus < 100 || p.HealthCheck.ExpectStatus > 599 {
			return fmt.Errorf("pool %s: expect_status out of range: %d", p.Name, p.HealthCheck.ExpectStatus)
		}
	}
	return nil
}

// Validate validates member fields before staging. poolMode decides
// whether a portless member is acceptable.
func (m *Member) Validate(poolMode Mode) error {
	if err := ValidateName(m.Name); err != nil {
		return fmt.Errorf("member: %w", err)
	}
	if err := ValidateAddress(m.Address); err != nil {
		return fmt.Errorf("member %s: %w", m.Name, err)
	}
	if m.Port != nil {
		if err := ValidatePort(*m.Port); err != nil {
			return fmt.Errorf("member %s: %w", m.Name, err)
		}
	} else if poolMode == ModeTCP {
		return fmt.Errorf("member %s: port is required in tcp mode", m.Name)
	}
	if m.Weight < 0 || m.Weight > 256 {
		return fmt.Errorf("member %s: weight out of range: %d", m.Name, m.Weight)
	}
	return nil
}

// Validate validates a firewall rule before staging.
//
// The empty-association guard: when a concrete association list is in
// play (ClusterScope false), the list must be non-empty. An empty list
// would silently broaden scope to every listener in the cluster, which
// is never allowed to happen by accident.
func (r *FirewallRule) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return fmt.Errorf("rule: %w", err)
	}
	switch r.Action {
	case ActionBlock, ActionAllow, ActionLog, ActionRedirect:
	default:
		return fmt.Errorf("rule %s: invalid action: %s", r.Name, r.Action)
	}
	if !r.ClusterScope && len(r.ListenerIDs) == 0 {
		return fmt.Errorf("rule %s: listener association list cannot be empty; use cluster scope explicitly to apply to all listeners", r.Name)
	}
	if r.Config == nil {
		return fmt.Errorf("rule %s: missing configuration payload", r.Name)
	}
	if r.Config.Kind() != r.Kind {
		return fmt.Errorf("rule %s: config payload is %s but rule kind is %s", r.Name, r.Config.Kind(), r.Kind)
	}

	switch cfg := r.Config.(type) {
	case IPFilterConfig:
		if len(cfg.Addresses) == 0 {
			return fmt.Errorf("rule %s: ip_filter needs at least one address", r.Name)
		}
		for _, a := range cfg.Addresses {
			if !isIPOrCIDR(a) {
				return fmt.Errorf("rule %s: invalid address: %s", r.Name, a)
			}
		}
	case RateLimitConfig:
		if cfg.RequestsPerWindow <= 0 || cfg.WindowSeconds <= 0 {
			return fmt.Errorf("rule %s: rate_limit window and threshold must be positive", r.Name)
		}
	case HeaderFilterConfig:
		if cfg.Header == "" || cfg.Value == "" {
			return fmt.Errorf("rule %s: header_filter needs header and value", r.Name)
		}
		switch cfg.Match {
		case MatchEquals, MatchSubstring, MatchRegex:
		default:
			return fmt.Errorf("rule %s: invalid header match: %s", r.Name, cfg.Match)
		}
		if cfg.Match == MatchRegex {
			if _, err := regexp.Compile(cfg.Value); err != nil {
				return fmt.Errorf("rule %s: invalid header regex: %w", r.Name, err)
			}
		}
	case RequestFilterConfig:
		if cfg.PathRegex == "" && len(cfg.Methods) == 0 {
			return fmt.Errorf("rule %s: request_filter needs a path regex or methods", r.Name)
		}
		if cfg.PathRegex != "" {
			if _, err := regexp.Compile(cfg.PathRegex); err != nil {
				return fmt.Errorf("rule %s: invalid path regex: %w", r.Name, err)
			}
		}
		if r.Action == ActionRedirect && cfg.RedirectURL == "" {
			return fmt.Errorf("rule %s: redirect action needs a redirect URL", r.Name)
		}
	case GeoBlockConfig:
		if len(cfg.Countries) == 0 {
			return fmt.Errorf("rule %s: geo_block needs at least one country code", r.Name)
		}
		for _, c := range cfg.Countries {
			if len(c) != 2 {
				return fmt.Errorf("rule %s: invalid country code: %s", r.Name, c)
			}
		}
	case SizeLimitConfig:
		if cfg.MaxBodyBytes <= 0 && cfg.MaxHeaderCount <= 0 {
			return fmt.Errorf("rule %s: size_limit needs a body or header maximum", r.Name)
		}
	case CustomConfig:
		if strings.TrimSpace(cfg.Directive) == "" {
			return fmt.Errorf("rule %s: custom rule needs a directive", r.Name)
		}
	}
	return nil
}

// ValidateAssociationUpdate rejects updates that would reduce a
// concrete association list to empty.
func ValidateAssociationUpdate(rule *FirewallRule, newListenerIDs []int64, newClusterScope bool) error {
	if !newClusterScope && len(newListenerIDs) == 0 {
		return fmt.Errorf("rule %s: update would empty the listener association list; delete the rule or switch to cluster scope explicitly", rule.Name)
	}
	return nil
}

func isIPOrCIDR(s string) bool {
	if _, _, err := net.ParseCIDR(s); err == nil {
		return true
	}
	return net.ParseIP(s) != nil
}
