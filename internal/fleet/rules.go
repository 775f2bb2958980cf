package fleet

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleKind discriminates the WAF rule variants.
type RuleKind string

const (
	KindIPFilter      RuleKind = "ip_filter"
	KindRateLimit     RuleKind = "rate_limit"
	KindHeaderFilter  RuleKind = "header_filter"
	KindRequestFilter RuleKind = "request_filter"
	KindGeoBlock      RuleKind = "geo_block"
	KindSizeLimit     RuleKind = "size_limit"
	KindCustom        RuleKind = "custom"
)

// RuleAction is what a matched rule does.
type RuleAction string

const (
	ActionBlock    RuleAction = "block"
	ActionAllow    RuleAction = "allow"
	ActionLog      RuleAction = "log"
	ActionRedirect RuleAction = "redirect"
)

// RuleConfig is the kind-specific payload of a FirewallRule. The
// original system carried this as a free-form dictionary; here each
// kind has its own typed variant, resolved when the rule is staged.
type RuleConfig interface {
	Kind() RuleKind
}

// IPFilterConfig matches the request source against an address list.
type IPFilterConfig struct {
	// Addresses are IPs or CIDR blocks.
	Addresses []string `json:"addresses"`
}

func (IPFilterConfig) Kind() RuleKind { return KindIPFilter }

// RateLimitConfig tracks request rate per source IP.
type RateLimitConfig struct {
	RequestsPerWindow int `json:"requests_per_window"`
	WindowSeconds     int `json:"window_seconds"`
}

func (RateLimitConfig) Kind() RuleKind { return KindRateLimit }

// HeaderMatch selects how a header value is compared.
type HeaderMatch string

const (
	MatchEquals    HeaderMatch = "equals"
	MatchSubstring HeaderMatch = "substring"
	MatchRegex     HeaderMatch = "regex"
)

// HeaderFilterConfig matches a request header.
type HeaderFilterConfig struct {
	Header string      `json:"header"`
	Match  HeaderMatch `json:"match"`
	Value  string      `json:"value"`
}

func (HeaderFilterConfig) Kind() RuleKind { return KindHeaderFilter }

// RequestFilterConfig matches request path and/or method.
type RequestFilterConfig struct {
	PathRegex   string   `json:"path_regex,omitempty"`
	Methods     []string `json:"methods,omitempty"`
	RedirectURL string   `json:"redirect_url,omitempty"`
}

func (RequestFilterConfig) Kind() RuleKind { return KindRequestFilter }

// GeoBlockConfig lists ISO 3166-1 alpha-2 country codes. Compiled to
// advisory comments only; the geo database lives on the agent host.
type GeoBlockConfig struct {
	Countries []string `json:"countries"`
}

func (GeoBlockConfig) Kind() RuleKind { return KindGeoBlock }

// SizeLimitConfig caps request body size and header count.
type SizeLimitConfig struct {
	MaxBodyBytes   int64 `json:"max_body_bytes,omitempty"`
	MaxHeaderCount int   `json:"max_header_count,omitempty"`
}

func (SizeLimitConfig) Kind() RuleKind { return KindSizeLimit }

// CustomConfig carries a raw directive supplied by the operator.
type CustomConfig struct {
	Directive string `json:"directive"`
}

func (CustomConfig) Kind() RuleKind { return KindCustom }

// FirewallRule is a WAF rule compiled into allow/deny/log directives.
//
// ListenerIDs is the association set. An empty set with ClusterScope
// true means "apply to every listener in the cluster"; supplying a
// concrete empty list is rejected at stage time (see Validate) because
// it would silently broaden scope.
type FirewallRule struct {
	ID        int64
	RuleID    string // stable UUID used in generated ACL names
	ClusterID int64
	Name      string
	Kind      RuleKind
	Action    RuleAction
	Priority  int
	Config    RuleConfig
	// LogMessage is a free-text comment emitted above the compiled
	// directives.
	LogMessage string
	// CustomCondition is an optional raw condition appended to the
	// compiled directives after minimal shape validation.
	CustomCondition  string
	ListenerIDs      []int64
	ClusterScope     bool
	LastConfigStatus ConfigStatus
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ruleConfigEnvelope is the persisted form of a RuleConfig.
type ruleConfigEnvelope struct {
	Kind   RuleKind        `json:"kind"`
	Config json.RawMessage `json:"config"`
}

// MarshalRuleConfig encodes a RuleConfig for storage.
func MarshalRuleConfig(rc RuleConfig) (string, error) {
	if rc == nil {
		return "", fmt.Errorf("rule config is nil")
	}
	inner, err := json.Marshal(rc)
	if err != nil {
		return "", fmt.Errorf("marshal rule config: %w", err)
	}
	env, err := json.Marshal(ruleConfigEnvelope{Kind: rc.Kind(), Config: inner})
	if err != nil {
		return "", fmt.Errorf("marshal rule envelope: %w", err)
	}
	return string(env), nil
}

// UnmarshalRuleConfig decodes a stored RuleConfig back into its typed
// variant.
func UnmarshalRuleConfig(data string) (RuleConfig, error) {
	var env ruleConfigEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("unmarshal rule envelope: %w", err)
	}

	var rc RuleConfig
	switch env.Kind {
	case KindIPFilter:
		rc = &IPFilterConfig{}
	case KindRateLimit:
		rc = &RateLimitConfig{}
	case KindHeaderFilter:
		rc = &HeaderFilterConfig{}
	case KindRequestFilter:
		rc = &RequestFilterConfig{}
	case KindGeoBlock:
		rc = &GeoBlockConfig{}
	case KindSizeLimit:
		rc = &SizeLimitConfig{}
	case KindCustom:
		rc = &CustomConfig{}
	default:
		return nil, fmt.Errorf("unknown rule kind: %s", env.Kind)
	}

	if err := json.Unmarshal(env.Config, rc); err != nil {
		return nil, fmt.Errorf("unmarshal %s config: %w", env.Kind, err)
	}

	// Return by value semantics matching the typed variants.
	switch v := rc.(type) {
	case *IPFilterConfig:
		return *v, nil
	case *RateLimitConfig:
		return *v, nil
	case *HeaderFilterConfig:
		return *v, nil
	case *RequestFilterConfig:
		return *v, nil
	case *GeoBlockConfig:
		return *v, nil
	case *SizeLimitConfig:
		return *v, nil
	case *CustomConfig:
		return *v, nil
	}
	return rc, nil
}
