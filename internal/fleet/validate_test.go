package fleet

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"web", "web-01", "api_v2", "pool.prod", "A1"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "dollar$", "tick`", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	if err := ValidateAddress("10.0.0.1"); err != nil {
		t.Errorf("literal IP rejected: %v", err)
	}
	// Hostnames pass validation; the parser flags them separately.
	if err := ValidateAddress("db.internal"); err != nil {
		t.Errorf("hostname rejected: %v", err)
	}
	for _, addr := range []string{"", "10.0.0.1; rm -rf /", "a|b", "a b", "x\ny"} {
		if err := ValidateAddress(addr); err == nil {
			t.Errorf("ValidateAddress(%q) = nil, want error", addr)
		}
	}
}

func TestListenerValidate(t *testing.T) {
	l := &Listener{Name: "web", BindAddress: "*", BindPort: 80, Mode: ModeHTTP}
	if err := l.Validate(); err != nil {
		t.Fatalf("valid listener rejected: %v", err)
	}

	bad := *l
	bad.BindPort = 70000
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range port accepted")
	}

	bad = *l
	bad.Mode = "udp"
	if err := bad.Validate(); err == nil {
		t.Error("invalid mode accepted")
	}

	bad = *l
	bad.RateLimit = &RateLimit{RequestsPerWindow: 0, WindowSeconds: 10}
	if err := bad.Validate(); err == nil {
		t.Error("zero-threshold rate limit accepted")
	}
}

func TestPoolValidate(t *testing.T) {
	p := &Pool{Name: "app", Mode: ModeHTTP, Algorithm: "leastconn"}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid pool rejected: %v", err)
	}

	p.Algorithm = "fastest"
	if err := p.Validate(); err == nil {
		t.Error("unknown algorithm accepted")
	}

	// expect_status is an http-only parameter.
	tcp := &Pool{Name: "db", Mode: ModeTCP, HealthCheck: &HealthCheck{ExpectStatus: 200}}
	if err := tcp.Validate(); err == nil {
		t.Error("expect_status accepted in tcp mode")
	}
}

func TestMemberValidatePortlessByMode(t *testing.T) {
	m := &Member{Name: "app1", Address: "10.0.0.5", Weight: 1}

	if err := m.Validate(ModeHTTP); err != nil {
		t.Errorf("portless member rejected in http mode: %v", err)
	}
	if err := m.Validate(ModeTCP); err == nil {
		t.Error("portless member accepted in tcp mode")
	}

	port := 8080
	m.Port = &port
	if err := m.Validate(ModeTCP); err != nil {
		t.Errorf("ported member rejected in tcp mode: %v", err)
	}
}

func TestRuleValidateEmptyAssociation(t *testing.T) {
	r := &FirewallRule{
		Name:   "block-bots",
		Kind:   KindIPFilter,
		Action: ActionBlock,
		Config: IPFilterConfig{Addresses: []string{"203.0.113.0/24"}},
	}

	// Concrete empty association list must be rejected; it would
	// silently widen the rule to every listener.
	r.ClusterScope = false
	r.ListenerIDs = nil
	if err := r.Validate(); err == nil {
		t.Error("empty association list accepted without cluster scope")
	}

	r.ClusterScope = true
	if err := r.Validate(); err != nil {
		t.Errorf("cluster-scoped rule rejected: %v", err)
	}

	r.ClusterScope = false
	r.ListenerIDs = []int64{1}
	if err := r.Validate(); err != nil {
		t.Errorf("listener-scoped rule rejected: %v", err)
	}
}

func TestRuleValidateKindPayloads(t *testing.T) {
	base := FirewallRule{Name: "r", Action: ActionBlock, ClusterScope: true}

	cases := []struct {
		name    string
		kind    RuleKind
		config  RuleConfig
		wantErr bool
	}{
		{"ip filter ok", KindIPFilter, IPFilterConfig{Addresses: []string{"10.0.0.0/8", "192.0.2.7"}}, false},
		{"ip filter bad address", KindIPFilter, IPFilterConfig{Addresses: []string{"not-an-ip"}}, true},
		{"rate limit ok", KindRateLimit, RateLimitConfig{RequestsPerWindow: 100, WindowSeconds: 10}, false},
		{"rate limit zero window", KindRateLimit, RateLimitConfig{RequestsPerWindow: 100}, true},
		{"header filter ok", KindHeaderFilter, HeaderFilterConfig{Header: "User-Agent", Match: MatchSubstring, Value: "curl"}, false},
		{"header filter bad regex", KindHeaderFilter, HeaderFilterConfig{Header: "X", Match: MatchRegex, Value: "("}, true},
		{"geo block ok", KindGeoBlock, GeoBlockConfig{Countries: []string{"DE", "FR"}}, false},
		{"geo block bad code", KindGeoBlock, GeoBlockConfig{Countries: []string{"DEU"}}, true},
		{"size limit empty", KindSizeLimit, SizeLimitConfig{}, true},
		{"custom empty", KindCustom, CustomConfig{Directive: "   "}, true},
		{"kind mismatch", KindIPFilter, RateLimitConfig{RequestsPerWindow: 1, WindowSeconds: 1}, true},
	}

	for _, tc := range cases {
		r := base
		r.Kind = tc.kind
		r.Config = tc.config
		err := r.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: want error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestValidateAssociationUpdate(t *testing.T) {
	rule := &FirewallRule{Name: "r", ListenerIDs: []int64{1, 2}}

	if err := ValidateAssociationUpdate(rule, nil, false); err == nil {
		t.Error("reduce-to-empty update accepted")
	}
	if err := ValidateAssociationUpdate(rule, nil, true); err != nil {
		t.Errorf("explicit cluster scope rejected: %v", err)
	}
	if err := ValidateAssociationUpdate(rule, []int64{2}, false); err != nil {
		t.Errorf("shrinking to non-empty rejected: %v", err)
	}
}
