package generate

import (
	"fmt"
	"strings"

	"grimm.is/harrier/internal/fleet"
)

// conditionTokens are the operator tokens accepted by the custom
// condition shape check. A condition with none of these and no braces
// is too malformed to embed safely.
var conditionTokens = []string{
	" eq ", " ne ", " gt ", " lt ", " ge ", " le ",
	"==", "!=", ">=", "<=", " -i ", " -m ",
}

// CompileRule translates one WAF rule into directive lines for a
// listener section. Pure dispatch on the rule kind; unknown kinds
// produce a warning comment, never a guessed directive.
func CompileRule(r *fleet.FirewallRule) []string {
	c := &ruleCompiler{rule: r}
	c.comment("waf: %s [%s/%s]", r.Name, r.Kind, r.Action)
	if r.LogMessage != "" {
		c.comment("%s", r.LogMessage)
	}

	switch cfg := r.Config.(type) {
	case fleet.IPFilterConfig:
		c.ipFilter(cfg)
	case fleet.RateLimitConfig:
		c.rateLimit(cfg)
	case fleet.HeaderFilterConfig:
		c.headerFilter(cfg)
	case fleet.RequestFilterConfig:
		c.requestFilter(cfg)
	case fleet.GeoBlockConfig:
		c.geoBlock(cfg)
	case fleet.SizeLimitConfig:
		c.sizeLimit(cfg)
	case fleet.CustomConfig:
		c.custom(cfg)
	default:
		c.warn("rule %s has unsupported kind %s, skipped", r.Name, r.Kind)
	}

	c.customCondition()
	return c.lines
}

type ruleCompiler struct {
	rule  *fleet.FirewallRule
	lines []string
}

func (c *ruleCompiler) add(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *ruleCompiler) comment(format string, args ...any) {
	c.add("# "+format, args...)
}

func (c *ruleCompiler) warn(format string, args ...any) {
	c.add("# WARNING: "+format, args...)
}

// aclName derives a stable ACL identifier from the rule's UUID so
// regeneration yields byte-identical text.
func (c *ruleCompiler) aclName(suffix string) string {
	id := strings.ReplaceAll(c.rule.RuleID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	name := "waf_" + id
	if suffix != "" {
		name += "_" + suffix
	}
	return name
}

// actionDirective emits the verdict line for a compiled condition.
// cond is an ACL name or an inline "{ ... }" expression.
func (c *ruleCompiler) actionDirective(cond, denyStatus, redirectURL string) {
	switch c.rule.Action {
	case fleet.ActionBlock:
		if denyStatus != "" {
			c.add("http-request deny deny_status %s if %s", denyStatus, cond)
		} else {
			c.add("http-request deny if %s", cond)
		}
	case fleet.ActionAllow:
		c.add("http-request allow if %s", cond)
	case fleet.ActionLog:
		c.add("http-request set-log-level info if %s", cond)
	case fleet.ActionRedirect:
		if redirectURL == "" {
			c.warn("redirect action without redirect_url, denying instead")
			c.add("http-request deny if %s", cond)
			return
		}
		c.add("http-request redirect location %s code 302 if %s", redirectURL, cond)
	default:
		c.warn("unknown action %s, skipped", c.rule.Action)
	}
}

func (c *ruleCompiler) ipFilter(cfg fleet.IPFilterConfig) {
	if len(cfg.Addresses) == 0 {
		c.warn("ip_filter rule %s has no addresses, skipped", c.rule.Name)
		return
	}
	acl := c.aclName("")
	c.add("acl %s src %s", acl, strings.Join(cfg.Addresses, " "))
	c.actionDirective(acl, "", "")
}

func (c *ruleCompiler) rateLimit(cfg fleet.RateLimitConfig) {
	window := cfg.WindowSeconds
	if window <= 0 {
		window = 10
	}
	c.add("stick-table type ip size 100k expire %ds store http_req_rate(%ds)", window*2, window)
	c.add("http-request track-sc0 src")
	cond := fmt.Sprintf("{ sc_http_req_rate(0) gt %d }", cfg.RequestsPerWindow)
	if c.rule.Action == fleet.ActionBlock {
		c.add("http-request deny deny_status 429 if %s", cond)
		return
	}
	c.actionDirective(cond, "429", "")
}

func (c *ruleCompiler) headerFilter(cfg fleet.HeaderFilterConfig) {
	acl := c.aclName("")
	switch cfg.Match {
	case fleet.MatchEquals:
		c.add("acl %s hdr(%s) -i %s", acl, cfg.Header, cfg.Value)
	case fleet.MatchSubstring:
		c.add("acl %s hdr_sub(%s) -i %s", acl, cfg.Header, cfg.Value)
	case fleet.MatchRegex:
		c.add("acl %s hdr_reg(%s) -i %s", acl, cfg.Header, cfg.Value)
	default:
		c.warn("header_filter rule %s has unknown match %q, skipped", c.rule.Name, cfg.Match)
		return
	}
	if c.rule.Action == fleet.ActionLog {
		c.add("http-request capture req.hdr(%s) len 128 if %s", cfg.Header, acl)
		return
	}
	c.actionDirective(acl, "", "")
}

func (c *ruleCompiler) requestFilter(cfg fleet.RequestFilterConfig) {
	var conds []string
	if cfg.PathRegex != "" {
		acl := c.aclName("path")
		c.add("acl %s path_reg %s", acl, cfg.PathRegex)
		conds = append(conds, acl)
	}
	if len(cfg.Methods) > 0 {
		acl := c.aclName("method")
		c.add("acl %s method %s", acl, strings.Join(cfg.Methods, " "))
		conds = append(conds, acl)
	}
	if len(conds) == 0 {
		c.warn("request_filter rule %s matches nothing, skipped", c.rule.Name)
		return
	}
	c.actionDirective(strings.Join(conds, " "), "", cfg.RedirectURL)
}

// geoBlock is documented-unsupported: it needs a geo database the
// generator does not manage, so only the intended directives are
// emitted, all as comments.
func (c *ruleCompiler) geoBlock(cfg fleet.GeoBlockConfig) {
	c.comment("geo_block requires an external geo database on the agent host; not compiled")
	acl := c.aclName("geo")
	for _, country := range cfg.Countries {
		cc := strings.ToUpper(country)
		c.comment("intended: acl %s src -f /etc/harrier/geo/%s.lst", acl, cc)
	}
	c.comment("intended: http-request deny if %s", acl)
}

func (c *ruleCompiler) sizeLimit(cfg fleet.SizeLimitConfig) {
	if cfg.MaxBodyBytes <= 0 && cfg.MaxHeaderCount <= 0 {
		c.warn("size_limit rule %s has no limits, skipped", c.rule.Name)
		return
	}
	if cfg.MaxBodyBytes > 0 {
		c.actionDirective(fmt.Sprintf("{ req.body_size gt %d }", cfg.MaxBodyBytes), "413", "")
	}
	if cfg.MaxHeaderCount > 0 {
		c.actionDirective(fmt.Sprintf("{ req.hdr_cnt gt %d }", cfg.MaxHeaderCount), "400", "")
	}
}

func (c *ruleCompiler) custom(cfg fleet.CustomConfig) {
	if !hasConditionShape(cfg.Directive) {
		c.warn("custom directive skipped (unrecognized shape): %s", cfg.Directive)
		return
	}
	c.add("%s", cfg.Directive)
}

// customCondition embeds the optional operator-supplied condition line.
// Shape is checked first so malformed syntax never reaches the agent as
// an active directive.
func (c *ruleCompiler) customCondition() {
	cond := strings.TrimSpace(c.rule.CustomCondition)
	if cond == "" {
		return
	}
	if !hasConditionShape(cond) {
		c.warn("custom condition skipped (unrecognized shape): %s", cond)
		return
	}
	c.add("%s", cond)
}

// hasConditionShape accepts text containing braces or a recognized
// operator token. Minimal by intent; this guards against injecting
// free prose, not against every invalid directive.
func hasConditionShape(s string) bool {
	if strings.Contains(s, "{") && strings.Contains(s, "}") {
		return true
	}
	for _, tok := range conditionTokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
