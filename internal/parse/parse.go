// Package parse turns load balancer configuration text back into
// entity records. It is line-oriented and section-aware, and it is not
// a perfect inverse of the generator: unsupported directives become
// warnings, never guesses.
package parse

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/logging"
)

// Listener is a parsed frontend. Pool references are by name; ID
// resolution happens when the batch is imported into a cluster.
type Listener struct {
	Name          string
	BindAddress   string
	BindPort      int
	Mode          fleet.Mode
	DefaultPool   string
	UsePools      []string
	ClientTimeout int
	MaxConn       int
	MonitorURI    string
	RawDirectives []string

	redirectOnly bool
	hasRedirect  bool
}

// Pool is a parsed backend with its members attached.
type Pool struct {
	Name           string
	Algorithm      string
	Mode           fleet.Mode
	HealthCheck    *fleet.HealthCheck
	ConnectTimeout int
	ServerTimeout  int
	MaxConn        int
	CookieName     string
	PassHeaders    []string
	Members        []*Member
}

// Member is one parsed server line. A nil Port means the line omitted
// it; whether that survives depends on the pool's mode.
type Member struct {
	Name      string
	Address   string
	Port      *int
	Weight    int
	CheckRise int
	CheckFall int
	SSL       bool
	VerifySSL bool
	Enabled   bool
}

// Result carries everything recovered from one parse run. Errors are
// reserved for structurally broken input; warnings cover every skipped
// directive, dropped entity, or ambiguous reference.
type Result struct {
	Listeners []*Listener
	Pools     []*Pool
	Errors    []string
	Warnings  []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

var (
	sectionRegex = regexp.MustCompile(`^(frontend|backend|listen|global|defaults|peers|resolvers)\b\s*(\S*)`)

	// dangerousPrefixes are directives never imported: response capture
	// references and arbitrary service hooks that would execute or
	// expose things on the agent host.
	dangerousPrefixes = []string{
		"capture response",
		"external-check",
		"stats socket",
		"use-service",
		"program",
	}
)

// Parse consumes configuration text and recovers listeners and pools.
// It never fails outright on bad directives; whatever parsed before a
// structural break is still returned.
func Parse(text string) *Result {
	p := &parser{res: &Result{}, log: logging.WithComponent("parse")}
	p.run(text)
	p.finish()
	validate(p.res)
	return p.res
}

type parser struct {
	res *Result
	log *logging.Logger

	section  string // frontend, backend, or a skipped section type
	listener *Listener
	pool     *Pool
	lineNo   int
}

func (p *parser) run(text string) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := sectionRegex.FindStringSubmatch(line); m != nil {
			p.startSection(m[1], m[2])
			continue
		}
		p.directive(line)
	}
	if err := sc.Err(); err != nil {
		p.res.errorf("line %d: cannot tokenize input: %v", p.lineNo, err)
	}
}

func (p *parser) startSection(kind, name string) {
	p.flush()
	switch kind {
	case "frontend":
		if name == "" {
			p.res.errorf("line %d: frontend section without a name", p.lineNo)
			p.section = ""
			return
		}
		p.section = "frontend"
		p.listener = &Listener{Name: name, Mode: fleet.ModeHTTP}
	case "backend":
		if name == "" {
			p.res.errorf("line %d: backend section without a name", p.lineNo)
			p.section = ""
			return
		}
		p.section = "backend"
		p.pool = &Pool{Name: name, Algorithm: "roundrobin", Mode: fleet.ModeHTTP}
	default:
		p.section = kind
		p.res.warnf("line %d: section type %q is not importable, contents skipped", p.lineNo, kind)
	}
}

func (p *parser) flush() {
	if p.listener != nil {
		p.listener.redirectOnly = p.listener.hasRedirect &&
			p.listener.DefaultPool == "" && len(p.listener.UsePools) == 0
		p.res.Listeners = append(p.res.Listeners, p.listener)
		p.listener = nil
	}
	if p.pool != nil {
		p.res.Pools = append(p.res.Pools, p.pool)
		p.pool = nil
	}
}

func (p *parser) finish() {
	p.flush()
}

func (p *parser) directive(line string) {
	for _, pre := range dangerousPrefixes {
		if strings.HasPrefix(line, pre) {
			p.res.warnf("line %d: dangerous directive dropped: %s", p.lineNo, line)
			return
		}
	}

	switch p.section {
	case "frontend":
		p.frontendDirective(line)
	case "backend":
		p.backendDirective(line)
	case "":
		p.res.errorf("line %d: directive outside any section: %s", p.lineNo, line)
	default:
		// inside a skipped section; the section-level warning covers it
	}
}

func (p *parser) frontendDirective(line string) {
	l := p.listener
	fields := strings.Fields(line)
	switch {
	case fields[0] == "bind":
		if len(fields) < 2 {
			p.res.warnf("line %d: bind without an address, dropped", p.lineNo)
			return
		}
		addr, port := splitHostPort(fields[1])
		l.BindAddress = addr
		if port != nil {
			l.BindPort = *port
		}
	case fields[0] == "mode":
		if len(fields) >= 2 {
			l.Mode = fleet.Mode(fields[1])
		}
	case fields[0] == "default_backend":
		if len(fields) >= 2 {
			l.DefaultPool = fields[1]
		}
	case fields[0] == "use_backend":
		if len(fields) >= 2 {
			l.UsePools = append(l.UsePools, fields[1])
		}
		l.RawDirectives = append(l.RawDirectives, line)
	case strings.HasPrefix(line, "timeout client"):
		l.ClientTimeout = parseTimeoutMS(fields)
	case fields[0] == "maxconn":
		if len(fields) >= 2 {
			l.MaxConn, _ = strconv.Atoi(fields[1])
		}
	case fields[0] == "monitor-uri":
		if len(fields) >= 2 {
			l.MonitorURI = fields[1]
		}
	case fields[0] == "acl",
		fields[0] == "http-request",
		fields[0] == "http-response",
		fields[0] == "tcp-request":
		if strings.Contains(line, "redirect") {
			l.hasRedirect = true
		}
		l.RawDirectives = append(l.RawDirectives, line)
	default:
		p.res.warnf("line %d: unrecognized frontend directive dropped: %s", p.lineNo, line)
	}
}

func (p *parser) backendDirective(line string) {
	b := p.pool
	fields := strings.Fields(line)
	switch {
	case fields[0] == "balance":
		if len(fields) >= 2 {
			b.Algorithm = fields[1]
		}
	case fields[0] == "mode":
		if len(fields) >= 2 {
			b.Mode = fleet.Mode(fields[1])
		}
	case fields[0] == "server":
		p.serverLine(b, fields, line)
	case strings.HasPrefix(line, "option httpchk"):
		hc := b.ensureHealthCheck()
		if len(fields) >= 4 {
			hc.Method = fields[2]
			hc.Path = fields[3]
		} else if len(fields) == 3 {
			hc.Method = "GET"
			hc.Path = fields[2]
		}
	case strings.HasPrefix(line, "http-check expect status"):
		hc := b.ensureHealthCheck()
		if len(fields) >= 4 {
			hc.ExpectStatus, _ = strconv.Atoi(fields[3])
		}
	case strings.HasPrefix(line, "timeout connect"):
		b.ConnectTimeout = parseTimeoutMS(fields)
	case strings.HasPrefix(line, "timeout server"):
		b.ServerTimeout = parseTimeoutMS(fields)
	case fields[0] == "fullconn":
		if len(fields) >= 2 {
			b.MaxConn, _ = strconv.Atoi(fields[1])
		}
	case fields[0] == "cookie":
		if len(fields) >= 2 {
			b.CookieName = fields[1]
		}
	case fields[0] == "default-server":
		hc := b.ensureHealthCheck()
		for i := 1; i < len(fields)-1; i++ {
			switch fields[i] {
			case "inter":
				hc.IntervalMS = parseDurationMS(fields[i+1])
			case "rise":
				hc.Rise, _ = strconv.Atoi(fields[i+1])
			case "fall":
				hc.Fall, _ = strconv.Atoi(fields[i+1])
			}
		}
	case fields[0] == "http-request":
		b.PassHeaders = append(b.PassHeaders, line)
	default:
		p.res.warnf("line %d: unrecognized backend directive dropped: %s", p.lineNo, line)
	}
}

func (p *parser) serverLine(b *Pool, fields []string, line string) {
	if len(fields) < 3 {
		p.res.warnf("line %d: server line missing name or address, dropped: %s", p.lineNo, line)
		return
	}
	addr, port := splitHostPort(fields[2])
	m := &Member{
		Name:      fields[1],
		Address:   addr,
		Port:      port,
		Weight:    1,
		VerifySSL: true,
		Enabled:   true,
	}
	for i := 3; i < len(fields); i++ {
		switch fields[i] {
		case "weight":
			if i+1 < len(fields) {
				m.Weight, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "rise":
			if i+1 < len(fields) {
				m.CheckRise, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "fall":
			if i+1 < len(fields) {
				m.CheckFall, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "ssl":
			m.SSL = true
		case "verify":
			if i+1 < len(fields) {
				m.VerifySSL = fields[i+1] != "none"
				i++
			}
		case "disabled":
			m.Enabled = false
		case "check", "cookie":
			// check is implied on import; cookie value is rederived from
			// the member name at generation time
			if fields[i] == "cookie" && i+1 < len(fields) {
				i++
			}
		}
	}
	b.Members = append(b.Members, m)
}

func (b *Pool) ensureHealthCheck() *fleet.HealthCheck {
	if b.HealthCheck == nil {
		b.HealthCheck = &fleet.HealthCheck{}
	}
	return b.HealthCheck
}

// splitHostPort splits "addr:port" where the port is optional. IPv6
// bracket form is honored; a bare address yields a nil port.
func splitHostPort(s string) (string, *int) {
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]"); end > 0 {
			host := s[1:end]
			if rest := s[end+1:]; strings.HasPrefix(rest, ":") {
				if p, err := strconv.Atoi(rest[1:]); err == nil {
					return host, &p
				}
			}
			return host, nil
		}
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, nil
	}
	p, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return s, nil
	}
	return s[:idx], &p
}

// parseTimeoutMS reads the value of a "timeout <kind> <dur>" line.
func parseTimeoutMS(fields []string) int {
	if len(fields) < 3 {
		return 0
	}
	return parseDurationMS(fields[2])
}

// parseDurationMS converts HAProxy duration syntax (bare ms, "5s",
// "30000ms", "1m") to milliseconds.
func parseDurationMS(s string) int {
	mult := 1
	switch {
	case strings.HasSuffix(s, "ms"):
		s = strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "s"):
		s = strings.TrimSuffix(s, "s")
		mult = 1000
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
		mult = 60000
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * mult
}

// validate applies the post-parse passes, in order: dedupe by name,
// portless-member policy, drop empty pools, drop listeners stranded by
// dropped pools, flag unknown pool references, flag non-IP addresses.
func validate(res *Result) {
	dedupe(res)

	// Portless members are a sentinel ("use pool default") in http mode
	// but a hard per-member failure in tcp mode.
	for _, pool := range res.Pools {
		if pool.Mode != fleet.ModeTCP {
			continue
		}
		kept := pool.Members[:0]
		for _, m := range pool.Members {
			if m.Port == nil {
				res.warnf("pool %s: member %s has no port in tcp mode, excluded", pool.Name, m.Name)
				continue
			}
			kept = append(kept, m)
		}
		pool.Members = kept
	}

	dropped := make(map[string]bool)
	pools := res.Pools[:0]
	for _, pool := range res.Pools {
		if len(pool.Members) == 0 {
			res.warnf("pool %s has no surviving members, dropped", pool.Name)
			dropped[pool.Name] = true
			continue
		}
		pools = append(pools, pool)
	}
	res.Pools = pools

	known := make(map[string]bool, len(res.Pools))
	for _, pool := range res.Pools {
		known[pool.Name] = true
	}

	listeners := res.Listeners[:0]
	for _, l := range res.Listeners {
		refs := l.UsePools
		if l.DefaultPool != "" {
			refs = append([]string{l.DefaultPool}, refs...)
		}

		onlyDroppedRefs := len(refs) > 0
		for _, ref := range refs {
			if !dropped[ref] {
				onlyDroppedRefs = false
			}
			if !dropped[ref] && !known[ref] {
				res.warnf("listener %s references pool %s not present in this batch; it may already exist in the cluster", l.Name, ref)
			}
		}
		if onlyDroppedRefs && !l.redirectOnly {
			res.warnf("listener %s only routes to dropped pools, dropped", l.Name)
			continue
		}
		if len(refs) == 0 && !l.redirectOnly && !l.hasRedirect {
			res.warnf("listener %s routes nowhere and performs no redirects", l.Name)
		}
		listeners = append(listeners, l)
	}
	res.Listeners = listeners

	for _, pool := range res.Pools {
		for _, m := range pool.Members {
			if net.ParseIP(m.Address) == nil {
				res.warnf("pool %s: member %s address %q is not a literal IP, resolution happens on the agent host", pool.Name, m.Name, m.Address)
			}
		}
	}
}

// dedupe keeps the first occurrence of each listener and pool name.
func dedupe(res *Result) {
	seenL := make(map[string]bool)
	listeners := res.Listeners[:0]
	for _, l := range res.Listeners {
		if seenL[l.Name] {
			res.warnf("duplicate listener %s, keeping first occurrence", l.Name)
			continue
		}
		seenL[l.Name] = true
		listeners = append(listeners, l)
	}
	res.Listeners = listeners

	seenP := make(map[string]bool)
	pools := res.Pools[:0]
	for _, p := range res.Pools {
		if seenP[p.Name] {
			res.warnf("duplicate pool %s, keeping first occurrence", p.Name)
			continue
		}
		seenP[p.Name] = true
		pools = append(pools, p)
	}
	res.Pools = pools
}
