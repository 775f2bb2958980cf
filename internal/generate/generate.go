package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/logging"
	"grimm.is/harrier/internal/store"
)

// ErrClusterNotFound is returned when the target cluster does not
// exist. It is the only generation failure; missing optional fields
// produce directive omission, never errors.
var ErrClusterNotFound = errors.New("cluster not found")

// DefaultLegacyTLSPort is the bind port used for the legacy
// single-certificate listener form.
const DefaultLegacyTLSPort = 443

// certDir is where agents materialize certificate files referenced by
// bind lines.
const certDir = "/etc/harrier/certs"

// Generator compiles cluster entities into configuration text. The
// output is a pure function of entity state so agents can diff
// checksums to decide whether to re-fetch.
type Generator struct {
	store         *store.Store
	legacyTLSPort int
	log           *logging.Logger
}

func New(st *store.Store, legacyTLSPort int) *Generator {
	if legacyTLSPort <= 0 {
		legacyTLSPort = DefaultLegacyTLSPort
	}
	return &Generator{
		store:         st,
		legacyTLSPort: legacyTLSPort,
		log:           logging.WithComponent("generate"),
	}
}

// WithStore returns a copy reading through st. The lifecycle manager
// uses this to generate inside a staging transaction so the compiled
// text reflects the just-applied mutation.
func (g *Generator) WithStore(st *store.Store) *Generator {
	cp := *g
	cp.store = st
	return &cp
}

// Generate compiles the full configuration for one cluster: listener
// and pool sections only. Entities soft-deleted by a pending delete are
// already invisible to the active-only store reads; members flagged
// DELETION are additionally omitted here.
//
// On a missing cluster the returned text is an error-marked body rather
// than partial output, since callers may persist it as version content.
func (g *Generator) Generate(ctx context.Context, clusterID int64) (string, error) {
	cluster, err := g.store.GetCluster(ctx, clusterID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("# ERROR: cluster %d not found\n", clusterID),
			fmt.Errorf("cluster %d: %w", clusterID, ErrClusterNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load cluster %d: %w", clusterID, err)
	}

	listeners, err := g.store.ListListeners(ctx, clusterID)
	if err != nil {
		return "", fmt.Errorf("load listeners: %w", err)
	}
	pools, err := g.store.ListPools(ctx, clusterID)
	if err != nil {
		return "", fmt.Errorf("load pools: %w", err)
	}
	rules, err := g.store.ListFirewallRules(ctx, clusterID)
	if err != nil {
		return "", fmt.Errorf("load firewall rules: %w", err)
	}

	poolsByID := make(map[int64]*fleet.Pool, len(pools))
	for _, p := range pools {
		poolsByID[p.ID] = p
	}

	b := NewConfigBuilder()
	b.Banner(fmt.Sprintf("Managed by Harrier for cluster %q.", cluster.Name))
	b.Banner("Listener and pool sections only. Global and defaults sections are")
	b.Banner("owned by the agent's local configuration and are never emitted.")

	for _, l := range listeners {
		b.Blank()
		g.emitListener(b, l, poolsByID, rules)
	}
	for _, p := range pools {
		b.Blank()
		if err := g.emitPool(ctx, b, p); err != nil {
			return "", err
		}
	}

	g.log.Debug("generated configuration",
		"cluster", cluster.Name, "listeners", len(listeners), "pools", len(pools))
	return b.Build(), nil
}

func (g *Generator) emitListener(b *ConfigBuilder, l *fleet.Listener, pools map[int64]*fleet.Pool, rules []*fleet.FirewallRule) {
	b.Section("frontend", l.Name)
	g.emitBind(b, l)
	b.Directive("mode %s", l.Mode)

	if l.DefaultPoolID != nil {
		if pool, ok := pools[*l.DefaultPoolID]; ok {
			if pool.Mode != l.Mode {
				b.Warning("mode mismatch: pool %q is %s but listener is %s",
					pool.Name, pool.Mode, l.Mode)
			}
			b.Directive("default_backend %s", pool.Name)
		} else {
			b.Warning("default pool %d not found in this cluster", *l.DefaultPoolID)
		}
	}

	if l.ClientTimeout > 0 {
		b.Directive("timeout client %dms", l.ClientTimeout)
	}
	if l.MaxConn > 0 {
		b.Directive("maxconn %d", l.MaxConn)
	}

	if rl := l.RateLimit; rl != nil && rl.RequestsPerWindow > 0 {
		window := rl.WindowSeconds
		if window <= 0 {
			window = 10
		}
		b.Directive("stick-table type ip size 100k expire %ds store http_req_rate(%ds)", window*2, window)
		b.Directive("http-request track-sc0 src")
		b.Directive("http-request deny deny_status 429 if { sc_http_req_rate(0) gt %d }", rl.RequestsPerWindow)
	}

	if l.Compression {
		b.Directive("compression algo gzip")
		b.Directive("compression type text/html text/plain text/css application/json application/javascript")
	}
	if l.MonitorURI != "" {
		b.Directive("monitor-uri %s", l.MonitorURI)
	}
	for _, raw := range l.RawDirectives {
		b.Directive("%s", raw)
	}

	// Listener-scoped rules first, cluster-global after; both keep the
	// store's (priority, name) order.
	for _, r := range rules {
		if containsID(r.ListenerIDs, l.ID) {
			g.emitRule(b, r)
		}
	}
	for _, r := range rules {
		if r.ClusterScope && len(r.ListenerIDs) == 0 {
			g.emitRule(b, r)
		}
	}
}

func (g *Generator) emitRule(b *ConfigBuilder, r *fleet.FirewallRule) {
	for _, line := range CompileRule(r) {
		b.Directive("%s", line)
	}
}

// emitBind writes the single bind line of a listener. Multi-cert
// listeners bind with every certificate clause; the legacy single-cert
// field binds on the legacy TLS port; everything else is a plain bind.
func (g *Generator) emitBind(b *ConfigBuilder, l *fleet.Listener) {
	switch {
	case len(l.CertIDs) > 0:
		crts := make([]string, len(l.CertIDs))
		for i, id := range l.CertIDs {
			crts[i] = fmt.Sprintf("crt %s/cert-%d.pem", certDir, id)
		}
		b.Directive("bind %s:%d ssl %s", l.BindAddress, l.BindPort, strings.Join(crts, " "))
	case l.CertID != nil:
		b.Directive("bind %s:%d ssl crt %s/cert-%d.pem", l.BindAddress, g.legacyTLSPort, certDir, *l.CertID)
	default:
		b.Directive("bind %s:%d", l.BindAddress, l.BindPort)
	}
}

func (g *Generator) emitPool(ctx context.Context, b *ConfigBuilder, p *fleet.Pool) error {
	members, err := g.store.ListMembers(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load members of pool %s: %w", p.Name, err)
	}

	b.Section("backend", p.Name)
	b.Directive("balance %s", p.Algorithm)
	b.Directive("mode %s", p.Mode)

	if hc := p.HealthCheck; hc != nil {
		if p.Mode == fleet.ModeHTTP && hc.Path != "" {
			method := hc.Method
			if method == "" {
				method = "GET"
			}
			b.Directive("option httpchk %s %s", method, hc.Path)
			// expect-status is http-only; emitting it in tcp mode is
			// invalid output.
			if hc.ExpectStatus > 0 {
				b.Directive("http-check expect status %d", hc.ExpectStatus)
			}
		}
		if hc.IntervalMS > 0 || hc.Rise > 0 || hc.Fall > 0 {
			parts := []string{"default-server"}
			if hc.IntervalMS > 0 {
				parts = append(parts, fmt.Sprintf("inter %dms", hc.IntervalMS))
			}
			if hc.Rise > 0 {
				parts = append(parts, fmt.Sprintf("rise %d", hc.Rise))
			}
			if hc.Fall > 0 {
				parts = append(parts, fmt.Sprintf("fall %d", hc.Fall))
			}
			b.Directive("%s", strings.Join(parts, " "))
		}
	}

	if p.ConnectTimeout > 0 {
		b.Directive("timeout connect %dms", p.ConnectTimeout)
	}
	if p.ServerTimeout > 0 {
		b.Directive("timeout server %dms", p.ServerTimeout)
	}
	if p.MaxConn > 0 {
		b.Directive("fullconn %d", p.MaxConn)
	}
	if p.CookieName != "" {
		b.Directive("cookie %s insert indirect nocache", p.CookieName)
	}
	for _, h := range p.PassHeaders {
		b.Directive("%s", h)
	}

	for _, m := range members {
		// DELETION members are omitted entirely, not commented. The row
		// stays in the store for rollback.
		if m.LastConfigStatus == fleet.StatusDeletion {
			continue
		}
		line := memberLine(p, m)
		if m.Enabled {
			b.Directive("%s", line)
		} else {
			b.Comment("disabled: %s", line)
		}
	}
	return nil
}

func memberLine(p *fleet.Pool, m *fleet.Member) string {
	addr := m.Address
	// A portless member rides the pool's implicit default port, an
	// http-mode-only form.
	if m.Port != nil {
		addr = fmt.Sprintf("%s:%d", m.Address, *m.Port)
	}
	parts := []string{"server", m.Name, addr, "check"}
	if m.Weight > 0 {
		parts = append(parts, fmt.Sprintf("weight %d", m.Weight))
	}
	if m.CheckRise > 0 {
		parts = append(parts, fmt.Sprintf("rise %d", m.CheckRise))
	}
	if m.CheckFall > 0 {
		parts = append(parts, fmt.Sprintf("fall %d", m.CheckFall))
	}
	if m.SSL {
		parts = append(parts, "ssl")
		if !m.VerifySSL {
			parts = append(parts, "verify none")
		}
	}
	if p.CookieName != "" {
		parts = append(parts, fmt.Sprintf("cookie %s", m.Name))
	}
	return strings.Join(parts, " ")
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
