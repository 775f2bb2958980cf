// Package fleet defines the entity model for the load balancer control
// plane: clusters of agents, the listeners and pools they serve, WAF
// rules, certificates, and the versioned configuration snapshots that
// tie them together.
package fleet

import (
	"time"
)

// Mode is the protocol mode of a listener or pool.
type Mode string

const (
	ModeHTTP Mode = "http"
	ModeTCP  Mode = "tcp"
)

// ConfigStatus tags an entity with the state of its latest staged change.
type ConfigStatus string

const (
	StatusApplied ConfigStatus = "APPLIED"
	StatusPending ConfigStatus = "PENDING"
	// StatusDeletion marks a member that is still present in the store
	// but must be omitted from the next compiled output.
	StatusDeletion ConfigStatus = "DELETION"
)

// ConnectionStatus reflects agent heartbeat freshness for a cluster.
type ConnectionStatus string

const (
	ConnUp      ConnectionStatus = "UP"
	ConnDown    ConnectionStatus = "DOWN"
	ConnUnknown ConnectionStatus = "UNKNOWN"
)

// Cluster is a named target for one configuration file, served by a
// pool of polling agents.
type Cluster struct {
	ID               int64
	Name             string
	AgentPool        string
	ConnectMode      string
	ConnectionStatus ConnectionStatus
	LastConnected    *time.Time
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RateLimit is a listener-level request rate cap.
type RateLimit struct {
	RequestsPerWindow int `json:"requests_per_window"`
	WindowSeconds     int `json:"window_seconds"`
}

// Listener is a frontend: a bind address/port and its routing
// configuration.
//
// CertID is the legacy single-certificate reference kept for backward
// compatibility; CertIDs is the preferred multi-certificate list. The
// generator prefers CertIDs and only falls back to the legacy bind
// when the list is empty.
type Listener struct {
	ID            int64
	ClusterID     int64
	Name          string
	BindAddress   string
	BindPort      int
	Mode          Mode
	CertID        *int64
	CertIDs       []int64
	DefaultPoolID *int64
	MaxConn       int
	ClientTimeout int // milliseconds, 0 = omit
	RateLimit     *RateLimit
	Compression   bool
	MonitorURI    string
	// RawDirectives are complete ACL/redirect/header/route lines stored
	// verbatim and passed through to the generated output.
	RawDirectives    []string
	LastConfigStatus ConfigStatus
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HealthCheck holds pool health-check parameters.
type HealthCheck struct {
	Method       string `json:"method,omitempty"` // GET, HEAD, OPTIONS
	Path         string `json:"path,omitempty"`
	IntervalMS   int    `json:"interval_ms,omitempty"`
	Rise         int    `json:"rise,omitempty"`
	Fall         int    `json:"fall,omitempty"`
	ExpectStatus int    `json:"expect_status,omitempty"` // http mode only
}

// Pool is a backend: a named group of members with a balancing policy.
type Pool struct {
	ID             int64
	ClusterID      int64
	Name           string
	Algorithm      string // roundrobin, leastconn, source, uri
	Mode           Mode
	HealthCheck    *HealthCheck
	ConnectTimeout int // milliseconds, 0 = omit
	ServerTimeout  int // milliseconds, 0 = omit
	MaxConn        int
	// CookieName enables cookie persistence when set.
	CookieName string
	// PassHeaders are complete http-request set-header lines passed
	// through verbatim.
	PassHeaders      []string
	LastConfigStatus ConfigStatus
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DefaultMemberPort is the sentinel recorded when a member line omits
// its port, meaning "use the pool's implicit default". Valid only when
// the pool mode is http.
const DefaultMemberPort = 0

// Member is one server entry inside a pool. A nil Port means "use the
// pool's implicit default port" and is only valid in http mode.
type Member struct {
	ID        int64
	PoolID    int64
	Name      string
	Address   string
	Port      *int
	Weight    int
	CheckRise int // health-check override, 0 = inherit
	CheckFall int
	SSL       bool
	VerifySSL bool
	Enabled   bool
	// LastConfigStatus may additionally be StatusDeletion: the row is
	// kept for rollback but omitted entirely from compiled output.
	LastConfigStatus ConfigStatus
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Certificate holds PEM content plus parsed metadata. A nil ClusterID
// means global scope.
type Certificate struct {
	ID        int64
	ClusterID *int64
	Name      string
	PEM       string
	Chain     string
	Domains   []string
	Issuer    string
	NotAfter  *time.Time
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VersionStatus is the lifecycle state of a ConfigVersion.
type VersionStatus string

const (
	VersionPending VersionStatus = "PENDING"
	VersionApplied VersionStatus = "APPLIED"
)

// ConfigVersion is one immutable, checksummed compiled-text snapshot
// for one cluster. At most one row per cluster is APPLIED-and-active.
//
// Name follows the wire format {entity_type}-{entity_id}-{action}-{unix_time}
// (bulk imports use bulk-import-{unix_time}); downstream code parses it,
// so it must be preserved bit for bit.
type ConfigVersion struct {
	ID        int64
	ClusterID int64
	Name      string
	Content   string
	Checksum  string
	Status    VersionStatus
	Active    bool
	// Metadata holds the JSON-encoded entity snapshot used by rollback.
	Metadata  string
	CreatedBy string
	CreatedAt time.Time
	AppliedAt *time.Time
}
