package store

// The schema is defined once, here. The original system probed for
// column existence before queries to survive incremental migrations;
// a fresh store does not need that.
const schema = `
CREATE TABLE IF NOT EXISTS clusters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	agent_pool TEXT NOT NULL DEFAULT '',
	connect_mode TEXT NOT NULL DEFAULT 'poll',
	connection_status TEXT NOT NULL DEFAULT 'UNKNOWN',
	last_connected DATETIME,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS listeners (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster_id INTEGER NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	bind_address TEXT NOT NULL DEFAULT '0.0.0.0',
	bind_port INTEGER NOT NULL,
	mode TEXT NOT NULL DEFAULT 'http',
	cert_id INTEGER,
	cert_ids TEXT NOT NULL DEFAULT '[]',
	default_pool_id INTEGER,
	max_conn INTEGER NOT NULL DEFAULT 0,
	client_timeout INTEGER NOT NULL DEFAULT 0,
	rate_limit TEXT,
	compression INTEGER NOT NULL DEFAULT 0,
	monitor_uri TEXT NOT NULL DEFAULT '',
	raw_directives TEXT NOT NULL DEFAULT '[]',
	last_config_status TEXT NOT NULL DEFAULT 'APPLIED',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(cluster_id, name)
);
CREATE INDEX IF NOT EXISTS idx_listeners_cluster ON listeners(cluster_id);

CREATE TABLE IF NOT EXISTS pools (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster_id INTEGER NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	algorithm TEXT NOT NULL DEFAULT 'roundrobin',
	mode TEXT NOT NULL DEFAULT 'http',
	health_check TEXT,
	connect_timeout INTEGER NOT NULL DEFAULT 0,
	server_timeout INTEGER NOT NULL DEFAULT 0,
	max_conn INTEGER NOT NULL DEFAULT 0,
	cookie_name TEXT NOT NULL DEFAULT '',
	pass_headers TEXT NOT NULL DEFAULT '[]',
	last_config_status TEXT NOT NULL DEFAULT 'APPLIED',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(cluster_id, name)
);
CREATE INDEX IF NOT EXISTS idx_pools_cluster ON pools(cluster_id);

CREATE TABLE IF NOT EXISTS members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pool_id INTEGER NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	address TEXT NOT NULL,
	port INTEGER,
	weight INTEGER NOT NULL DEFAULT 1,
	check_rise INTEGER NOT NULL DEFAULT 0,
	check_fall INTEGER NOT NULL DEFAULT 0,
	ssl INTEGER NOT NULL DEFAULT 0,
	verify_ssl INTEGER NOT NULL DEFAULT 1,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_config_status TEXT NOT NULL DEFAULT 'APPLIED',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(pool_id, name)
);
CREATE INDEX IF NOT EXISTS idx_members_pool ON members(pool_id);

CREATE TABLE IF NOT EXISTS firewall_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id TEXT NOT NULL UNIQUE,
	cluster_id INTEGER NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 100,
	config TEXT NOT NULL,
	log_message TEXT NOT NULL DEFAULT '',
	custom_condition TEXT NOT NULL DEFAULT '',
	listener_ids TEXT NOT NULL DEFAULT '[]',
	cluster_scope INTEGER NOT NULL DEFAULT 0,
	last_config_status TEXT NOT NULL DEFAULT 'APPLIED',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(cluster_id, name)
);
CREATE INDEX IF NOT EXISTS idx_rules_cluster ON firewall_rules(cluster_id);

CREATE TABLE IF NOT EXISTS certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster_id INTEGER REFERENCES clusters(id) ON DELETE CASCADE,
	name TEXT NOT NULL UNIQUE,
	pem TEXT NOT NULL,
	chain TEXT NOT NULL DEFAULT '',
	domains TEXT NOT NULL DEFAULT '[]',
	issuer TEXT NOT NULL DEFAULT '',
	not_after DATETIME,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS config_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster_id INTEGER NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	content TEXT NOT NULL,
	checksum TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	active INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	applied_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_versions_cluster ON config_versions(cluster_id);
CREATE INDEX IF NOT EXISTS idx_versions_status ON config_versions(cluster_id, status);
`
