package sqlite

// display_name carries COLLATE NOCASE so uniqueness matches the
// case-insensitive semantics of target matching: "pc1" and "PC1" are the
// same name and must collide, not coexist.
const schema = `
CREATE TABLE IF NOT EXISTS machines (
	id             TEXT PRIMARY KEY,
	hardware_id    TEXT NOT NULL UNIQUE,
	display_name   TEXT NOT NULL UNIQUE COLLATE NOCASE,
	os_info        TEXT NOT NULL DEFAULT '',
	group_path     TEXT NOT NULL DEFAULT 'Unknown',
	token          TEXT NOT NULL DEFAULT '',
	network_origin TEXT NOT NULL DEFAULT '',
	last_contact   TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS software (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	version        TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	download_url   TEXT NOT NULL,
	silent_args    TEXT NOT NULL DEFAULT '',
	uninstall_args TEXT NOT NULL DEFAULT '',
	package_kind   TEXT NOT NULL DEFAULT 'exe'
);

CREATE TABLE IF NOT EXISTS policies (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	software_id    INTEGER NOT NULL REFERENCES software(id) ON DELETE CASCADE,
	target_kind    TEXT NOT NULL,
	target_value   TEXT NOT NULL,
	action         TEXT NOT NULL,
	schedule_start TEXT NOT NULL DEFAULT '',
	schedule_end   TEXT NOT NULL DEFAULT '',
	created_by     TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_target
	ON policies(target_kind, lower(target_value));

CREATE TABLE IF NOT EXISTS links (
	machine_id        TEXT NOT NULL REFERENCES machines(id),
	software_id       INTEGER NOT NULL REFERENCES software(id),
	status            TEXT NOT NULL,
	installed_version TEXT NOT NULL DEFAULT '',
	last_transition   TEXT NOT NULL,
	PRIMARY KEY (machine_id, software_id)
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	machine_id TEXT NOT NULL REFERENCES machines(id),
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	timestamp  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_logs_machine
	ON agent_logs(machine_id, id);
`
