// SPDX-License-Identifier: MIT

package scheduler

const orchestratorSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	kind           TEXT NOT NULL,
	payload_json   TEXT NOT NULL DEFAULT '{}',
	priority       INTEGER NOT NULL DEFAULT 0,
	resource       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'queued',
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	lease_owner    TEXT,
	lease_utc      TEXT,
	heartbeat_utc  TEXT,
	created_utc    TEXT NOT NULL,
	started_utc    TEXT,
	ended_utc      TEXT,
	error_code     TEXT,
	error_msg      TEXT,
	not_before_utc TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(status, resource, priority DESC, id);
CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind, status);

CREATE TABLE IF NOT EXISTS job_events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id   INTEGER NOT NULL,
	ts_utc   TEXT NOT NULL,
	event    TEXT NOT NULL,
	detail   TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);

CREATE TABLE IF NOT EXISTS job_checkpoints (
	job_id      INTEGER PRIMARY KEY,
	ckpt_json   TEXT NOT NULL,
	updated_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resource_locks (
	name      TEXT PRIMARY KEY,
	owner     TEXT,
	lease_utc TEXT,
	ttl_sec   INTEGER NOT NULL DEFAULT 300
);

CREATE TABLE IF NOT EXISTS orchestrator_settings (
	key         TEXT PRIMARY KEY,
	value_json  TEXT NOT NULL,
	updated_utc TEXT NOT NULL
);
`
