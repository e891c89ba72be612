package sqlite

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calendar_credentials (
		id               TEXT NOT NULL PRIMARY KEY,
		user_id          TEXT NOT NULL,
		provider_account TEXT NOT NULL,
		access_token     TEXT NOT NULL,
		refresh_token    TEXT NOT NULL,
		token_type       TEXT NOT NULL DEFAULT 'Bearer',
		expiry           TEXT NOT NULL,
		scopes           TEXT NOT NULL DEFAULT '[]',
		revoked          INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		UNIQUE (user_id, provider_account)
	)`,
	`CREATE TABLE IF NOT EXISTS meetings (
		id                 TEXT NOT NULL PRIMARY KEY,
		contract_id        TEXT NOT NULL,
		organizer_id       TEXT NOT NULL,
		participants       TEXT NOT NULL,
		candidate_slots    TEXT NOT NULL,
		status             TEXT NOT NULL CHECK (status IN ('proposed', 'conflicted', 'confirmed', 'cancelled', 'sync_failed')),
		confirmed_start    TEXT NULL,
		confirmed_end      TEXT NULL,
		confirmed_location TEXT NULL,
		external_event_id  TEXT NULL,
		flagged_at         TEXT NULL,
		flag_reason        TEXT NULL,
		cancelled_at       TEXT NULL,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_contract ON meetings (contract_id)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings (status)`,
	`CREATE TABLE IF NOT EXISTS sync_tasks (
		id              TEXT NOT NULL PRIMARY KEY,
		meeting_id      TEXT NOT NULL REFERENCES meetings (id),
		op              TEXT NOT NULL CHECK (op IN ('create', 'update', 'delete')),
		position        INTEGER NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		UNIQUE (meeting_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_tasks_due ON sync_tasks (next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id         TEXT NOT NULL PRIMARY KEY,
		meeting_id TEXT NOT NULL,
		op         TEXT NOT NULL,
		attempts   INTEGER NOT NULL,
		reason     TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notification_jobs (
		id              TEXT NOT NULL PRIMARY KEY,
		recipient       TEXT NOT NULL,
		kind            TEXT NOT NULL,
		payload         TEXT NOT NULL DEFAULT '{}',
		status          TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
		attempts        INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_jobs_due ON notification_jobs (status, next_attempt_at)`,
}
