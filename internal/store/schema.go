package store

// schema is applied on every open. Tables are created idempotently; schema
// evolution beyond that is an administrative concern, not handled here.
const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	state            TEXT NOT NULL,
	input_params     TEXT NOT NULL DEFAULT '{}',
	total_steps      INTEGER NOT NULL DEFAULT 0,
	current_step     INTEGER NOT NULL DEFAULT 0,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	completed_at     INTEGER
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id              TEXT PRIMARY KEY,
	workflow_id     TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	step_number     INTEGER NOT NULL,
	state_data      BLOB NOT NULL,
	validation_hash TEXT NOT NULL,
	can_resume_from INTEGER NOT NULL DEFAULT 1,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow
	ON checkpoints(workflow_id, step_number);

CREATE TABLE IF NOT EXISTS validation_results (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	passed      INTEGER NOT NULL,
	issues      TEXT NOT NULL DEFAULT '[]',
	error_count INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_results_workflow
	ON validation_results(workflow_id, created_at);

CREATE TABLE IF NOT EXISTS recommendations (
	id            TEXT PRIMARY KEY,
	validation_id TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	issue_code    TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	fixable       INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    INTEGER NOT NULL,
	applied_at    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_recommendations_status
	ON recommendations(status, created_at);
`
