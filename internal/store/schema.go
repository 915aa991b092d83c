package store

// schema is applied on every Open; every statement is idempotent so
// opening an existing database file is a no-op migration.
const schema = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	scraper_name    TEXT NOT NULL,
	scraper_version TEXT NOT NULL DEFAULT '',
	worker_count    INTEGER NOT NULL DEFAULT 0,
	seed_invocations_json TEXT NOT NULL DEFAULT '[]',
	status          TEXT NOT NULL DEFAULT 'running',
	started_at      INTEGER NOT NULL,
	ended_at        INTEGER,
	final_error     TEXT
);

CREATE TABLE IF NOT EXISTS requests (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	parent_id        INTEGER REFERENCES requests(id),
	queue_counter    INTEGER NOT NULL,
	request_type     TEXT NOT NULL,
	method           TEXT NOT NULL,
	url              TEXT NOT NULL,
	headers_json     TEXT NOT NULL DEFAULT '{}',
	cookies_json     TEXT NOT NULL DEFAULT '{}',
	body             BLOB,
	body_is_json     INTEGER NOT NULL DEFAULT 0,
	continuation     TEXT NOT NULL DEFAULT '',
	expected_type    TEXT,
	priority         INTEGER NOT NULL DEFAULT 9,
	accumulated_data_json TEXT NOT NULL DEFAULT '{}',
	aux_data_json    TEXT NOT NULL DEFAULT '{}',
	permanent_json   TEXT NOT NULL DEFAULT '{}',
	dedup_key        TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	cumulative_backoff REAL NOT NULL DEFAULT 0,
	next_ready_at    INTEGER,
	last_error       TEXT,
	is_speculative   INTEGER NOT NULL DEFAULT 0,
	speculation_func TEXT,
	speculation_id   INTEGER,
	created_at       INTEGER NOT NULL,
	started_at       INTEGER,
	completed_at     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_requests_dequeue ON requests(status, priority, queue_counter);
CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_dedup ON requests(dedup_key) WHERE dedup_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_requests_continuation_status ON requests(continuation, status);
CREATE INDEX IF NOT EXISTS idx_requests_speculation ON requests(is_speculative, speculation_func, speculation_id);
CREATE INDEX IF NOT EXISTS idx_requests_next_ready ON requests(next_ready_at);

CREATE TABLE IF NOT EXISTS responses (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id      INTEGER NOT NULL UNIQUE REFERENCES requests(id),
	status_code     INTEGER NOT NULL,
	headers_json    TEXT NOT NULL DEFAULT '{}',
	final_url       TEXT NOT NULL,
	body            BLOB,
	original_size   INTEGER NOT NULL DEFAULT 0,
	dict_id         INTEGER REFERENCES compression_dicts(id),
	warc_record_id  TEXT NOT NULL,
	continuation    TEXT NOT NULL DEFAULT '',
	speculation_outcome TEXT,
	fetched_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS archived_files (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    INTEGER NOT NULL REFERENCES requests(id),
	file_path     TEXT NOT NULL,
	original_url  TEXT NOT NULL,
	expected_type TEXT,
	file_size     INTEGER NOT NULL,
	content_hash  TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id             INTEGER NOT NULL REFERENCES requests(id),
	result_type            TEXT NOT NULL,
	data_json              TEXT NOT NULL,
	is_valid               INTEGER NOT NULL DEFAULT 1,
	validation_errors_json TEXT,
	created_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_type_valid ON results(result_type, is_valid);

CREATE TABLE IF NOT EXISTS estimates (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id          INTEGER NOT NULL REFERENCES requests(id),
	expected_types_json TEXT NOT NULL,
	min_count           INTEGER,
	max_count           INTEGER,
	created_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS errors (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id               INTEGER REFERENCES requests(id),
	error_type               TEXT NOT NULL,
	error_class              TEXT NOT NULL,
	message                  TEXT NOT NULL,
	request_url              TEXT NOT NULL,
	context_json             TEXT,
	selector                 TEXT,
	selector_type            TEXT,
	expected_min             INTEGER,
	expected_max             INTEGER,
	actual_count             INTEGER,
	model_name               TEXT,
	validation_errors_json   TEXT,
	failed_doc_json          TEXT,
	status_code              INTEGER,
	timeout_seconds          REAL,
	traceback                TEXT,
	is_resolved              INTEGER NOT NULL DEFAULT 0,
	resolved_at              INTEGER,
	resolution_notes         TEXT,
	created_at               INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_errors_type_resolved ON errors(error_type, is_resolved);

CREATE TABLE IF NOT EXISTS cached_responses (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_key    TEXT NOT NULL UNIQUE,
	status_code  INTEGER NOT NULL,
	headers_json TEXT NOT NULL DEFAULT '{}',
	body         BLOB,
	dict_id      INTEGER REFERENCES compression_dicts(id),
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cached_responses_key ON cached_responses(cache_key);

CREATE TABLE IF NOT EXISTS compression_dicts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	continuation TEXT NOT NULL,
	dict_body    BLOB NOT NULL,
	sample_count INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_compression_dicts_continuation ON compression_dicts(continuation);

CREATE TABLE IF NOT EXISTS rate_limiter_state (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	tokens               REAL NOT NULL,
	rate                 REAL NOT NULL,
	bucket_size          REAL NOT NULL,
	last_congestion_rate REAL NOT NULL,
	last_used_at         INTEGER NOT NULL,
	total_requests       INTEGER NOT NULL DEFAULT 0,
	total_successes      INTEGER NOT NULL DEFAULT 0,
	total_rate_limited   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS speculation_state (
	function_name          TEXT PRIMARY KEY,
	highest_successful_id   INTEGER NOT NULL DEFAULT 0,
	consecutive_failures    INTEGER NOT NULL DEFAULT 0,
	current_ceiling         INTEGER NOT NULL DEFAULT 0,
	stopped                 INTEGER NOT NULL DEFAULT 0,
	observation_date        TEXT,
	highest_observed        INTEGER,
	largest_observed_gap    INTEGER
);
`
