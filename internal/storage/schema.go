// Package storage owns the on-disk SQLite schema for a tenant's two
// databases: index.db (items/files/item_data/tags/jobs) and user_data.db
// (bookmarks, attached under the "user_data" schema alias so internal/pql's
// generated SQL can reference user_data.bookmarks without a second
// connection). Grounded on the teacher's internal/store/sqlite_bm25.go raw
// SQL + modernc.org/sqlite idiom, generalized from a single BM25 index file
// into the gateway's full relational model from spec.md §3.
package storage

// migrations is applied in order inside a flock-guarded critical section.
// Each entry is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) so re-running the full set against an up-to-date database is a
// no-op, matching the teacher's own "migrations never roll back" approach.
var indexMigrations = []string{indexSchemaV1}

var userDataMigrations = []string{userDataSchemaV1}

// indexSchemaV1 implements spec.md §3's item/file/item_data model.
//
// Invariants enforced here:
//   - items.sha256 is UNIQUE: one item row per distinct content hash.
//   - extracted_text/embeddings/thumbnails/frames share their id with the
//     owning item_data row (1:1 companion tables keyed by item_data.id).
//   - file_scans is "open" iff end_time IS NULL.
//   - data_jobs.completed is constrained to {-1, 0, 1} by a CHECK clause.
//
// item_data.source_id IS NULL iff item_data.is_origin = 1 has no SQL
// constraint; insertItemData's callers in internal/extract/output.go pass
// the two together.
const indexSchemaV1 = `
CREATE TABLE IF NOT EXISTS items (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sha256      TEXT NOT NULL UNIQUE,
	md5         TEXT,
	type        TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	width       INTEGER,
	height      INTEGER,
	duration    REAL,
	time_added  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id       INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	path          TEXT NOT NULL UNIQUE,
	filename      TEXT NOT NULL,
	mime_type     TEXT,
	time_added    TEXT NOT NULL,
	last_modified TEXT NOT NULL,
	available     INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_files_item_id ON files(item_id);

CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
	path, filename, content='files', content_rowid='id'
);

CREATE TABLE IF NOT EXISTS setters (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS item_data (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id     INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	setter_id   INTEGER NOT NULL REFERENCES setters(id),
	data_type   TEXT NOT NULL, -- tags | text | clip | text-embedding
	source_id   INTEGER REFERENCES item_data(id) ON DELETE CASCADE,
	is_origin   INTEGER NOT NULL DEFAULT 0,
	time_added  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_item_data_item_id ON item_data(item_id);
CREATE INDEX IF NOT EXISTS idx_item_data_source_id ON item_data(source_id);
CREATE INDEX IF NOT EXISTS idx_item_data_setter_type ON item_data(setter_id, data_type);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace TEXT NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE(namespace, name)
);

CREATE TABLE IF NOT EXISTS tags_items (
	tag_id       INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	item_data_id INTEGER NOT NULL REFERENCES item_data(id) ON DELETE CASCADE,
	confidence   REAL NOT NULL DEFAULT 1.0,
	PRIMARY KEY (tag_id, item_data_id)
);
CREATE INDEX IF NOT EXISTS idx_tags_items_item_data ON tags_items(item_data_id);

CREATE TABLE IF NOT EXISTS extracted_text (
	id          INTEGER PRIMARY KEY REFERENCES item_data(id) ON DELETE CASCADE,
	file_id     INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	language    TEXT,
	confidence  REAL
);
CREATE VIRTUAL TABLE IF NOT EXISTS extracted_text_fts USING fts5(
	text, content='extracted_text', content_rowid='id'
);

CREATE TABLE IF NOT EXISTS embeddings (
	id       INTEGER PRIMARY KEY REFERENCES item_data(id) ON DELETE CASCADE,
	vector   BLOB NOT NULL,
	dims     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS thumbnails (
	id       INTEGER PRIMARY KEY REFERENCES item_data(id) ON DELETE CASCADE,
	path     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS frames (
	id       INTEGER PRIMARY KEY REFERENCES item_data(id) ON DELETE CASCADE,
	path     TEXT NOT NULL,
	frame_index INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS folders (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	path     TEXT NOT NULL UNIQUE,
	included INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS file_scans (
	id         TEXT PRIMARY KEY,
	folder_id  INTEGER REFERENCES folders(id) ON DELETE CASCADE,
	start_time TEXT NOT NULL,
	end_time   TEXT,
	new_items  INTEGER NOT NULL DEFAULT 0,
	changed    INTEGER NOT NULL DEFAULT 0,
	unchanged  INTEGER NOT NULL DEFAULT 0,
	false_changes INTEGER NOT NULL DEFAULT 0,
	errors     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_file_scans_open ON file_scans(folder_id) WHERE end_time IS NULL;

CREATE TABLE IF NOT EXISTS data_jobs (
	id          TEXT PRIMARY KEY,
	setter_id   INTEGER NOT NULL REFERENCES setters(id),
	model       TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	completed_at TEXT,
	completed   INTEGER NOT NULL DEFAULT 0 CHECK (completed IN (-1, 0, 1)),
	total       INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS data_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL REFERENCES data_jobs(id) ON DELETE CASCADE,
	item_id    INTEGER REFERENCES items(id) ON DELETE CASCADE,
	message    TEXT NOT NULL,
	time       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_log_job ON data_log(job_id);
`

// userDataSchemaV1 implements the bookmarks table from spec.md §3. It lives
// in its own file (user_data.db) because it holds per-user state the main
// index database does not — a reindex of index.db must never touch it.
const userDataSchemaV1 = `
CREATE TABLE IF NOT EXISTS bookmarks (
	user       TEXT NOT NULL,
	namespace  TEXT NOT NULL DEFAULT 'default',
	sha256     TEXT NOT NULL,
	time_added TEXT NOT NULL,
	metadata   TEXT,
	PRIMARY KEY (user, namespace, sha256)
);
CREATE INDEX IF NOT EXISTS idx_bookmarks_sha256 ON bookmarks(sha256);
`
