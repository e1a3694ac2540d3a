package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure-Go driver; matches the teacher's store package

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// TimeFormat is the canonical timestamp layout used across every table:
// YYYY-MM-DDTHH:MM:SS, matching spec.md §3's wire format for time columns.
const TimeFormat = "2006-01-02T15:04:05"

// Now renders time.Now() in the schema's canonical format.
func Now() string { return time.Now().UTC().Format(TimeFormat) }

// DB bundles the opened index.db connection with user_data.db attached
// under the "user_data" schema alias, so a single *sql.DB serves every PQL
// query internal/pql compiles (which references both "items"/"files" and
// "user_data.bookmarks" in one statement).
type DB struct {
	Conn          *sql.DB
	IndexPath     string
	UserDataPath  string
}

// Open creates (if needed) and migrates both databases for one tenant, then
// returns a DB with user_data.db ATTACHed. Migration runs inside a
// gofrs/flock-guarded critical section: this only protects the one-time
// schema-creation race between concurrently starting processes, not writer
// concurrency during normal operation (internal/writer owns that).
func Open(ctx context.Context, indexPath, userDataPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	if err := os.MkdirAll(filepath.Dir(userDataPath), 0o755); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}

	lockPath := indexPath + ".migrate.lock"
	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeInternal, err)
	}
	if !locked {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeInternal, "could not acquire migration lock", nil)
	}
	defer lock.Unlock()

	if err := migrateFile(indexPath, indexMigrations); err != nil {
		return nil, err
	}
	if err := migrateFile(userDataPath, userDataMigrations); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", indexPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeCorruptDatabase, err)
	}
	// Single shared connection: the writer actor serializes all mutations
	// anyway, and SQLite's WAL mode lets readers proceed concurrently on
	// other connections opened for query-only use.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE %q AS user_data", userDataPath)); err != nil {
		conn.Close()
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeCorruptDatabase, err)
	}

	slog.Info("storage opened", slog.String("index_db", indexPath), slog.String("user_data_db", userDataPath))
	return &DB{Conn: conn, IndexPath: indexPath, UserDataPath: userDataPath}, nil
}

// OpenReadOnly opens a read-only connection with user_data.db attached, for
// query paths that never need the writer actor (internal/pql result
// fetching). Callers must still route every mutation through
// internal/writer — this connection rejects writes at the SQLite level.
func OpenReadOnly(ctx context.Context, indexPath, userDataPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", indexPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeCorruptDatabase, err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE %q AS user_data", userDataPath)); err != nil {
		conn.Close()
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeCorruptDatabase, err)
	}
	return conn, nil
}

func migrateFile(path string, statements []string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeCorruptDatabase, err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return gatewayerrors.Wrap(gatewayerrors.ErrCodeCorruptDatabase, err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	if d.Conn == nil {
		return nil
	}
	return d.Conn.Close()
}
