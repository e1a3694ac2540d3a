package writer

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func dbPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "index.db"), filepath.Join(dir, "user_data.db")
}

func insertItem(ctx context.Context, conn *sql.DB, sha256 string) (any, error) {
	res, err := conn.ExecContext(ctx,
		`INSERT INTO items (sha256, time_added) VALUES (?, ?)`, sha256, "2026-01-01T00:00:00")
	if err != nil {
		return nil, err
	}
	return res.LastInsertId()
}

// TestWriterSerialization exercises spec.md §8's "Writer serialization"
// testable property: many concurrent Call invocations against the same
// (index_db, user_data_db) pair never interleave, and every row is
// committed exactly once.
func TestWriterSerialization(t *testing.T) {
	indexPath, userDataPath := dbPaths(t)
	sup := NewSupervisor()
	defer sup.Close()

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sup.Call(context.Background(), indexPath, userDataPath, func(ctx context.Context, conn *sql.DB) (any, error) {
				return insertItem(ctx, conn, sha256For(i))
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	_, err := sup.Call(context.Background(), indexPath, userDataPath, func(ctx context.Context, conn *sql.DB) (any, error) {
		var count int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
			return nil, err
		}
		require.Equal(t, n, count)
		return nil, nil
	})
	require.NoError(t, err)
}

func sha256For(i int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 64)
	for j := range b {
		b[j] = hex[(i+j)%16]
	}
	return string(b)
}

// TestWriterRetry_RespawnsOnStaleSupervisor grounds scenario 6: a writer
// whose mailbox is no longer being drained (simulated by closing it
// directly, bypassing Supervisor.Close) must not wedge subsequent calls —
// the supervisor detects the failed delivery and respawns.
func TestWriterRetry_RespawnsOnStaleSupervisor(t *testing.T) {
	indexPath, userDataPath := dbPaths(t)
	sup := NewSupervisor()
	defer sup.Close()

	_, err := sup.Call(context.Background(), indexPath, userDataPath, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := insertItem(ctx, conn, sha256For(0))
		return nil, err
	})
	require.NoError(t, err)

	// Force the underlying actor into a state where its mailbox no
	// longer accepts new work, simulating a process that has wedged.
	sup.mu.Lock()
	stale := sup.actors[key{indexPath, userDataPath}]
	sup.mu.Unlock()
	close(stale.mailbox)
	<-stale.done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = sup.Call(ctx, indexPath, userDataPath, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := insertItem(ctx, conn, sha256For(1))
		return nil, err
	})
	require.NoError(t, err, "supervisor must respawn a fresh actor rather than hang on a stale one")
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/panoptigo/gateway/internal/writer.(*Actor).run"),
		goleak.IgnoreTopFunction("github.com/panoptigo/gateway/internal/writer.(*Supervisor).healthLoop"),
	)
}
