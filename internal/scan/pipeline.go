package scan

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"mime"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
	"github.com/panoptigo/gateway/internal/storage"
	"github.com/panoptigo/gateway/internal/writer"
)

// Outcome classifies one processed file against its prior state in the
// index, spec.md §4.3's new/changed/unchanged/false-change/error buckets.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeChanged
	OutcomeUnchanged
	OutcomeFalseChange
	OutcomeError
)

// FileResult is what one worker produces for one discovered file.
type FileResult struct {
	Path    string
	Outcome Outcome
	Err     error
}

// JobConfig bundles everything a one-shot folder scan needs.
type JobConfig struct {
	Folder   FolderConfig
	FolderID int64
	Sup      *writer.Supervisor
	IndexDB  string
	UserDataDB string
	Workers  int // 0 means runtime.NumCPU()
}

// Stats is the running tally a scan job accumulates, mirroring the
// file_scans table's counters.
type Stats struct {
	New          int
	Changed      int
	Unchanged    int
	FalseChanges int
	Errors       int
}

func (s *Stats) record(o Outcome) {
	switch o {
	case OutcomeNew:
		s.New++
	case OutcomeChanged:
		s.Changed++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeFalseChange:
		s.FalseChanges++
	case OutcomeError:
		s.Errors++
	}
}

// RunJob walks cfg.Folder.Path, hashes and upserts every eligible file
// through cfg.Sup's writer actor using an errgroup.SetLimit(workers) pool
// in place of the teacher's unbounded-goroutine-per-file pattern, and
// returns the aggregate Stats. It records a file_scans row spanning the
// whole run, per spec.md §4.3's scan-session bookkeeping.
func RunJob(ctx context.Context, cfg JobConfig) (Stats, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	scanID, err := beginScan(ctx, cfg)
	if err != nil {
		return Stats{}, err
	}

	discovered, walkErrs := Walk(ctx, cfg.Folder)

	var stats Stats
	resultsMu := make(chan FileResult, workers*4)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for r := range resultsMu {
			stats.record(r.Outcome)
		}
	}()

	for f := range discovered {
		f := f
		g.Go(func() error {
			result := processFile(gctx, cfg, f)
			select {
			case resultsMu <- result:
			case <-gctx.Done():
			}
			return nil
		})
	}

	groupErr := g.Wait()
	close(resultsMu)
	<-collectDone

	if walkErr := <-walkErrs; walkErr != nil {
		stats.Errors++
	}

	if endErr := endScan(ctx, cfg, scanID, stats); endErr != nil {
		return stats, endErr
	}
	if groupErr != nil {
		return stats, gatewayerrors.Wrap(gatewayerrors.ErrCodeInternal, groupErr)
	}
	return stats, nil
}

func beginScan(ctx context.Context, cfg JobConfig) (string, error) {
	id := newScanID()
	_, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO file_scans (id, folder_id, start_time) VALUES (?, ?, ?)`,
			id, cfg.FolderID, storage.Now())
		return nil, err
	})
	if err != nil {
		return "", gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return id, nil
}

func endScan(ctx context.Context, cfg JobConfig, scanID string, stats Stats) error {
	_, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := conn.ExecContext(ctx,
			`UPDATE file_scans SET end_time = ?, new_items = ?, changed = ?, unchanged = ?, false_changes = ?, errors = ? WHERE id = ?`,
			storage.Now(), stats.New, stats.Changed, stats.Unchanged, stats.FalseChanges, stats.Errors, scanID)
		return nil, err
	})
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return nil
}

// processFile hashes one discovered file and upserts it through the
// writer actor, classifying the result against the existing files/items
// rows: a path seen before with the same hash but a different mtime is a
// "false change" (touched but not actually modified content wise); a
// different hash is a real change.
func processFile(ctx context.Context, cfg JobConfig, f DiscoveredFile) FileResult {
	hash, size, err := hashFile(f.Path)
	if err != nil {
		return FileResult{Path: f.Path, Outcome: OutcomeError, Err: err}
	}

	mtime := f.Info.ModTime().UTC().Format(storage.TimeFormat)
	mimeType := mime.TypeByExtension(filepath.Ext(f.Path))

	outcomeVal, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		return upsertFile(ctx, conn, f.Path, hash, size, mtime, mimeType)
	})
	if err != nil {
		return FileResult{Path: f.Path, Outcome: OutcomeError, Err: err}
	}
	return FileResult{Path: f.Path, Outcome: outcomeVal.(Outcome)}
}

func upsertFile(ctx context.Context, conn *sql.DB, path, hash string, size int64, mtime, mimeType string) (Outcome, error) {
	var existingItemID sql.NullInt64
	var existingHash, existingMtime string
	err := conn.QueryRowContext(ctx,
		`SELECT f.item_id, i.sha256, f.last_modified FROM files f JOIN items i ON i.id = f.item_id WHERE f.path = ?`,
		path).Scan(&existingItemID, &existingHash, &existingMtime)

	switch {
	case err == sql.ErrNoRows:
		itemID, ierr := insertOrFindItem(ctx, conn, hash, size)
		if ierr != nil {
			return OutcomeError, ierr
		}
		_, ierr = conn.ExecContext(ctx,
			`INSERT INTO files (item_id, path, filename, mime_type, time_added, last_modified, available) VALUES (?, ?, ?, ?, ?, ?, 1)`,
			itemID, path, filepath.Base(path), mimeType, storage.Now(), mtime)
		if ierr != nil {
			return OutcomeError, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, ierr)
		}
		return OutcomeNew, nil
	case err != nil:
		return OutcomeError, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}

	if existingHash == hash {
		if existingMtime != mtime {
			if _, ierr := conn.ExecContext(ctx,
				`UPDATE files SET last_modified = ? WHERE path = ?`, mtime, path); ierr != nil {
				return OutcomeError, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, ierr)
			}
			return OutcomeFalseChange, nil
		}
		return OutcomeUnchanged, nil
	}

	newItemID, ierr := insertOrFindItem(ctx, conn, hash, size)
	if ierr != nil {
		return OutcomeError, ierr
	}
	if _, ierr := conn.ExecContext(ctx,
		`UPDATE files SET item_id = ?, last_modified = ?, mime_type = ? WHERE path = ?`,
		newItemID, mtime, mimeType, path); ierr != nil {
		return OutcomeError, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, ierr)
	}
	return OutcomeChanged, nil
}

func insertOrFindItem(ctx context.Context, conn *sql.DB, hash string, size int64) (int64, error) {
	res, err := conn.ExecContext(ctx,
		`INSERT INTO items (sha256, size, time_added) VALUES (?, ?, ?) ON CONFLICT(sha256) DO NOTHING`,
		hash, size, storage.Now())
	if err != nil {
		return 0, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, _ := res.LastInsertId()
		return id, nil
	}
	var id int64
	if err := conn.QueryRowContext(ctx, `SELECT id FROM items WHERE sha256 = ?`, hash).Scan(&id); err != nil {
		return 0, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return id, nil
}

func hashFile(path string) (hash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, gatewayerrors.Wrap(gatewayerrors.ErrCodeFilePermission, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
