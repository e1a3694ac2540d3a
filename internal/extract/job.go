package extract

import (
	"context"
	"database/sql"

	"golang.org/x/sync/errgroup"

	"github.com/panoptigo/gateway/internal/pql"
	"github.com/panoptigo/gateway/internal/pqlmodel"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
	"github.com/panoptigo/gateway/internal/storage"
	"github.com/panoptigo/gateway/internal/writer"
)

// JobConfig bundles everything one extraction job run needs, spec.md
// §4.3's "given an inference id (group/name)" entry point.
type JobConfig struct {
	Setter             string
	IndexDB            string
	UserDataDB         string
	Sup                *writer.Supervisor
	Inference          *InferenceClient
	Pool               *InferencePool
	BatchSize          int
	Threshold          float64
	SkipProcessedItems bool
	PerSetterFilter    pqlmodel.Node // additional user-configured filter, ANDed in
}

// JobStats mirrors data_jobs' processed/errors counters.
type JobStats struct {
	Total     int
	Processed int
	Errors    int
}

// Run executes one extraction job end to end: build and compile the PQL
// query, record a data_jobs row, load the model, fetch every matching row
// into memory (Total is the number fetched; there is no separate count
// query and rows are not streamed), dispatch per-row handlers, send one
// predict call per row with at most BatchSize calls in flight via
// errgroup.SetLimit, write typed outputs, log per-row errors to data_log,
// and release (unload) the model on completion.
func Run(ctx context.Context, cfg JobConfig) (JobStats, error) {
	setterID, err := resolveSetterID(ctx, cfg)
	if err != nil {
		return JobStats{}, err
	}

	query := buildExtractionQuery(cfg)
	compiled, err := pql.Compile(query)
	if err != nil {
		return JobStats{}, gatewayerrors.Wrap(gatewayerrors.ErrCodePqlInvalid, err)
	}

	jobID := newJobID()
	metadata, err := cfg.Inference.FetchMetadata(ctx, cfg.Setter)
	if err != nil {
		return JobStats{}, err
	}

	if err := beginJob(ctx, cfg, jobID, setterID, metadata.Setter); err != nil {
		return JobStats{}, err
	}

	if err := cfg.Pool.Ensure(ctx, cfg.Setter, metadata.CacheKey, metadata.LRUSize, metadata.TTLSeconds); err != nil {
		_ = finishJob(ctx, cfg, jobID, JobStats{}, -1)
		return JobStats{}, err
	}
	defer cfg.Pool.Release(ctx, cfg.Setter, metadata.CacheKey)

	rows, err := fetchRows(ctx, cfg, compiled)
	if err != nil {
		_ = finishJob(ctx, cfg, jobID, JobStats{}, -1)
		return JobStats{}, err
	}

	stats := JobStats{Total: len(rows)}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchSize)

	resultsCh := make(chan rowOutcome, len(rows))
	for _, row := range rows {
		row := row
		g.Go(func() error {
			outcome := processRow(gctx, cfg, metadata, setterID, row)
			select {
			case resultsCh <- outcome:
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()
	close(resultsCh)

	for outcome := range resultsCh {
		stats.Processed++
		if outcome.err != nil {
			stats.Errors++
			_ = logJobMessage(ctx, cfg, jobID, outcome.row.ItemID, outcome.err.Error())
		}
	}

	completed := 1
	if err := finishJob(ctx, cfg, jobID, stats, completed); err != nil {
		return stats, err
	}
	return stats, nil
}

type rowOutcome struct {
	row Row
	err error
}

func processRow(ctx context.Context, cfg JobConfig, metadata ModelMetadata, setterID int64, row Row) rowOutcome {
	payload, err := BuildInput(ctx, metadata.InputSpec, row)
	if err != nil {
		return rowOutcome{row: row, err: err}
	}
	if metadata.InputSpec.Threshold != 0 {
		payload["threshold"] = metadata.InputSpec.Threshold
	}
	if cfg.Threshold != 0 {
		payload["threshold"] = cfg.Threshold
	}

	outputs, err := cfg.Inference.Predict(ctx, cfg.Setter, metadata.CacheKey, metadata.LRUSize, metadata.TTLSeconds,
		[]PredictInput{{ItemDataID: row.ItemID, Payload: payload}})
	if err != nil {
		return rowOutcome{row: row, err: err}
	}

	_, err = cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		return nil, writeOutputs(ctx, conn, row, setterID, outputs)
	})
	return rowOutcome{row: row, err: err}
}

// writeOutputs attributes each prediction to row.ItemID, the origin item
// the PQL query enumerated (not an item_data id — no item_data row exists
// for this item/setter pair until a writer call below creates one).
func writeOutputs(ctx context.Context, conn *sql.DB, row Row, setterID int64, outputs []PredictOutput) error {
	for _, out := range outputs {
		if out.Binary != nil {
			if err := WriteEmbeddingOutput(ctx, conn, row.ItemID, setterID, nil, "clip", out.Binary); err != nil {
				return err
			}
			continue
		}
		if out.JSON == nil {
			continue
		}
		if _, ok := out.JSON["tags"]; ok {
			groups := parseTagGroups(out.JSON)
			if err := WriteTagOutput(ctx, conn, row.ItemID, setterID, groups); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseTagGroups decodes the predict contract's
// "[{namespace, tags: [[sub_ns, {tag: score}]], mcut, rating_severity,
// metadata, metadata_score}]" shape into one TagGroup per sub-namespace,
// carrying the outer group's metadata/metadata_score/rating_severity along
// for WriteTagOutput's metadata-blob and severity-collapse handling.
func parseTagGroups(payload map[string]any) []TagGroup {
	raw, ok := payload["tags"].([]any)
	if !ok {
		return nil
	}
	var groups []TagGroup
	for _, g := range raw {
		gm, ok := g.(map[string]any)
		if !ok {
			continue
		}
		namespace, _ := gm["namespace"].(string)
		metadata, _ := gm["metadata"].(map[string]any)
		metadataScore, _ := gm["metadata_score"].(float64)
		ratingSeverity := 0
		if rs, ok := gm["rating_severity"].(float64); ok {
			ratingSeverity = int(rs)
		}

		subs, ok := gm["tags"].([]any)
		if !ok {
			continue
		}
		for _, sub := range subs {
			pair, ok := sub.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			subNS, _ := pair[0].(string)
			tagScores, ok := pair[1].(map[string]any)
			if !ok {
				continue
			}
			scores := make(map[string]float64, len(tagScores))
			for tag, score := range tagScores {
				if f, ok := score.(float64); ok {
					scores[tag] = f
				}
			}
			groups = append(groups, TagGroup{
				Namespace:      namespace,
				SubNamespace:   subNS,
				Scores:         scores,
				RatingSeverity: ratingSeverity,
				Metadata:       metadata,
				MetadataScore:  metadataScore,
			})
		}
	}
	return groups
}

func buildExtractionQuery(cfg JobConfig) pqlmodel.PqlQuery {
	var filter pqlmodel.Node
	and := pqlmodel.And{}
	if cfg.SkipProcessedItems {
		and.Children = append(and.Children, pqlmodel.Not{Child: pqlmodel.ProcessedBy{Setter: cfg.Setter}})
	}
	if cfg.PerSetterFilter != nil {
		and.Children = append(and.Children, cfg.PerSetterFilter)
	}
	if len(and.Children) > 0 {
		filter = and
	}

	return pqlmodel.PqlQuery{
		Filter:   filter,
		Entity:   pqlmodel.EntityFile,
		Select:   []pqlmodel.Column{pqlmodel.ColumnPath, pqlmodel.ColumnMimeType},
		PageSize: 0,
	}
}

func fetchRows(ctx context.Context, cfg JobConfig, compiled *pql.CompiledQuery) ([]Row, error) {
	result, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		sqlRows, err := conn.QueryContext(ctx, compiled.SQL, compiled.Args...)
		if err != nil {
			return nil, err
		}
		defer sqlRows.Close()

		cols, err := sqlRows.Columns()
		if err != nil {
			return nil, err
		}

		var out []Row
		for sqlRows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := sqlRows.Scan(ptrs...); err != nil {
				return nil, err
			}
			out = append(out, rowFromScanned(cols, vals))
		}
		return out, sqlRows.Err()
	})
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return result.([]Row), nil
}

func rowFromScanned(cols []string, vals []any) Row {
	var r Row
	for i, c := range cols {
		switch c {
		case "item_id":
			if v, ok := vals[i].(int64); ok {
				r.ItemID = v
			}
		case "path":
			if v, ok := vals[i].(string); ok {
				r.FilePath = v
			}
		case "mime_type":
			if v, ok := vals[i].(string); ok {
				r.MimeType = v
			}
		}
	}
	return r
}

func resolveSetterID(ctx context.Context, cfg JobConfig) (int64, error) {
	result, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		var id int64
		err := conn.QueryRowContext(ctx, `SELECT id FROM setters WHERE name = ?`, cfg.Setter).Scan(&id)
		if err == sql.ErrNoRows {
			res, insertErr := conn.ExecContext(ctx, `INSERT INTO setters (name) VALUES (?)`, cfg.Setter)
			if insertErr != nil {
				return nil, insertErr
			}
			return res.LastInsertId()
		}
		if err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return 0, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return result.(int64), nil
}

func beginJob(ctx context.Context, cfg JobConfig, jobID string, setterID int64, model string) error {
	_, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO data_jobs (id, setter_id, model, started_at, completed) VALUES (?, ?, ?, ?, 0)`,
			jobID, setterID, model, storage.Now())
		return nil, err
	})
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return nil
}

func finishJob(ctx context.Context, cfg JobConfig, jobID string, stats JobStats, completed int) error {
	_, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := conn.ExecContext(ctx,
			`UPDATE data_jobs SET completed_at = ?, completed = ?, total = ?, processed = ?, errors = ? WHERE id = ?`,
			storage.Now(), completed, stats.Total, stats.Processed, stats.Errors, jobID)
		return nil, err
	})
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return nil
}

func logJobMessage(ctx context.Context, cfg JobConfig, jobID string, itemID int64, message string) error {
	_, err := cfg.Sup.Call(ctx, cfg.IndexDB, cfg.UserDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO data_log (job_id, item_id, message, time) VALUES (?, ?, ?, ?)`,
			jobID, itemID, message, storage.Now())
		return nil, err
	})
	return err
}

// Delete resolves the setter's distinct data types, deletes the setter
// row (cascading to item_data/tag_items via the schema's ON DELETE
// CASCADE), and sweeps orphan tags left with no tags_items reference —
// spec.md §4.3's data deletion job.
func Delete(ctx context.Context, sup *writer.Supervisor, indexDB, userDataDB, setter string) error {
	_, err := sup.Call(ctx, indexDB, userDataDB, func(ctx context.Context, conn *sql.DB) (any, error) {
		if _, err := conn.ExecContext(ctx, `DELETE FROM setters WHERE name = ?`, setter); err != nil {
			return nil, err
		}
		_, err := conn.ExecContext(ctx,
			`DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM tags_items)`)
		return nil, err
	})
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return nil
}
