package extract

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"

	"github.com/surgebase/porter2"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
	"github.com/panoptigo/gateway/internal/storage"
)

// TagGroup is one parsed tags-handler output group: a namespace plus
// {tag: score} pairs, spec.md §4.3's
// "[{namespace, tags: [[sub_ns, {tag: score}]], mcut, rating_severity,
// metadata, metadata_score}]" shape, flattened to what the aggregation
// step actually needs.
type TagGroup struct {
	Namespace      string
	SubNamespace   string
	Scores         map[string]float64 // tag name -> score
	RatingSeverity int
	Metadata       map[string]any
	MetadataScore  float64
}

// AggregatedTags is the per-sub-namespace max-score tag set produced by
// folding multiple TagGroups together.
type AggregatedTags struct {
	// Scores is the max score seen per tag name within one sub-namespace.
	Scores map[string]float64
}

// AggregateTagGroups folds groups sharing the same sub-namespace, keeping
// the max score per tag name, spec.md's "per sub-namespace: max score per
// tag" rule — except where groups carry a rating_severity, in which case
// only the group(s) at the highest severity seen for that sub-namespace
// contribute scores, spec.md's "ratings collapse via severity order" rule.
func AggregateTagGroups(groups []TagGroup) map[string]*AggregatedTags {
	maxSeverity := map[string]int{}
	for _, g := range groups {
		if g.RatingSeverity > maxSeverity[g.SubNamespace] {
			maxSeverity[g.SubNamespace] = g.RatingSeverity
		}
	}

	out := map[string]*AggregatedTags{}
	for _, g := range groups {
		if g.RatingSeverity > 0 && g.RatingSeverity < maxSeverity[g.SubNamespace] {
			continue
		}
		agg, ok := out[g.SubNamespace]
		if !ok {
			agg = &AggregatedTags{Scores: map[string]float64{}}
			out[g.SubNamespace] = agg
		}
		for tag, score := range g.Scores {
			if cur, ok := agg.Scores[tag]; !ok || score > cur {
				agg.Scores[tag] = score
			}
		}
	}
	return out
}

// MCutResult is the outcome of applying the maximum-cut thresholding
// algorithm to a descending-sorted score list: spec.md scenario
// "[0.9, 0.85, 0.4, 0.3] -> kept=[0.9,0.85], confidence=0.625" — the cut
// lands at the largest gap between consecutive sorted scores, and the
// synthetic row's confidence is the midpoint of the two values straddling
// that gap.
type MCutResult struct {
	Kept       []string // tag names above the cut, in descending-score order
	Confidence float64
}

// ComputeMCut finds the largest gap between consecutive descending scores
// and returns the tags above it plus the straddling-midpoint confidence.
// A single-entry or empty input has no gap to cut at; ComputeMCut returns
// every tag with confidence equal to the lone score (or 0 for empty).
func ComputeMCut(scores map[string]float64) MCutResult {
	type pair struct {
		tag   string
		score float64
	}
	pairs := make([]pair, 0, len(scores))
	for t, s := range scores {
		pairs = append(pairs, pair{t, s})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	if len(pairs) <= 1 {
		kept := make([]string, len(pairs))
		conf := 0.0
		for i, p := range pairs {
			kept[i] = p.tag
			conf = p.score
		}
		return MCutResult{Kept: kept, Confidence: conf}
	}

	maxGap := -1.0
	cutIdx := 0
	for i := 0; i < len(pairs)-1; i++ {
		gap := pairs[i].score - pairs[i+1].score
		if gap > maxGap {
			maxGap = gap
			cutIdx = i
		}
	}

	kept := make([]string, cutIdx+1)
	for i := 0; i <= cutIdx; i++ {
		kept[i] = pairs[i].tag
	}
	confidence := (pairs[cutIdx].score + pairs[cutIdx+1].score) / 2
	return MCutResult{Kept: kept, Confidence: confidence}
}

// WriteTagOutput writes the aggregated tag rows plus the three synthetic
// text rows spec.md §4.3 describes (concatenated string, MCut-filtered
// variant, serialized metadata blob) for one item/setter pair, through
// the given connection (called from inside a writer actor transaction).
func WriteTagOutput(ctx context.Context, conn *sql.DB, itemID, setterID int64, groups []TagGroup) error {
	aggregated := AggregateTagGroups(groups)

	originID, err := insertItemData(ctx, conn, itemID, setterID, "tags", nil, true)
	if err != nil {
		return err
	}

	var allTagNames []string
	for subNS, agg := range aggregated {
		for tag, score := range agg.Scores {
			if err := insertTag(ctx, conn, originID, subNS, tag, score); err != nil {
				return err
			}
			allTagNames = append(allTagNames, tag)
		}

		mcut := ComputeMCut(agg.Scores)
		mcutText := strings.Join(mcut.Kept, " ")
		if err := writeSyntheticTextRow(ctx, conn, itemID, setterID, originID,
			subNS+"-mcut", mcutText, mcut.Confidence); err != nil {
			return err
		}
	}

	sort.Strings(allTagNames)
	concatenated := strings.Join(allTagNames, " ")
	mainNS := ""
	if len(groups) > 0 {
		mainNS = groups[0].Namespace
	}
	if err := writeSyntheticTextRow(ctx, conn, itemID, setterID, originID, mainNS, concatenated, 1.0); err != nil {
		return err
	}

	if blob, confidence, ok := serializeGroupMetadata(groups); ok {
		if err := writeSyntheticTextRow(ctx, conn, itemID, setterID, originID, mainNS+"-metadata", blob, confidence); err != nil {
			return err
		}
	}

	return nil
}

// serializeGroupMetadata folds every group's metadata map into one JSON
// blob (keyed by sub-namespace, empty metadata omitted), confidence set to
// the highest metadata_score seen across groups — spec.md §4.3's third
// synthetic text row, "one serialized metadata blob".
func serializeGroupMetadata(groups []TagGroup) (blob string, confidence float64, ok bool) {
	merged := map[string]any{}
	for _, g := range groups {
		if len(g.Metadata) == 0 {
			continue
		}
		merged[g.SubNamespace] = g.Metadata
		if g.MetadataScore > confidence {
			confidence = g.MetadataScore
		}
	}
	if len(merged) == 0 {
		return "", 0, false
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return "", 0, false
	}
	if confidence == 0 {
		confidence = 1.0
	}
	return string(b), confidence, true
}

func insertItemData(ctx context.Context, conn *sql.DB, itemID, setterID int64, dataType string, sourceID *int64, isOrigin bool) (int64, error) {
	origin := 0
	if isOrigin {
		origin = 1
	}
	res, err := conn.ExecContext(ctx,
		`INSERT INTO item_data (item_id, setter_id, data_type, source_id, is_origin, time_added) VALUES (?, ?, ?, ?, ?, ?)`,
		itemID, setterID, dataType, sourceID, origin, storage.Now())
	if err != nil {
		return 0, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return res.LastInsertId()
}

func insertTag(ctx context.Context, conn *sql.DB, itemDataID int64, namespace, name string, confidence float64) error {
	var tagID int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM tags WHERE namespace = ? AND name = ?`, namespace, name).Scan(&tagID)
	if err == sql.ErrNoRows {
		res, insertErr := conn.ExecContext(ctx, `INSERT INTO tags (namespace, name) VALUES (?, ?)`, namespace, name)
		if insertErr != nil {
			return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, insertErr)
		}
		tagID, _ = res.LastInsertId()
	} else if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO tags_items (tag_id, item_data_id, confidence) VALUES (?, ?, ?)`,
		tagID, itemDataID, roundConfidence(confidence))
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return nil
}

// writeSyntheticTextRow inserts a derived item_data row of type "text"
// plus its extracted_text companion, stemming the content with
// surgebase/porter2 before it lands in the FTS5 table — spec.md §4.3's
// text-dedup-and-stem text handler stack.
func writeSyntheticTextRow(ctx context.Context, conn *sql.DB, itemID, setterID, sourceID int64, language, text string, confidence float64) error {
	dataID, err := insertItemData(ctx, conn, itemID, setterID, "text", &sourceID, false)
	if err != nil {
		return err
	}

	stemmed := stemText(text)
	_, err = conn.ExecContext(ctx,
		`INSERT INTO extracted_text (id, file_id, text, language, confidence)
		 SELECT ?, f.id, ?, ?, ? FROM files f WHERE f.item_id = ? LIMIT 1`,
		dataID, stemmed, language, roundConfidence(confidence), itemID)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	_, err = conn.ExecContext(ctx,
		`INSERT INTO extracted_text_fts (rowid, text) VALUES (?, ?)`, dataID, stemmed)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return nil
}

func stemText(text string) string {
	words := strings.Fields(text)
	stemmed := make([]string, len(words))
	for i, w := range words {
		stemmed[i] = porter2.Stem(strings.ToLower(w))
	}
	return strings.Join(stemmed, " ")
}

// DedupTextEntries keeps entries of at least 3 characters, deduped by
// lower-cased content, preserving first-seen order — spec.md §4.3's text
// handler rule.
func DedupTextEntries(entries []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		if len(e) < 3 {
			continue
		}
		key := strings.ToLower(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func roundConfidence(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}

// WriteEmbeddingOutput decodes an NPY buffer and writes one embeddings row
// per source row: a 1-D (or single-row 2-D) array produces exactly one
// row; a multi-row 2-D array (text-embedding setters) produces N new
// item_data rows, one per row, per spec.md §4.3's "text-embedding
// requires the source item_data.id and produces N rows from a 2-D NPY"
// rule. sourceID is nil for an origin embedding computed directly from
// the item's file content (e.g. a clip image embedding); non-nil when
// the embedding derives from another item_data row (e.g. text-embedding
// derived from an extracted_text row), matching the schema's
// source_id-iff-not-origin invariant.
func WriteEmbeddingOutput(ctx context.Context, conn *sql.DB, itemID, setterID int64, sourceID *int64, dataType string, npyBytes []byte) error {
	arr, err := DecodeNpy(npyBytes)
	if err != nil {
		return err
	}

	for row := 0; row < arr.Rows; row++ {
		vec := arr.Data[row*arr.Cols : (row+1)*arr.Cols]

		dataID, err := insertItemData(ctx, conn, itemID, setterID, dataType, sourceID, sourceID == nil)
		if err != nil {
			return err
		}
		blob := make([]byte, len(vec)*4)
		for i, f := range vec {
			putFloat32LE(blob[i*4:], f)
		}
		_, err = conn.ExecContext(ctx,
			`INSERT INTO embeddings (id, vector, dims) VALUES (?, ?, ?)`, dataID, blob, arr.Cols)
		if err != nil {
			return gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
		}
	}
	return nil
}

func putFloat32LE(b []byte, f float32) {
	bits := float32Bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
