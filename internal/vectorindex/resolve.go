package vectorindex

import (
	"context"
	"database/sql"
	"math"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// Embedder resolves a text or image target into a query vector; inference
// itself lives in internal/inference (a resty client against the model
// server). Keeping the interface narrow here means this package never
// imports the network stack, only consumes an already-embedded vector.
type Embedder interface {
	EmbedText(ctx context.Context, setter, text string) ([]float32, error)
	EmbedImageSha256(ctx context.Context, setter, sha256 string) ([]float32, error)
}

// Resolve walks a filter tree and returns a copy with every SimilarTo,
// SemanticTextSearch, and SemanticImageSearch node's Neighbors populated
// from idx — the preprocessing stage spec.md §4.1 requires to run before
// internal/pql.Compile, which never does I/O of its own. conn is used only
// to resolve SimilarTo's TargetSha256 into the item_data row whose vector
// seeds the search.
func Resolve(ctx context.Context, idx *Index, embedder Embedder, conn *sql.DB, node pqlmodel.Node) (pqlmodel.Node, error) {
	switch n := node.(type) {
	case nil:
		return nil, nil

	case pqlmodel.And:
		children, err := resolveChildren(ctx, idx, embedder, conn, n.Children)
		if err != nil {
			return nil, err
		}
		return pqlmodel.And{Children: children}, nil

	case pqlmodel.Or:
		children, err := resolveChildren(ctx, idx, embedder, conn, n.Children)
		if err != nil {
			return nil, err
		}
		return pqlmodel.Or{Children: children}, nil

	case pqlmodel.Not:
		child, err := Resolve(ctx, idx, embedder, conn, n.Child)
		if err != nil {
			return nil, err
		}
		return pqlmodel.Not{Child: child}, nil

	case pqlmodel.SimilarTo:
		var targetDataID int64
		err := conn.QueryRowContext(ctx, `
			SELECT d.id FROM item_data d
			JOIN items i ON i.id = d.item_id
			JOIN setters s ON s.id = d.setter_id
			WHERE i.sha256 = ? AND s.name = ? AND d.is_origin = 1
			LIMIT 1`, n.TargetSha256, n.Setter).Scan(&targetDataID)
		if err == sql.ErrNoRows {
			n.Neighbors = nil
			return n, nil
		}
		if err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeIndexFailed, err)
		}

		vec, err := vectorForItemData(ctx, conn, targetDataID)
		if err != nil {
			return nil, err
		}
		neighbors, err := idx.Search(n.Setter, vec, n.TopK)
		if err != nil {
			return nil, err
		}
		n.Neighbors = neighbors
		return n, nil

	case pqlmodel.SemanticTextSearch:
		vec := bytesToFloat32(n.Embedding)
		if n.Embed {
			embedded, err := embedder.EmbedText(ctx, n.Setter, n.Query)
			if err != nil {
				return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeInferenceFailed, err)
			}
			vec = embedded
		}
		neighbors, err := idx.Search(n.Setter, vec, n.TopK)
		if err != nil {
			return nil, err
		}
		n.Neighbors = neighbors
		return n, nil

	case pqlmodel.SemanticImageSearch:
		// Embedding arrives pre-computed (the caller already ran the image
		// through the model server); this node only resolves neighbors.
		neighbors, err := idx.Search(n.Setter, bytesToFloat32(n.Embedding), n.TopK)
		if err != nil {
			return nil, err
		}
		n.Neighbors = neighbors
		return n, nil

	default:
		return node, nil
	}
}

func resolveChildren(ctx context.Context, idx *Index, embedder Embedder, conn *sql.DB, children []pqlmodel.Node) ([]pqlmodel.Node, error) {
	out := make([]pqlmodel.Node, len(children))
	for i, c := range children {
		resolved, err := Resolve(ctx, idx, embedder, conn, c)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func vectorForItemData(ctx context.Context, conn *sql.DB, itemDataID int64) ([]float32, error) {
	var blob []byte
	if err := conn.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE id = ?`, itemDataID).Scan(&blob); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeIndexFailed, err)
	}
	return bytesToFloat32(blob), nil
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
