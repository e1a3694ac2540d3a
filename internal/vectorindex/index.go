// Package vectorindex wraps coder/hnsw into the per-(setter, item_data.id)
// nearest-neighbor index the gateway uses to resolve SimilarTo,
// SemanticTextSearch, and SemanticImageSearch nodes before they reach
// internal/pql.Compile — the compiler itself performs no vector math, only
// consumes the already-ranked pqlmodel.RankedItemData slice this package
// produces. Grounded on the teacher's internal/store/hnsw.go HNSWStore,
// generalized from a single global index into one graph per setter (each
// embedding model's vectors live in their own space) and keyed by the
// item_data row id instead of an arbitrary string id.
package vectorindex

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
	"github.com/panoptigo/gateway/internal/pqlmodel"
)

// Config mirrors the teacher's VectorStoreConfig, trimmed to what this
// gateway's embeddings actually need: fixed dimensionality per setter and
// cosine similarity (the only metric spec.md's embedding model uses).
type Config struct {
	Dimensions int
	M          int
	EfSearch   int
}

// DefaultConfig applies the same M/EfSearch defaults coder/hnsw recommends,
// same values the teacher's NewHNSWStore used.
func DefaultConfig(dimensions int) Config {
	return Config{Dimensions: dimensions, M: 16, EfSearch: 20}
}

// setterGraph is one HNSW graph plus its item_data.id <-> internal key maps.
type setterGraph struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	config  Config
	idMap   map[int64]uint64
	keyMap  map[uint64]int64
	nextKey uint64
}

// Index is the process-wide collection of per-setter graphs. Like the
// writer supervisor, this is deliberately the one piece of global mutable
// state this package carries — every resolution call goes through an
// explicit *Index rather than a package-level singleton.
type Index struct {
	mu      sync.RWMutex
	setters map[string]*setterGraph
}

// New constructs an empty multi-setter index.
func New() *Index {
	return &Index{setters: make(map[string]*setterGraph)}
}

func newSetterGraph(cfg Config) *setterGraph {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return &setterGraph{
		graph:  graph,
		config: cfg,
		idMap:  make(map[int64]uint64),
		keyMap: make(map[uint64]int64),
	}
}

func (i *Index) graphFor(setter string, cfg Config) *setterGraph {
	i.mu.Lock()
	defer i.mu.Unlock()
	g, ok := i.setters[setter]
	if !ok {
		g = newSetterGraph(cfg)
		i.setters[setter] = g
	}
	return g
}

// Upsert adds or replaces the vector for one item_data row under setter,
// mirroring the teacher's lazy-deletion approach (coder/hnsw breaks on
// deleting the last remaining node, so a superseded key is just orphaned
// from the maps rather than removed from the graph).
func (i *Index) Upsert(setter string, itemDataID int64, vector []float32) error {
	g := i.graphFor(setter, DefaultConfig(len(vector)))

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(vector) != g.config.Dimensions {
		return gatewayerrors.New(gatewayerrors.ErrCodeIndexFailed,
			fmt.Sprintf("vector dimension mismatch: expected %d, got %d", g.config.Dimensions, len(vector)), nil)
	}

	if existingKey, exists := g.idMap[itemDataID]; exists {
		delete(g.keyMap, existingKey)
		delete(g.idMap, itemDataID)
	}

	key := g.nextKey
	g.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalize(vec)

	g.graph.Add(hnsw.MakeNode(key, vec))
	g.idMap[itemDataID] = key
	g.keyMap[key] = itemDataID
	return nil
}

// Remove orphans itemDataID's key from setter's maps (lazy deletion).
func (i *Index) Remove(setter string, itemDataID int64) {
	i.mu.RLock()
	g, ok := i.setters[setter]
	i.mu.RUnlock()
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if key, exists := g.idMap[itemDataID]; exists {
		delete(g.keyMap, key)
		delete(g.idMap, itemDataID)
	}
}

// Search returns the topK nearest item_data ids to query under setter,
// ordered nearest-first, as pqlmodel.RankedItemData with Rank starting at 1
// — the shape internal/pql's neighborsCTE expects.
func (i *Index) Search(setter string, query []float32, topK int) ([]pqlmodel.RankedItemData, error) {
	i.mu.RLock()
	g, ok := i.setters[setter]
	i.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(query) != g.config.Dimensions {
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeIndexFailed,
			fmt.Sprintf("query dimension mismatch: expected %d, got %d", g.config.Dimensions, len(query)), nil)
	}
	if g.graph.Len() == 0 || topK <= 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalize(q)

	nodes := g.graph.Search(q, topK)
	results := make([]pqlmodel.RankedItemData, 0, len(nodes))
	for idx, node := range nodes {
		itemDataID, exists := g.keyMap[node.Key]
		if !exists {
			continue
		}
		results = append(results, pqlmodel.RankedItemData{ItemDataID: itemDataID, Rank: idx + 1})
	}
	return results, nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
