// Package retrieval searches the readings archive by combining full-text
// matches on questions and narratives with embedding similarity on node
// labels.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bbiangul/rhizome/llm"
	"github.com/bbiangul/rhizome/store"
)

// Config holds retrieval engine configuration.
type Config struct {
	WeightFTS    float64
	WeightVector float64
}

// DefaultConfig weighs both methods equally.
func DefaultConfig() Config {
	return Config{WeightFTS: 1.0, WeightVector: 1.0}
}

// Hit is one reading returned by Search.
type Hit struct {
	store.Summary
	Score        float64         `json:"score"`
	Match        FusedResultInfo `json:"match"`
	MatchedNodes []string        `json:"matched_nodes,omitempty"`
}

// SearchTrace records the breakdown of a search.
type SearchTrace struct {
	FTSQuery     string `json:"fts_query"`
	FTSResults   int    `json:"fts_results"`
	VecResults   int    `json:"vec_results"`
	FusedResults int    `json:"fused_results"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

// Engine performs hybrid retrieval over archived readings.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	cfg      Config
}

// New creates a retrieval engine. A nil embedder limits search to FTS.
func New(s *store.Store, embedder llm.Provider, cfg Config) *Engine {
	if cfg.WeightFTS == 0 && cfg.WeightVector == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Search returns the readings best matching query. Node similarity hits
// are collapsed to their reading at the rank of its best node.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Hit, *SearchTrace, error) {
	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	trace := &SearchTrace{FTSQuery: sanitizeFTSQuery(query)}

	var ftsIDs []string
	summaries := make(map[string]store.Summary)
	if trace.FTSQuery != "" {
		res, err := e.store.SearchReadings(ctx, trace.FTSQuery, limit)
		if err != nil {
			return nil, nil, fmt.Errorf("fts search: %w", err)
		}
		for _, sm := range res {
			ftsIDs = append(ftsIDs, sm.ID)
			summaries[sm.ID] = sm
		}
	}
	trace.FTSResults = len(ftsIDs)

	vecIDs, nodeLabels, err := e.vectorSearch(ctx, query, limit)
	if err != nil {
		// Embedding outages degrade to FTS only.
		slog.Warn("retrieval: vector search failed", "error", err)
	}
	trace.VecResults = len(vecIDs)

	results := fuseRRF(ftsIDs, vecIDs, e.cfg.WeightFTS, e.cfg.WeightVector, limit)

	var missing []string
	for _, r := range results {
		if _, ok := summaries[r.id]; !ok {
			missing = append(missing, r.id)
		}
	}
	if len(missing) > 0 {
		extra, err := e.store.GetSummaries(ctx, missing)
		if err != nil {
			return nil, nil, fmt.Errorf("loading summaries: %w", err)
		}
		for _, sm := range extra {
			summaries[sm.ID] = sm
		}
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		sm, ok := summaries[r.id]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Summary:      sm,
			Score:        r.score,
			Match:        r.info,
			MatchedNodes: nodeLabels[r.id],
		})
	}
	trace.FusedResults = len(hits)
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: search complete",
		"query", query,
		"fts", trace.FTSResults,
		"vector", trace.VecResults,
		"fused", trace.FusedResults,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return hits, trace, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, limit int) ([]string, map[string][]string, error) {
	if e.embedder == nil || e.cfg.WeightVector == 0 {
		return nil, nil, nil
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, nil, err
	}
	if len(vecs) == 0 {
		return nil, nil, fmt.Errorf("embedder returned no vectors")
	}
	matches, err := e.store.SimilarNodes(ctx, vecs[0], limit*3)
	if err != nil {
		return nil, nil, err
	}

	var ids []string
	labels := make(map[string][]string)
	for _, m := range matches {
		if _, seen := labels[m.ReadingID]; !seen {
			ids = append(ids, m.ReadingID)
		}
		labels[m.ReadingID] = append(labels[m.ReadingID], m.Node.Label)
	}
	return ids, labels, nil
}
