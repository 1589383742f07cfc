//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbiangul/rhizome/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReading(question string) *Reading {
	state := graph.NewState([]graph.Node{
		{ID: "node1", Label: "Lantern", Type: graph.NodeSymbol},
		{ID: "node2", Label: "Solitude", Type: graph.NodeTheme},
	})
	cp1 := state.Checkpoint(1, "first")
	state = state.Merge([]graph.Edge{{From: "node1", To: "node2", Relationship: "guides"}},
		[]graph.Node{{ID: "node3", Label: "Return", Type: graph.NodeAction}})
	cp2 := state.Checkpoint(2, "Unable to parse cycle insights")

	return &Reading{
		Kind:        "deep",
		Question:    question,
		Narrative:   "The Hermit walks alone with his lantern.",
		Mode:        "chaos",
		Synthesis:   "Solitude prepares the return.",
		ElapsedMs:   1234,
		Nodes:       state.Nodes,
		Edges:       state.Edges,
		Checkpoints: []graph.Checkpoint{cp1, cp2},
	}
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 4, s.EmbeddingDim())
	assert.NotNil(t, s.DB())

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 4)
	require.NoError(t, err)
	s.Close()
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestSaveAndGetReading(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sampleReading("Where does the path lead?")
	id, err := s.SaveReading(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, in.ID)
	assert.False(t, in.CreatedAt.IsZero())

	got, err := s.GetReading(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, in.Question, got.Question)
	assert.Equal(t, in.Narrative, got.Narrative)
	assert.Equal(t, in.Mode, got.Mode)
	assert.Equal(t, int64(1234), got.ElapsedMs)
	assert.True(t, in.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, in.Nodes, got.Nodes)
	assert.Equal(t, in.Edges, got.Edges)
	assert.Equal(t, in.Checkpoints, got.Checkpoints)
}

func TestSaveReadingKeepsGivenID(t *testing.T) {
	s := newTestStore(t)
	in := sampleReading("q")
	in.ID = "fixed-id"
	id, err := s.SaveReading(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	_, err = s.SaveReading(context.Background(), in)
	assert.Error(t, err, "duplicate id")
}

func TestGetReadingNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetReading(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReadingsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		r := sampleReading(q)
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := s.SaveReading(ctx, r)
		require.NoError(t, err)
	}

	list, err := s.ListReadings(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Question)
	assert.Equal(t, "second", list[1].Question)
	assert.Equal(t, 3, list[0].NodeCount)
	assert.Equal(t, 1, list[0].EdgeCount)

	list, err = s.ListReadings(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].Question)
}

func TestSearchReadings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveReading(ctx, sampleReading("Should I change careers?"))
	require.NoError(t, err)
	other := sampleReading("What does my garden need?")
	other.Narrative = "The Empress tends abundant soil."
	other.Synthesis = "Growth follows care."
	_, err = s.SaveReading(ctx, other)
	require.NoError(t, err)

	got, err := s.SearchReadings(ctx, "careers", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Should I change careers?", got[0].Question)

	got, err = s.SearchReadings(ctx, "empress", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "What does my garden need?", got[0].Question)
}

func TestGetSummariesKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.SaveReading(ctx, sampleReading("a"))
	require.NoError(t, err)
	b, err := s.SaveReading(ctx, sampleReading("b"))
	require.NoError(t, err)

	got, err := s.GetSummaries(ctx, []string{b, "missing", a})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Question)
	assert.Equal(t, "a", got[1].Question)

	got, err = s.GetSummaries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteReading(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveReading(ctx, sampleReading("q"))
	require.NoError(t, err)
	require.NoError(t, s.InsertNodeEmbeddings(ctx, id, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}))

	require.NoError(t, s.DeleteReading(ctx, id))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *stats)

	assert.ErrorIs(t, s.DeleteReading(ctx, id), ErrNotFound)
}

func TestSimilarNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveReading(ctx, sampleReading("q"))
	require.NoError(t, err)

	err = s.InsertNodeEmbeddings(ctx, id, [][]float32{{1, 0, 0, 0}})
	assert.Error(t, err, "count mismatch")

	require.NoError(t, s.InsertNodeEmbeddings(ctx, id, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}))

	got, err := s.SimilarNodes(ctx, []float32{0, 0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Solitude", got[0].Node.Label)
	assert.Equal(t, id, got[0].ReadingID)
	assert.Equal(t, "q", got[0].Question)
	assert.Greater(t, got[0].Score, got[1].Score)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Readings: 1, Nodes: 3, Edges: 1, Checkpoints: 2, Embeddings: 3}, *stats)
}
