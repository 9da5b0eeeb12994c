package retrieval

import (
	"context"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selene-assistant/selene/pkg/models"
)

func candidate(id int64, vector []float32, tokens int) models.ChunkWithEmbedding {
	return models.ChunkWithEmbedding{
		Chunk:     models.Chunk{ID: id, TokenCount: tokens, Content: "chunk"},
		Embedding: vector,
	}
}

func TestRankChunksOrdersBySimilarity(t *testing.T) {
	query := []float32{1, 0}
	candidates := []models.ChunkWithEmbedding{
		candidate(1, []float32{0, 1}, 10),      // 類似度 0.0
		candidate(2, []float32{1, 0}, 10),      // 類似度 1.0
		candidate(3, []float32{0.7, 0.7}, 10),  // 類似度 ~0.707
	}

	results := RankChunks(query, candidates, 10, 0.3, mo.None[int]())

	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].Chunk.ID)
	assert.Equal(t, int64(3), results[1].Chunk.ID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestRankChunksEmptyCandidates(t *testing.T) {
	assert.Empty(t, RankChunks([]float32{1, 0}, nil, 10, 0.3, mo.None[int]()))
}

func TestRankChunksSkipsUnembedded(t *testing.T) {
	query := []float32{1, 0}
	candidates := []models.ChunkWithEmbedding{
		candidate(1, nil, 10),
		candidate(2, []float32{1, 0}, 10),
	}

	results := RankChunks(query, candidates, 10, 0.0, mo.None[int]())
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].Chunk.ID)
}

func TestRankChunksAppliesLimit(t *testing.T) {
	query := []float32{1, 0}
	var candidates []models.ChunkWithEmbedding
	for i := int64(0); i < 10; i++ {
		candidates = append(candidates, candidate(i, []float32{1, 0}, 10))
	}

	results := RankChunks(query, candidates, 3, 0.3, mo.None[int]())
	assert.Len(t, results, 3)
}

func TestRankChunksEnforcesTokenBudget(t *testing.T) {
	query := []float32{1, 0}
	var candidates []models.ChunkWithEmbedding
	for i := int64(0); i < 20; i++ {
		candidates = append(candidates, candidate(i, []float32{1, 0}, 50))
	}

	results := RankChunks(query, candidates, 20, 0.3, mo.Some(200))

	assert.LessOrEqual(t, len(results), 4)
	total := 0
	for _, r := range results {
		total += r.Chunk.TokenCount
	}
	assert.LessOrEqual(t, total, 200)
}

func TestRankChunksSkipsOverflowingChunkNotTruncates(t *testing.T) {
	query := []float32{1, 0}
	candidates := []models.ChunkWithEmbedding{
		candidate(1, []float32{1, 0}, 90),
		candidate(2, []float32{0.99, 0.1}, 90),
		candidate(3, []float32{0.9, 0.2}, 15),
	}

	results := RankChunks(query, candidates, 10, 0.3, mo.Some(100))

	// 2番目のチャンクは予算超過でスキップされ、3番目は採用される
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].Chunk.ID)
	assert.Equal(t, int64(3), results[1].Chunk.ID)
}

type stubChunkRepo struct {
	chunks []models.ChunkWithEmbedding
}

func (r *stubChunkRepo) ListChunksWithEmbeddings(ctx context.Context) ([]models.ChunkWithEmbedding, error) {
	return r.chunks, nil
}

type fixedEmbedder struct {
	vector []float32
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector, nil
}

func TestSearchRanksStoredChunks(t *testing.T) {
	repo := &stubChunkRepo{chunks: []models.ChunkWithEmbedding{
		candidate(1, []float32{0.95, 0.05}, 20),
		candidate(2, []float32{0, 1}, 20),
	}}
	svc := NewService(repo, &fixedEmbedder{vector: []float32{1, 0}}, nil)

	results, err := svc.Search(context.Background(), SearchParams{Query: "planning", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Chunk.ID)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := NewService(&stubChunkRepo{}, &fixedEmbedder{}, nil)

	_, err := svc.Search(context.Background(), SearchParams{})
	require.Error(t, err)
}
