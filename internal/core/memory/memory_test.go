package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selene-assistant/selene/pkg/models"
)

// stubRepo は Repository のインメモリ実装です
type stubRepo struct {
	nextID     int64
	memories   []models.MemoryWithEmbedding
	touchedIDs []int64
	failWrites bool
}

var errWriteRejected = errors.New("write rejected")

func (r *stubRepo) InsertMemory(ctx context.Context, memory models.Memory, vector []float32) (int64, error) {
	if r.failWrites {
		return 0, errWriteRejected
	}
	r.nextID++
	memory.ID = r.nextID
	memory.CreatedAt = time.Now()
	memory.UpdatedAt = memory.CreatedAt
	r.memories = append(r.memories, models.MemoryWithEmbedding{Memory: memory, Embedding: vector})
	return memory.ID, nil
}

func (r *stubRepo) UpdateMemory(ctx context.Context, id int64, content string, vector []float32) error {
	if r.failWrites {
		return errWriteRejected
	}
	for i := range r.memories {
		if r.memories[i].Memory.ID == id {
			r.memories[i].Memory.Content = content
			r.memories[i].Embedding = vector
			return nil
		}
	}
	return errors.New("memory not found")
}

func (r *stubRepo) DeleteMemory(ctx context.Context, id int64) error {
	for i := range r.memories {
		if r.memories[i].Memory.ID == id {
			r.memories = append(r.memories[:i], r.memories[i+1:]...)
			return nil
		}
	}
	return errors.New("memory not found")
}

func (r *stubRepo) SaveMemoryEmbedding(ctx context.Context, id int64, vector []float32) error {
	for i := range r.memories {
		if r.memories[i].Memory.ID == id {
			r.memories[i].Embedding = vector
			return nil
		}
	}
	return errors.New("memory not found")
}

func (r *stubRepo) TouchMemories(ctx context.Context, ids []int64) error {
	r.touchedIDs = append(r.touchedIDs, ids...)
	return nil
}

func (r *stubRepo) ListMemoriesWithEmbeddings(ctx context.Context) ([]models.MemoryWithEmbedding, error) {
	return r.memories, nil
}

func (r *stubRepo) ListRecentMemories(ctx context.Context, limit int) ([]models.Memory, error) {
	var result []models.Memory
	for i := len(r.memories) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, r.memories[i].Memory)
	}
	return result, nil
}

func (r *stubRepo) add(id int64, content string, confidence float64, vector []float32) {
	r.memories = append(r.memories, models.MemoryWithEmbedding{
		Memory: models.Memory{
			ID:         id,
			Content:    content,
			MemoryType: models.MemoryTypeFact,
			Confidence: confidence,
		},
		Embedding: vector,
	})
	if id > r.nextID {
		r.nextID = id
	}
}

// stubGenerator は固定応答を返す Generator です
type stubGenerator struct {
	response string
	err      error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.response, g.err
}

// stubEmbedder は固定ベクトルを返す埋め込みプロバイダです
type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func newTestService(repo *stubRepo, gen *stubGenerator, emb *stubEmbedder) *Service {
	return NewService(repo, emb, gen, nil)
}

// --- 抽出 ---

func TestExtractMemoriesParsesWrappedJSON(t *testing.T) {
	gen := &stubGenerator{response: `Sure! Here is what I found:
{"facts": [{"fact": "User prefers morning work sessions", "type": "preference", "confidence": 0.9}]}
Let me know if you need more.`}
	svc := newTestService(&stubRepo{}, gen, &stubEmbedder{vector: []float32{1, 0}})

	facts, err := svc.ExtractMemories(context.Background(), "u", "a", nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "User prefers morning work sessions", facts[0].Fact)
	assert.Equal(t, "preference", facts[0].Type)
	assert.InDelta(t, 0.9, facts[0].Confidence, 1e-9)
}

func TestExtractMemoriesUnparsableResponse(t *testing.T) {
	gen := &stubGenerator{response: "I could not find anything worth remembering."}
	svc := newTestService(&stubRepo{}, gen, &stubEmbedder{vector: []float32{1, 0}})

	facts, err := svc.ExtractMemories(context.Background(), "u", "a", nil)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestExtractMemoriesProviderFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("provider unavailable")}
	svc := newTestService(&stubRepo{}, gen, &stubEmbedder{vector: []float32{1, 0}})

	_, err := svc.ExtractMemories(context.Background(), "u", "a", nil)
	require.Error(t, err)
}

// --- 統合 ---

func testFact() models.CandidateFact {
	return models.CandidateFact{Fact: "User works best in the morning", Type: "pattern", Confidence: 0.8}
}

func TestConsolidateAddsWhenNoNeighbors(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubGenerator{response: `should not be called`}, &stubEmbedder{vector: []float32{1, 0}})

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.NoError(t, err)
	require.Len(t, repo.memories, 1)
	assert.Equal(t, "User works best in the morning", repo.memories[0].Memory.Content)
	assert.Equal(t, models.MemoryTypePattern, repo.memories[0].Memory.MemoryType)
	assert.InDelta(t, 0.8, repo.memories[0].Memory.Confidence, 1e-9)
	assert.NotNil(t, repo.memories[0].Embedding)
}

func TestConsolidateDefaultsToAddOnUnparsableArbitration(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "User is a morning person", 0.9, []float32{1, 0})
	gen := &stubGenerator{response: "Hmm, that is a tough call, I would probably keep both?"}
	svc := newTestService(repo, gen, &stubEmbedder{vector: []float32{1, 0}})

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.NoError(t, err)
	// 裁定が解釈不能でも候補は失われず ADD される
	assert.Len(t, repo.memories, 2)
}

func TestConsolidateUpdateRewritesInPlace(t *testing.T) {
	repo := &stubRepo{}
	repo.add(7, "User is a morning person", 0.9, []float32{1, 0})
	gen := &stubGenerator{response: `{"action": "UPDATE", "memoryId": 7, "merged": "User is a morning person and works best before noon"}`}
	emb := &stubEmbedder{vector: []float32{1, 0}}
	svc := newTestService(repo, gen, emb)

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.NoError(t, err)
	require.Len(t, repo.memories, 1)
	assert.Equal(t, "User is a morning person and works best before noon", repo.memories[0].Memory.Content)
	// 事実の埋め込みとマージ後テキストの再埋め込みで2回呼ばれる
	assert.Equal(t, 2, emb.calls)
}

func TestConsolidateDeleteRemovesContradicted(t *testing.T) {
	repo := &stubRepo{}
	repo.add(3, "User hates mornings", 0.9, []float32{1, 0})
	gen := &stubGenerator{response: `{"action": "DELETE", "memoryId": 3, "reason": "contradicted by new fact"}`}
	svc := newTestService(repo, gen, &stubEmbedder{vector: []float32{1, 0}})

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, repo.memories)
}

func TestConsolidateNoopLeavesStoreUntouched(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "User works best in the morning", 0.9, []float32{1, 0})
	gen := &stubGenerator{response: `{"action": "NOOP", "reason": "already known"}`}
	svc := newTestService(repo, gen, &stubEmbedder{vector: []float32{1, 0}})

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.NoError(t, err)
	require.Len(t, repo.memories, 1)
	assert.Equal(t, "User works best in the morning", repo.memories[0].Memory.Content)
}

func TestConsolidateProceedsWithoutEmbedding(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "User is a morning person", 0.9, []float32{1, 0})
	svc := newTestService(repo, &stubGenerator{}, &stubEmbedder{err: errors.New("unavailable")})

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.NoError(t, err)
	// 埋め込みが作れなければ近傍検索はスキップされ、埋め込みなしで ADD される
	require.Len(t, repo.memories, 2)
	assert.Nil(t, repo.memories[1].Embedding)
}

func TestConsolidateSurfacesStorageFailure(t *testing.T) {
	repo := &stubRepo{failWrites: true}
	svc := newTestService(repo, &stubGenerator{}, &stubEmbedder{vector: []float32{1, 0}})

	err := svc.Consolidate(context.Background(), testFact(), uuid.New())
	require.ErrorIs(t, err, errWriteRejected)
}

// --- 類似度検索 ---

func TestFindSimilarWeightsByConfidence(t *testing.T) {
	memories := []models.MemoryWithEmbedding{
		{Memory: models.Memory{ID: 1, Confidence: 0.5}, Embedding: []float32{1, 0}},
		{Memory: models.Memory{ID: 2, Confidence: 1.0}, Embedding: []float32{0.9, 0.4359}},
		{Memory: models.Memory{ID: 3, Confidence: 1.0}, Embedding: nil},
	}

	results := FindSimilar([]float32{1, 0}, memories, 0.5, 10)

	// 類似度1.0×確信度0.5=0.5 < 類似度0.9×確信度1.0=0.9
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].Memory.ID)
	assert.Equal(t, int64(1), results[1].Memory.ID)
}

func TestFindSimilarAppliesThreshold(t *testing.T) {
	memories := []models.MemoryWithEmbedding{
		{Memory: models.Memory{ID: 1, Confidence: 1.0}, Embedding: []float32{0, 1}},
	}
	assert.Empty(t, FindSimilar([]float32{1, 0}, memories, 0.5, 10))
}

// --- 検索とフォールバック ---

func TestGetRelevantMemoriesTouchesResults(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "User prefers tea over coffee", 1.0, []float32{1, 0})
	repo.add(2, "User dislikes late meetings", 1.0, []float32{0, 1})
	svc := newTestService(repo, &stubGenerator{}, &stubEmbedder{vector: []float32{1, 0}})

	memories, err := svc.GetRelevantMemories(context.Background(), "what does the user drink", 5)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, int64(1), memories[0].ID)
	assert.Equal(t, []int64{1}, repo.touchedIDs)
}

func TestGetRelevantMemoriesKeywordFallback(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "User enjoys hiking on weekends", 1.0, nil)
	repo.add(2, "User dislikes late meetings", 1.0, nil)
	svc := newTestService(repo, &stubGenerator{}, &stubEmbedder{err: errors.New("provider unavailable")})

	memories, err := svc.GetRelevantMemories(context.Background(), "weekend hiking plans", 5)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, int64(1), memories[0].ID)
	assert.Equal(t, []int64{1}, repo.touchedIDs)
}

// --- バックフィル ---

func TestBackfillEmbeddingsIsIdempotent(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "embedded already", 1.0, []float32{1, 0})
	repo.add(2, "missing embedding", 1.0, nil)
	repo.add(3, "another missing", 1.0, nil)
	svc := newTestService(repo, &stubGenerator{}, &stubEmbedder{vector: []float32{0.5, 0.5}})

	first, err := svc.BackfillEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	second, err := svc.BackfillEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestBackfillSkipsFailuresAndContinues(t *testing.T) {
	repo := &stubRepo{}
	repo.add(1, "missing embedding", 1.0, nil)
	repo.add(2, "another missing", 1.0, nil)

	emb := &stubEmbedder{vector: []float32{1, 0}, err: errors.New("flaky provider")}
	svc := newTestService(repo, &stubGenerator{}, emb)

	// 全件失敗のケース: 0件埋め込みでもエラーにならない
	count, err := svc.BackfillEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 復旧後は残りが埋め込まれる
	emb.err = nil
	count, err = svc.BackfillEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
