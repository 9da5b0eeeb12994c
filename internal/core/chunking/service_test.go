package chunking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selene-assistant/selene/pkg/models"
)

// stubIngestRepo は Repository のインメモリ実装です
type stubIngestRepo struct {
	mu         sync.Mutex
	nextID     int64
	unchunked  []models.Note
	chunks     map[int64][]models.Chunk
	embeddings map[int64][]float32
	topics     map[int64]string
}

func newStubIngestRepo() *stubIngestRepo {
	return &stubIngestRepo{
		chunks:     map[int64][]models.Chunk{},
		embeddings: map[int64][]float32{},
		topics:     map[int64]string{},
	}
}

func (r *stubIngestRepo) ListUnchunkedNotes(ctx context.Context, limit int) ([]models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.unchunked) > limit {
		return r.unchunked[:limit], nil
	}
	return r.unchunked, nil
}

func (r *stubIngestRepo) ReplaceChunks(ctx context.Context, noteID int64, chunks []models.Chunk) ([]models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make([]models.Chunk, 0, len(chunks))
	for i, chunk := range chunks {
		r.nextID++
		chunk.ID = r.nextID
		chunk.NoteID = noteID
		chunk.ChunkIndex = i
		saved = append(saved, chunk)
	}
	r.chunks[noteID] = saved
	return saved, nil
}

func (r *stubIngestRepo) SaveChunkEmbedding(ctx context.Context, chunkID int64, vector []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[chunkID] = vector
	return nil
}

func (r *stubIngestRepo) UpdateChunkTopic(ctx context.Context, chunkID int64, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[chunkID] = topic
	return nil
}

// fixedEmbedder は常に同じベクトルを返します
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

// echoLabeler は固定のラベルを返します
type echoLabeler struct {
	label string
	err   error
}

func (l *echoLabeler) Generate(ctx context.Context, prompt string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	return l.label, nil
}

func TestIngestNotePersistsChunksEmbeddingsAndTopics(t *testing.T) {
	repo := newStubIngestRepo()
	svc := NewService(NewChunker(128), repo, &fixedEmbedder{vector: []float32{1, 0}},
		WithTopicLabeler(&echoLabeler{label: `"Sleep quality"` + "\n"}))

	paragraph := strings.Repeat("A sentence about sleep. ", 18)
	note := models.Note{ID: 42, Content: paragraph + "\n\n" + paragraph}

	chunks, err := svc.IngestNote(context.Background(), note)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, chunk := range chunks {
		assert.Equal(t, int64(42), chunk.NoteID)
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, []float32{1, 0}, repo.embeddings[chunk.ID])
		// ラベルは引用符と空白を取り除いて保存される
		assert.Equal(t, "Sleep quality", repo.topics[chunk.ID])
	}
}

func TestIngestNoteContinuesWhenEmbeddingFails(t *testing.T) {
	repo := newStubIngestRepo()
	svc := NewService(NewChunker(128), repo, &fixedEmbedder{err: errors.New("provider down")})

	chunks, err := svc.IngestNote(context.Background(), models.Note{ID: 1, Content: "A short note."})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, repo.embeddings)
}

func TestIngestNoteSkipsLabelingWhenLabelerFails(t *testing.T) {
	repo := newStubIngestRepo()
	svc := NewService(NewChunker(128), repo, &fixedEmbedder{vector: []float32{1, 0}},
		WithTopicLabeler(&echoLabeler{err: errors.New("labeler down")}))

	chunks, err := svc.IngestNote(context.Background(), models.Note{ID: 1, Content: "A short note."})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []float32{1, 0}, repo.embeddings[chunks[0].ID])
	assert.Empty(t, repo.topics)
}

func TestIngestPendingProcessesAllNotes(t *testing.T) {
	repo := newStubIngestRepo()
	for i := int64(1); i <= 6; i++ {
		repo.unchunked = append(repo.unchunked, models.Note{ID: i, Content: "Note body."})
	}
	svc := NewService(NewChunker(128), repo, &fixedEmbedder{vector: []float32{1, 0}},
		WithIngestWorkers(2))

	processed, err := svc.IngestPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 6, processed)
	assert.Len(t, repo.chunks, 6)
}

func TestIngestPendingEmptyBacklog(t *testing.T) {
	svc := NewService(NewChunker(128), newStubIngestRepo(), &fixedEmbedder{vector: []float32{1, 0}})

	processed, err := svc.IngestPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}
