package chunking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedEmbedder struct {
	vectors map[string][]float32
	failOn  string
	calls   []string
}

func (e *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls = append(e.calls, text)
	if text == e.failOn {
		return nil, errors.New("provider unavailable")
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func TestEmbedChunksPreservesOrder(t *testing.T) {
	embedder := &scriptedEmbedder{
		vectors: map[string][]float32{
			"alpha": {1, 0},
			"beta":  {0, 1},
		},
	}
	svc := NewEmbedService(embedder)

	vectors, err := svc.EmbedChunks(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
	assert.Equal(t, []string{"alpha", "beta"}, embedder.calls)
}

func TestEmbedChunksPropagatesFailure(t *testing.T) {
	embedder := &scriptedEmbedder{failOn: "beta"}
	svc := NewEmbedService(embedder)

	vectors, err := svc.EmbedChunks(context.Background(), []string{"alpha", "beta", "gamma"})
	require.Error(t, err)
	// 部分的な結果は返さない
	assert.Nil(t, vectors)
}

func TestEmbedChunksEmptyInput(t *testing.T) {
	svc := NewEmbedService(&scriptedEmbedder{})

	vectors, err := svc.EmbedChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
