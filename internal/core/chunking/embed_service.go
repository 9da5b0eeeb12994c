package chunking

import (
	"context"
	"fmt"

	"github.com/selene-assistant/selene/internal/core/embedding"
)

// EmbedService はチャンク列の埋め込み生成を担当します
// リトライやバックオフは持たず、プロバイダの失敗はそのまま呼び出し元に返します
type EmbedService struct {
	embedder embedding.Embedder
}

// NewEmbedService は新しい EmbedService を作成します
func NewEmbedService(embedder embedding.Embedder) *EmbedService {
	return &EmbedService{embedder: embedder}
}

// EmbedChunks は各チャンクの埋め込みベクトルを入力と同じ順序で返します
// 1件でも失敗した場合は部分的な結果を返さずエラーを伝播します
func (s *EmbedService) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}
