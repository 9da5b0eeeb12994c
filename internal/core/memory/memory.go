// Package memory は会話からの事実抽出と長期記憶の統合・検索を提供します
package memory

import (
	"context"
	"sort"

	"github.com/selene-assistant/selene/internal/core/embedding"
	"github.com/selene-assistant/selene/pkg/models"
)

// Generator は抽出・裁定に使うテキスト生成インターフェース
type Generator interface {
	// Generate はプロンプトからテキストを生成します
	Generate(ctx context.Context, prompt string) (string, error)
}

// Repository は記憶の永続化インターフェース
// 書き込みの失敗は呼び出し元に伝播します（エンジン自身はリトライしない）
type Repository interface {
	// InsertMemory は新しい記憶を挿入し、採番された ID を返します
	// embedding は nil でも構いません（未埋め込み状態）
	InsertMemory(ctx context.Context, memory models.Memory, embedding []float32) (int64, error)

	// UpdateMemory は記憶の内容と埋め込みをその場で書き換えます
	UpdateMemory(ctx context.Context, id int64, content string, embedding []float32) error

	// DeleteMemory は記憶を削除します
	DeleteMemory(ctx context.Context, id int64) error

	// SaveMemoryEmbedding は既存の記憶に埋め込みだけを保存します
	SaveMemoryEmbedding(ctx context.Context, id int64, embedding []float32) error

	// TouchMemories は記憶の最終アクセス時刻を更新します（強化）
	TouchMemories(ctx context.Context, ids []int64) error

	// ListMemoriesWithEmbeddings は全記憶を埋め込み付きで取得します
	// 埋め込みがない記憶は Embedding が nil になります
	ListMemoriesWithEmbeddings(ctx context.Context) ([]models.MemoryWithEmbedding, error)

	// ListRecentMemories は新しい順に最大 limit 件の記憶を取得します
	ListRecentMemories(ctx context.Context, limit int) ([]models.Memory, error)
}

const (
	// NeighborThreshold は統合時の近傍検索に使う類似度しきい値
	NeighborThreshold = 0.7

	// RetrievalThreshold はプロンプト用検索に使う緩めの類似度しきい値
	RetrievalThreshold = 0.5

	// NeighborLimit は裁定に渡す近傍記憶の最大件数
	NeighborLimit = 10

	// KeywordFallbackWindow はキーワード検索の対象とする直近記憶の件数
	KeywordFallbackWindow = 50
)

// Similar は類似度検索の結果1件です
type Similar struct {
	Memory        models.Memory
	Similarity    float32
	WeightedScore float64
}

// FindSimilar はクエリベクトルに類似する記憶を探します
// 類似度×確信度の重み付きスコアの降順で返し、埋め込みのない記憶は除外します
// 純粋関数で、I/O を伴わずにテストできます
func FindSimilar(query []float32, memories []models.MemoryWithEmbedding, threshold float32, limit int) []Similar {
	var results []Similar
	for _, item := range memories {
		if item.Embedding == nil {
			continue
		}
		similarity := embedding.CosineSimilarity(query, item.Embedding)
		if similarity < threshold {
			continue
		}
		results = append(results, Similar{
			Memory:        item.Memory,
			Similarity:    similarity,
			WeightedScore: float64(similarity) * item.Memory.Confidence,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].WeightedScore > results[j].WeightedScore
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
