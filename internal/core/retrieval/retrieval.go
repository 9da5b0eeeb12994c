package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/mo"

	"github.com/selene-assistant/selene/internal/core/embedding"
	"github.com/selene-assistant/selene/pkg/models"
)

// Scored は類似度付きの検索結果チャンクです
type Scored struct {
	Chunk      models.Chunk
	Similarity float32
}

// RankChunks はクエリベクトルに対して候補チャンクをランク付けします
// 純粋関数で、I/O を伴わずにテストできます
//
// 手順: 全候補をコサイン類似度でスコアリング → minSimilarity 未満を除外 →
// 類似度の降順でソート → limit 件まで採用 → tokenBudget 指定時は予算を
// 超過するチャンクをスキップ（切り詰めはしない）
func RankChunks(query []float32, candidates []models.ChunkWithEmbedding, limit int, minSimilarity float32, tokenBudget mo.Option[int]) []Scored {
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]Scored, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Embedding == nil {
			// 未埋め込みのチャンクは検索対象外
			continue
		}
		sim := embedding.CosineSimilarity(query, candidate.Embedding)
		if sim < minSimilarity {
			continue
		}
		scored = append(scored, Scored{Chunk: candidate.Chunk, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	budget, hasBudget := tokenBudget.Get()
	if !hasBudget {
		return scored
	}

	results := make([]Scored, 0, len(scored))
	totalTokens := 0
	for _, item := range scored {
		if totalTokens+item.Chunk.TokenCount > budget {
			continue
		}
		totalTokens += item.Chunk.TokenCount
		results = append(results, item)
	}
	return results
}

// Repository は検索候補チャンクの読み取りインターフェース
type Repository interface {
	// ListChunksWithEmbeddings は全チャンクを埋め込み付きで取得します
	// 埋め込みがないチャンクは Embedding が nil になります
	ListChunksWithEmbeddings(ctx context.Context) ([]models.ChunkWithEmbedding, error)
}

// DefaultMinSimilarity はチャンク検索のデフォルト類似度しきい値
const DefaultMinSimilarity = 0.3

// Service はクエリ文字列からのチャンク検索を提供します
type Service struct {
	repo     Repository
	embedder embedding.Embedder
	logger   *slog.Logger
}

// NewService は新しい Service を作成します
func NewService(repo Repository, embedder embedding.Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, embedder: embedder, logger: logger}
}

// SearchParams はチャンク検索のパラメータです
type SearchParams struct {
	Query         string
	Limit         int
	MinSimilarity float32
	TokenBudget   mo.Option[int]
}

// Search はクエリを埋め込み、保存済みチャンクをランク付けして返します
func (s *Service) Search(ctx context.Context, params SearchParams) ([]Scored, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	minSimilarity := params.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = DefaultMinSimilarity
	}

	queryVector, err := s.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := s.repo.ListChunksWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk candidates: %w", err)
	}

	results := RankChunks(queryVector, candidates, limit, minSimilarity, params.TokenBudget)
	s.logger.Debug("chunk search completed",
		"candidates", len(candidates), "results", len(results))
	return results, nil
}
