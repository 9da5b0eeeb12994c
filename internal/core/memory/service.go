package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/selene-assistant/selene/internal/core/embedding"
	"github.com/selene-assistant/selene/pkg/models"
)

// Service は記憶エンジンの中心サービスです
// 抽出・統合・検索・埋め込みバックフィルを提供します
type Service struct {
	repo      Repository
	embedder  embedding.Embedder
	generator Generator
	logger    *slog.Logger
}

// NewService は新しい Service を作成します
func NewService(repo Repository, embedder embedding.Embedder, generator Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		embedder:  embedder,
		generator: generator,
		logger:    logger,
	}
}

// GetRelevantMemories はクエリに関連する記憶を返します
// 埋め込み検索が使えない場合はキーワード一致にフォールバックします
// 返した記憶は最終アクセス時刻を更新します（強化であって統合ではない）
func (s *Service) GetRelevantMemories(ctx context.Context, query string, limit int) ([]models.Memory, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("memory retrieval: embedding failed, falling back to keywords", "error", err)
		return s.getRelevantByKeyword(ctx, query, limit)
	}

	memories, err := s.repo.ListMemoriesWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}

	similar := FindSimilar(queryVector, memories, RetrievalThreshold, limit)
	relevant := make([]models.Memory, 0, len(similar))
	for _, item := range similar {
		relevant = append(relevant, item.Memory)
	}

	s.touch(ctx, relevant)
	return relevant, nil
}

// getRelevantByKeyword は埋め込みなしで動くキーワード重なり検索です
// スコアは |クエリ語 ∩ 記憶語| × 確信度 で、0 のものは除外します
func (s *Service) getRelevantByKeyword(ctx context.Context, query string, limit int) ([]models.Memory, error) {
	memories, err := s.repo.ListRecentMemories(ctx, KeywordFallbackWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent memories: %w", err)
	}

	queryWords := wordSet(query)

	type scored struct {
		memory models.Memory
		score  float64
	}
	var results []scored
	for _, memory := range memories {
		overlap := 0
		for word := range wordSet(memory.Content) {
			if _, ok := queryWords[word]; ok {
				overlap++
			}
		}
		score := float64(overlap) * memory.Confidence
		if score > 0 {
			results = append(results, scored{memory: memory, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	relevant := make([]models.Memory, 0, len(results))
	for _, r := range results {
		relevant = append(relevant, r.memory)
	}

	s.touch(ctx, relevant)
	return relevant, nil
}

// touch は返却した記憶の最終アクセス時刻を更新します
// 失敗しても検索自体は成功として扱います
func (s *Service) touch(ctx context.Context, memories []models.Memory) {
	if len(memories) == 0 {
		return
	}
	ids := make([]int64, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.ID)
	}
	if err := s.repo.TouchMemories(ctx, ids); err != nil {
		s.logger.Warn("memory reinforcement touch failed", "error", err)
	}
}

// BackfillEmbeddings は埋め込みのない記憶を1件ずつ埋め込みます
// 個々の失敗はログしてスキップし、バッチ全体は止めません
// 2回連続で実行しても2回目は何も埋め込みません（冪等）
func (s *Service) BackfillEmbeddings(ctx context.Context) (int, error) {
	memories, err := s.repo.ListMemoriesWithEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load memories for backfill: %w", err)
	}

	var pending []models.Memory
	for _, item := range memories {
		if item.Embedding == nil {
			pending = append(pending, item.Memory)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	s.logger.Info("backfilling memory embeddings", "pending", len(pending))

	count := 0
	for _, memory := range pending {
		vector, err := s.embedder.Embed(ctx, memory.Content)
		if err != nil {
			s.logger.Warn("backfill: embedding failed, skipping memory", "memoryID", memory.ID, "error", err)
			continue
		}
		if err := s.repo.SaveMemoryEmbedding(ctx, memory.ID, vector); err != nil {
			s.logger.Warn("backfill: save failed, skipping memory", "memoryID", memory.ID, "error", err)
			continue
		}
		count++
	}

	s.logger.Info("backfill completed", "embedded", count, "pending", len(pending))
	return count, nil
}

// wordSet はテキストを小文字の単語集合に変換します
func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}
