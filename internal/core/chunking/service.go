package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/selene-assistant/selene/internal/core/embedding"
	"github.com/selene-assistant/selene/internal/core/token"
	"github.com/selene-assistant/selene/pkg/models"
)

// Generator はトピックラベル生成に使うテキスト生成インターフェース
type Generator interface {
	// Generate はプロンプトからテキストを生成します
	Generate(ctx context.Context, prompt string) (string, error)
}

// Repository はチャンクの永続化インターフェース
type Repository interface {
	// ListUnchunkedNotes は未チャンク化のノートを取得します
	ListUnchunkedNotes(ctx context.Context, limit int) ([]models.Note, error)

	// ReplaceChunks はノートのチャンクを一括で置き換えます
	// 既存チャンクの削除と新規挿入は同一トランザクションで行われます
	ReplaceChunks(ctx context.Context, noteID int64, chunks []models.Chunk) ([]models.Chunk, error)

	// SaveChunkEmbedding はチャンクの埋め込みベクトルを保存します
	SaveChunkEmbedding(ctx context.Context, chunkID int64, vector []float32) error

	// UpdateChunkTopic はチャンクのトピックラベルを更新します
	UpdateChunkTopic(ctx context.Context, chunkID int64, topic string) error
}

// DefaultIngestWorkers は同時に処理するノート数のデフォルト
const DefaultIngestWorkers = 4

// Service はノートのチャンク化・埋め込み・ラベリングを統括します
// 1ノート内のチャンク埋め込みは逐次、複数ノートは並行に処理されます
type Service struct {
	chunker  *Chunker
	repo     Repository
	embedder embedding.Embedder
	labeler  Generator
	workers  int
	logger   *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithTopicLabeler はトピックラベル生成プロバイダを設定します
// 未設定の場合ラベリングはスキップされます
func WithTopicLabeler(labeler Generator) ServiceOption {
	return func(s *Service) {
		s.labeler = labeler
	}
}

// WithIngestWorkers は並行処理するノート数を設定します
func WithIngestWorkers(workers int) ServiceOption {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成します
func NewService(chunker *Chunker, repo Repository, embedder embedding.Embedder, opts ...ServiceOption) *Service {
	s := &Service{
		chunker:  chunker,
		repo:     repo,
		embedder: embedder,
		workers:  DefaultIngestWorkers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestNote は1件のノートをチャンク化して永続化します
// 埋め込みとトピックラベリングはベストエフォートで、失敗しても
// チャンク自体は保存されたままになります（後から backfill 可能）
func (s *Service) IngestNote(ctx context.Context, note models.Note) ([]models.Chunk, error) {
	texts := s.chunker.Split(note.Content)

	records := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		records = append(records, models.Chunk{
			NoteID:     note.ID,
			ChunkIndex: i,
			Content:    text,
			TokenCount: token.Estimate(text),
		})
	}

	saved, err := s.repo.ReplaceChunks(ctx, note.ID, records)
	if err != nil {
		return nil, fmt.Errorf("failed to replace chunks for note %d: %w", note.ID, err)
	}

	for _, chunk := range saved {
		vector, err := s.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			s.logger.Warn("chunk embedding failed, leaving chunk unembedded",
				"noteID", note.ID, "chunkID", chunk.ID, "error", err)
		} else if err := s.repo.SaveChunkEmbedding(ctx, chunk.ID, vector); err != nil {
			return nil, fmt.Errorf("failed to save chunk embedding: %w", err)
		}

		if s.labeler != nil {
			topic, err := s.labelTopic(ctx, chunk.Content)
			if err != nil {
				s.logger.Warn("topic labeling failed", "chunkID", chunk.ID, "error", err)
			} else if topic != "" {
				if err := s.repo.UpdateChunkTopic(ctx, chunk.ID, topic); err != nil {
					return nil, fmt.Errorf("failed to update chunk topic: %w", err)
				}
			}
		}
	}

	return saved, nil
}

// IngestPending は未チャンク化のノートをまとめて処理します
// ノート単位で並行処理し、処理できたノート数を返します
func (s *Service) IngestPending(ctx context.Context, batchSize int) (int, error) {
	notes, err := s.repo.ListUnchunkedNotes(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unchunked notes: %w", err)
	}
	if len(notes) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, note := range notes {
		g.Go(func() error {
			if _, err := s.IngestNote(ctx, note); err != nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(notes), nil
}

// labelTopic はチャンクの短いトピックラベルを生成します
func (s *Service) labelTopic(ctx context.Context, chunk string) (string, error) {
	prompt := fmt.Sprintf(`Give a short topic label (2-5 words) for the following text.
Reply with the label only, no quotes, no punctuation.

TEXT:
%s`, chunk)

	response, err := s.labeler.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	topic := strings.TrimSpace(strings.Trim(strings.TrimSpace(response), `"`))
	return topic, nil
}
