// Package contextual はクエリに応じた多信号コンテキストの組み立てを提供します
package contextual

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/selene-assistant/selene/internal/core/token"
	"github.com/selene-assistant/selene/pkg/models"
)

// DataProvider はコンテキスト組み立てに必要な読み取り専用集計のインターフェース
type DataProvider interface {
	// GetEmotionalNotes はキーワードに一致する非ニュートラルなトーンのノートを返します
	GetEmotionalNotes(ctx context.Context, keywords []string, limit int) ([]models.Note, error)

	// GetTaskOutcomes はキーワードに一致するタスクの結果要約を返します
	GetTaskOutcomes(ctx context.Context, keywords []string, limit int) ([]models.TaskOutcome, error)

	// GetSentimentTrend は直近 days 日間のトーン分布を集計します
	GetSentimentTrend(ctx context.Context, days int) (models.SentimentTrend, error)

	// GetThreadState はスレッドの現況を返します。存在しなければ nil を返します
	GetThreadState(ctx context.Context, threadID int64) (*models.ThreadState, error)
}

const (
	// DefaultTokenBudget はコンテキスト全体の推定トークン上限
	DefaultTokenBudget = 3000

	// 各カテゴリの取得上限
	emotionalNoteLimit = 3
	taskOutcomeLimit   = 5

	// SentimentTrendDays はトーン分布の集計期間
	SentimentTrendDays = 7

	// notePreviewLength はエッセンスのないノートから切り出す本文の長さ
	notePreviewLength = 200
)

// Retriever は感情履歴・タスク履歴・トーン傾向・スレッド状態を
// 1つのトークン上限付きブロック列に組み立てます
type Retriever struct {
	provider    DataProvider
	tokenBudget int
	logger      *slog.Logger
	now         func() time.Time
}

// Option は Retriever の設定オプションです
type Option func(*Retriever)

// WithTokenBudget はコンテキスト全体のトークン上限を設定します
func WithTokenBudget(budget int) Option {
	return func(r *Retriever) {
		if budget > 0 {
			r.tokenBudget = budget
		}
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// withClock はテスト用に現在時刻を差し替えます
func withClock(now func() time.Time) Option {
	return func(r *Retriever) {
		r.now = now
	}
}

// NewRetriever は新しい Retriever を作成します
func NewRetriever(provider DataProvider, opts ...Option) *Retriever {
	r := &Retriever{
		provider:    provider,
		tokenBudget: DefaultTokenBudget,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve はクエリ・キーワード・スレッドIDからコンテキストブロック列を組み立てます
// ブロックは感情履歴 → タスク履歴 → トーン傾向 → スレッド状態の順に積み、
// 残りトークンに収まらないブロックは途中で切らずに丸ごと落とします
func (r *Retriever) Retrieve(ctx context.Context, query string, keywords []string, threadID mo.Option[int64]) (models.RetrievedContext, error) {
	var blocks []models.ContextBlock
	remaining := r.tokenBudget

	emotional, err := r.provider.GetEmotionalNotes(ctx, keywords, emotionalNoteLimit)
	if err != nil {
		return models.RetrievedContext{}, fmt.Errorf("failed to load emotional notes: %w", err)
	}
	for _, note := range emotional {
		content := notePreview(note)
		createdAt := note.CreatedAt
		block := models.ContextBlock{
			Type:        models.BlockEmotionalHistory,
			Content:     content,
			SourceDate:  &createdAt,
			SourceTitle: &note.Title,
		}
		cost := token.Estimate(block.Formatted())
		if remaining-cost <= 0 {
			break
		}
		blocks = append(blocks, block)
		remaining -= cost
	}

	outcomes, err := r.provider.GetTaskOutcomes(ctx, keywords, taskOutcomeLimit)
	if err != nil {
		return models.RetrievedContext{}, fmt.Errorf("failed to load task outcomes: %w", err)
	}
	if len(outcomes) > 0 {
		block := models.ContextBlock{
			Type:    models.BlockTaskHistory,
			Content: summarizeOutcomes(outcomes),
		}
		cost := token.Estimate(block.Formatted())
		if remaining-cost > 0 {
			blocks = append(blocks, block)
			remaining -= cost
		}
	}

	trend, err := r.provider.GetSentimentTrend(ctx, SentimentTrendDays)
	if err != nil {
		return models.RetrievedContext{}, fmt.Errorf("failed to load sentiment trend: %w", err)
	}
	if trend.TotalNotes > 0 {
		block := models.ContextBlock{
			Type:    models.BlockSentimentTrend,
			Content: fmt.Sprintf("This week (%d notes): %s", trend.TotalNotes, trend.Formatted()),
		}
		cost := token.Estimate(block.Formatted())
		if remaining-cost > 0 {
			blocks = append(blocks, block)
			remaining -= cost
		}
	}

	if id, ok := threadID.Get(); ok {
		thread, err := r.provider.GetThreadState(ctx, id)
		if err != nil {
			return models.RetrievedContext{}, fmt.Errorf("failed to load thread state: %w", err)
		}
		if thread != nil {
			block := models.ContextBlock{
				Type:    models.BlockThreadState,
				Content: r.summarizeThread(thread),
			}
			cost := token.Estimate(block.Formatted())
			if remaining-cost > 0 {
				blocks = append(blocks, block)
				remaining -= cost
			}
		}
	}

	r.logger.Debug("context retrieval completed",
		"query", query, "blocks", len(blocks), "remainingTokens", remaining)
	return models.RetrievedContext{Blocks: blocks}, nil
}

// notePreview はノートのエッセンス、なければ本文の先頭を返します
func notePreview(note models.Note) string {
	if note.Essence != nil && *note.Essence != "" {
		return *note.Essence
	}
	runes := []rune(note.Content)
	if len(runes) > notePreviewLength {
		return string(runes[:notePreviewLength])
	}
	return note.Content
}

// summarizeOutcomes はタスク結果を1行の要約にまとめます
func summarizeOutcomes(outcomes []models.TaskOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		status := outcome.Status
		if status == "completed" {
			status = "done"
		}
		parts = append(parts, fmt.Sprintf("%s (%s, %dd)", outcome.TaskTitle, status, outcome.DaysOpen))
	}
	return strings.Join(parts, "; ")
}

// summarizeThread はスレッドの現況を1行の要約にまとめます
func (r *Retriever) summarizeThread(thread *models.ThreadState) string {
	daysSinceActivity := 0
	if thread.LastActivityAt != nil {
		daysSinceActivity = int(r.now().Sub(*thread.LastActivityAt).Hours() / 24)
	}
	return fmt.Sprintf("'%s' — %s, %d notes, %d open tasks, last activity %dd ago, momentum %s",
		thread.Name, thread.Status, thread.NoteCount, thread.OpenTaskCount, daysSinceActivity, thread.Momentum)
}
