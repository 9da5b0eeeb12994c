// Package router はタスク種別から具体的なLLMプロバイダへの振り分けを提供します
package router

import (
	"context"
	"log/slog"
)

// TaskType はルーティング対象のタスク種別です
type TaskType string

const (
	TaskChunkLabeling TaskType = "chunkLabeling"
	TaskEmbedding     TaskType = "embedding"
	TaskQueryAnalysis TaskType = "queryAnalysis"
	TaskSummarization TaskType = "summarization"
	TaskThreadChat    TaskType = "threadChat"
	TaskBriefing      TaskType = "briefing"
	TaskDeepDive      TaskType = "deepDive"
)

// Provider はルーティング先となるLLMプロバイダのインターフェース
type Provider interface {
	// Generate はプロンプトからテキストを生成します
	Generate(ctx context.Context, prompt string) (string, error)

	// Embed はテキストの埋め込みベクトルを返します
	Embed(ctx context.Context, text string) ([]float32, error)

	// Available はプロバイダが現在利用可能かを報告します
	Available(ctx context.Context) bool
}

// preference はタスク種別ごとの優先プロバイダです
type preference int

const (
	preferGeneral preference = iota
	preferFast
)

// 軽量な分類・ラベリング系は高速プロバイダ、会話・推論系は汎用プロバイダを優先します
var defaults = map[TaskType]preference{
	TaskChunkLabeling: preferFast,
	TaskEmbedding:     preferGeneral,
	TaskQueryAnalysis: preferFast,
	TaskSummarization: preferFast,
	TaskThreadChat:    preferGeneral,
	TaskBriefing:      preferGeneral,
	TaskDeepDive:      preferGeneral,
}

// Router はタスク種別を具体的なプロバイダへ解決します
// ルーティング自体は決して nil を返しません。プロバイダの障害は
// 選ばれたプロバイダを実際に呼んだ時点で表面化します
type Router struct {
	general   Provider
	fast      Provider
	embedding Provider
	logger    *slog.Logger
}

// Option は Router の設定オプションです
type Option func(*Router)

// WithFastProvider は軽量タスク用の高速プロバイダを設定します
func WithFastProvider(provider Provider) Option {
	return func(r *Router) {
		r.fast = provider
	}
}

// WithEmbeddingProvider は埋め込み専用のプロバイダを設定します
// 未設定の場合は汎用プロバイダが使われます
func WithEmbeddingProvider(provider Provider) Option {
	return func(r *Router) {
		r.embedding = provider
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter は汎用プロバイダを必須として新しい Router を作成します
func NewRouter(general Provider, opts ...Option) *Router {
	r := &Router{
		general: general,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.embedding == nil {
		r.embedding = r.general
	}
	return r
}

// ProviderFor はタスク種別に応じたプロバイダを返します
// 高速プロバイダが未設定または利用不能な場合は汎用プロバイダへフォールバックします
func (r *Router) ProviderFor(ctx context.Context, task TaskType) Provider {
	if task == TaskEmbedding {
		return r.embedding
	}

	if defaults[task] == preferFast && r.fast != nil {
		if r.fast.Available(ctx) {
			return r.fast
		}
		r.logger.Debug("fast provider unavailable, falling back to general", "task", string(task))
	}
	return r.general
}

// EmbeddingProvider は埋め込み用に固定されたプロバイダを返します
// タスク種別のルーティングとは独立です
func (r *Router) EmbeddingProvider() Provider {
	return r.embedding
}
