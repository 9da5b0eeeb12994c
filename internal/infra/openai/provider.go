// Package openai は OpenAI API を使う LLM プロバイダ実装です
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/pkoukk/tiktoken-go"

	"github.com/selene-assistant/selene/internal/core/router"
)

const (
	// DefaultModel はデフォルトで使用する生成モデル
	DefaultModel = "gpt-4o-mini"

	// DefaultEmbeddingModel はデフォルトの埋め込みモデル
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimension はデフォルトのベクトル次元
	DefaultEmbeddingDimension = 1536

	// EmbeddingTokenLimit は埋め込みAPIの入力トークン上限
	EmbeddingTokenLimit = 8192

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Provider は OpenAI API のクライアントです
type Provider struct {
	client       openai.Client
	model        string
	embedModel   string
	dimension    int
	timeout      time.Duration
	jsonResponse bool
	encoding     *tiktoken.Tiktoken
}

// Option は Provider の設定オプションです
type Option func(*Provider)

// WithModel は生成モデルを上書きします
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithEmbeddingModel は埋め込みモデルを上書きします
func WithEmbeddingModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.embedModel = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を上書きします
func WithEmbeddingDimension(dimension int) Option {
	return func(p *Provider) {
		if dimension > 0 {
			p.dimension = dimension
		}
	}
}

// WithJSONResponseFormat は生成応答を JSON オブジェクトに制約します
// JSON を返せるモデルでのみ有効です
func WithJSONResponseFormat() Option {
	return func(p *Provider) {
		p.jsonResponse = true
	}
}

// WithTimeout はAPIコールのタイムアウトを設定します
func WithTimeout(timeout time.Duration) Option {
	return func(p *Provider) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewProvider はAPIキーを指定して新しい Provider を作成します
// tiktoken のエンコーディングはベストエフォートで読み込み、
// 失敗した場合は埋め込み入力のトリミングを行いません
func NewProvider(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	p := &Provider{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      DefaultModel,
		embedModel: DefaultEmbeddingModel,
		dimension:  DefaultEmbeddingDimension,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		p.encoding = enc
	}

	return p, nil
}

// ModelName は生成モデル名を返します
func (p *Provider) ModelName() string {
	return p.model
}

// Dimension は埋め込みベクトルの次元数を返します
func (p *Provider) Dimension() int {
	return p.dimension
}

// Generate はプロンプトからテキストを生成します
// レート制限エラーはExponential Backoffでリトライします
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return "", err
			}
		}

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(p.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		}
		if p.jsonResponse {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{
					Type: "json_object",
				},
			}
		}

		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", fmt.Errorf("OpenAI API call failed: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// Embed はテキストの埋め込みベクトルを返します
// 入力はモデルのトークン上限に収まるようトリミングします
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(p.trimToTokenLimit(text, EmbeddingTokenLimit)),
		},
	}
	if p.dimension > 0 {
		params.Dimensions = openai.Int(int64(p.dimension))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Available はプロバイダの利用可否を返します
// リモートAPIの疎通は確認せず、認証情報の有無だけで判定します
func (p *Provider) Available(ctx context.Context) bool {
	return true
}

// trimToTokenLimit はテキストをトークン上限以内に切り詰めます
func (p *Provider) trimToTokenLimit(text string, maxTokens int) string {
	if p.encoding == nil {
		return text
	}
	tokens := p.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return p.encoding.Decode(tokens[:maxTokens])
}

func backoff(ctx context.Context, attempt int) error {
	duration := time.Duration(math.Pow(2, float64(attempt-1))) * BaseBackoff
	if duration > MaxBackoff {
		duration = MaxBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
		return nil
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// インターフェース実装の確認
var _ router.Provider = (*Provider)(nil)
