// Package ollama はローカル Ollama インスタンスを使う LLM プロバイダ実装です
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/selene-assistant/selene/internal/core/router"
)

const (
	// DefaultBaseURL は Ollama のデフォルトエンドポイント
	DefaultBaseURL = "http://localhost:11434"

	// DefaultGenerateModel はデフォルトの生成モデル
	DefaultGenerateModel = "llama3.1"

	// DefaultEmbedModel はデフォルトの埋め込みモデル（768次元）
	DefaultEmbedModel = "nomic-embed-text"

	// DefaultTimeout は生成・埋め込み呼び出しのタイムアウト
	DefaultTimeout = 120 * time.Second

	// probeTimeout は Available の疎通確認タイムアウト
	probeTimeout = 2 * time.Second
)

// ErrUnavailable は Ollama サーバーに到達できない場合のエラー
var ErrUnavailable = errors.New("ollama server unavailable")

// Provider は Ollama HTTP API のクライアントです
type Provider struct {
	baseURL       string
	generateModel string
	embedModel    string
	client        *http.Client
}

// Option は Provider の設定オプションです
type Option func(*Provider)

// WithBaseURL はエンドポイントを上書きします
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithGenerateModel は生成モデルを上書きします
func WithGenerateModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.generateModel = model
		}
	}
}

// WithEmbedModel は埋め込みモデルを上書きします
func WithEmbedModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.embedModel = model
		}
	}
}

// WithTimeout はHTTPタイムアウトを設定します
func WithTimeout(timeout time.Duration) Option {
	return func(p *Provider) {
		if timeout > 0 {
			p.client.Timeout = timeout
		}
	}
}

// NewProvider は新しい Provider を作成します
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		baseURL:       DefaultBaseURL,
		generateModel: DefaultGenerateModel,
		embedModel:    DefaultEmbedModel,
		client:        &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Generate はプロンプトからテキストを生成します
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	var result generateResponse
	err := p.post(ctx, "/api/generate", generateRequest{
		Model:  p.generateModel,
		Prompt: prompt,
		Stream: false,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// Embed はテキストの埋め込みベクトルを返します
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embedResponse
	err := p.post(ctx, "/api/embeddings", embedRequest{
		Model:  p.embedModel,
		Prompt: text,
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	return result.Embedding, nil
}

// Available はサーバーの疎通を確認します
func (p *Provider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// post はJSONリクエストを送りJSONレスポンスをデコードします
func (p *Provider) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// インターフェース実装の確認
var _ router.Provider = (*Provider)(nil)
