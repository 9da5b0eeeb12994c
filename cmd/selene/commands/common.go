package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/selene-assistant/selene/internal/core/chunking"
	"github.com/selene-assistant/selene/internal/core/contextual"
	"github.com/selene-assistant/selene/internal/core/memory"
	"github.com/selene-assistant/selene/internal/core/retrieval"
	"github.com/selene-assistant/selene/internal/core/router"
	"github.com/selene-assistant/selene/internal/infra/ollama"
	"github.com/selene-assistant/selene/internal/infra/openai"
	"github.com/selene-assistant/selene/internal/infra/sqlite"
	"github.com/selene-assistant/selene/internal/platform/logger"
	"github.com/selene-assistant/selene/pkg/config"
	"github.com/selene-assistant/selene/pkg/db"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Database  *db.DB
	Store     *sqlite.Store
	Router    *router.Router
	Chunking  *chunking.Service
	Retrieval *retrieval.Service
	Memory    *memory.Service
	Context   *contextual.Retriever
	Logger    *slog.Logger
}

// NewAppContext は設定ファイルを読み込み、DBとプロバイダを初期化する
func NewAppContext(envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.New(logger.DefaultConfig())

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := sqlite.NewStore(database)

	// Ollama が汎用・埋め込みプロバイダ。OpenAI キーがあれば
	// 軽量タスク（ラベリング等）用の高速プロバイダとして追加する
	general := ollama.NewProvider(
		ollama.WithBaseURL(cfg.Ollama.Host),
		ollama.WithGenerateModel(cfg.Ollama.GenerateModel),
		ollama.WithEmbedModel(cfg.Ollama.EmbedModel),
	)

	routerOpts := []router.Option{router.WithLogger(appLogger)}
	if cfg.OpenAI.APIKey != "" {
		fast, err := openai.NewProvider(cfg.OpenAI.APIKey,
			openai.WithModel(cfg.OpenAI.Model),
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to init openai provider: %w", err)
		}
		routerOpts = append(routerOpts, router.WithFastProvider(fast))
	}
	taskRouter := router.NewRouter(general, routerOpts...)

	embedder := taskRouter.EmbeddingProvider()

	chunkingService := chunking.NewService(
		chunking.NewChunker(cfg.Engine.ChunkMaxTokens),
		store,
		embedder,
		chunking.WithTopicLabeler(labelerFunc(taskRouter)),
		chunking.WithIngestWorkers(cfg.Engine.IngestWorkers),
		chunking.WithLogger(appLogger),
	)

	return &AppContext{
		Config:    cfg,
		Database:  database,
		Store:     store,
		Router:    taskRouter,
		Chunking:  chunkingService,
		Retrieval: retrieval.NewService(store, embedder, appLogger),
		Memory:    memory.NewService(store, embedder, generatorFunc(taskRouter), appLogger),
		Context: contextual.NewRetriever(store,
			contextual.WithTokenBudget(cfg.Engine.ContextTokenBudget),
			contextual.WithLogger(appLogger)),
		Logger: appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// routedGenerator はルーターで解決したプロバイダに生成を委譲します
type routedGenerator struct {
	router *router.Router
	task   router.TaskType
}

func (g routedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.router.ProviderFor(ctx, g.task).Generate(ctx, prompt)
}

func labelerFunc(r *router.Router) chunking.Generator {
	return routedGenerator{router: r, task: router.TaskChunkLabeling}
}

func generatorFunc(r *router.Router) memory.Generator {
	return routedGenerator{router: r, task: router.TaskThreadChat}
}
