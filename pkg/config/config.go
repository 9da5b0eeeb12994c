// Package config は環境変数と .env ファイルからの設定読み込みを提供します
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// Ollama設定（ローカルプロバイダ）
	Ollama OllamaConfig

	// OpenAI設定（リモートプロバイダ、任意）
	OpenAI OpenAIConfig

	// 検索・記憶エンジンのチューニング
	Engine EngineConfig
}

// DatabaseConfig は SQLite データベース設定
type DatabaseConfig struct {
	Path string
}

// OllamaConfig はローカル Ollama プロバイダ設定
type OllamaConfig struct {
	Host          string
	GenerateModel string
	EmbedModel    string
}

// OpenAIConfig は OpenAI API 設定
// APIKey が空の場合 OpenAI プロバイダは無効になります
type OpenAIConfig struct {
	APIKey             string
	Model              string
	EmbeddingModel     string
	EmbeddingDimension int
}

// EngineConfig は検索・記憶エンジンのチューニング設定
type EngineConfig struct {
	ChunkMaxTokens     int
	ContextTokenBudget int
	IngestWorkers      int
}

// Load は環境変数または .env ファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path: getEnv("SELENE_DB_PATH", defaultDBPath()),
		},
		Ollama: OllamaConfig{
			Host:          getEnv("OLLAMA_HOST", "http://localhost:11434"),
			GenerateModel: getEnv("OLLAMA_GENERATE_MODEL", "llama3.1"),
			EmbedModel:    getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			Model:              getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Engine: EngineConfig{
			ChunkMaxTokens:     getEnvAsInt("SELENE_CHUNK_MAX_TOKENS", 256),
			ContextTokenBudget: getEnvAsInt("SELENE_CONTEXT_TOKEN_BUDGET", 3000),
			IngestWorkers:      getEnvAsInt("SELENE_INGEST_WORKERS", 4),
		},
	}

	return cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "selene.db"
	}
	return home + "/.selene/selene.db"
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
