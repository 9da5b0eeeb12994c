// Package logger は構造化ログの初期化を提供します
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Config はロガーの設定
type Config struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// DefaultConfig は環境変数を反映したデフォルトのロガー設定を返します
// SELENE_LOG_LEVEL (debug/info/warn/error) と SELENE_LOG_FORMAT (json/text)
func DefaultConfig() Config {
	return Config{
		Level:  parseLevel(os.Getenv("SELENE_LOG_LEVEL")),
		Format: strings.ToLower(os.Getenv("SELENE_LOG_FORMAT")),
	}
}

// New は新しいロガーを作成し、デフォルトロガーとして設定します
// CLI の標準出力は検索結果表示に使うため、ログは標準エラーに出します
func New(cfg Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default: // "json"
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
