package models

import "time"

// MemoryType は記憶の種別を表します
type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypePattern    MemoryType = "pattern"
	MemoryTypeContext    MemoryType = "context"
)

// ParseMemoryType は文字列を MemoryType に変換します
// 不明な値は fact にフォールバックします
func ParseMemoryType(s string) MemoryType {
	switch MemoryType(s) {
	case MemoryTypeFact, MemoryTypePreference, MemoryTypePattern, MemoryTypeContext:
		return MemoryType(s)
	default:
		return MemoryTypeFact
	}
}

// Memory は会話から抽出・統合された長期記憶を表します
// Content と Confidence は統合処理によって書き換わることがあります
type Memory struct {
	ID              int64      `json:"id"`
	Content         string     `json:"content"`
	MemoryType      MemoryType `json:"memoryType"`
	Confidence      float64    `json:"confidence"`
	SourceSessionID *string    `json:"sourceSessionID,omitempty"`
	LastAccessedAt  *time.Time `json:"lastAccessedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// MemoryWithEmbedding は記憶とその埋め込みベクトルのペアです
type MemoryWithEmbedding struct {
	Memory    Memory
	Embedding []float32
}

// CandidateFact は抽出直後のまだ永続化されていない事実です
// 統合処理の入力としてのみ使われます
type CandidateFact struct {
	Fact       string  `json:"fact"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ConversationMessage は抽出時に参照する直近の発話です
type ConversationMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}
