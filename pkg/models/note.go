package models

import "time"

// Note は取り込み対象のノート（ドキュメント）を表します
type Note struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tone      *string    `json:"tone,omitempty"`
	Essence   *string    `json:"essence,omitempty"`
	ChunkedAt *time.Time `json:"chunkedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Chunk はノートを分割したチャンクを表します
// (NoteID, ChunkIndex) は一意で、同一ノート内では 0 から連番になります
type Chunk struct {
	ID         int64     `json:"id"`
	NoteID     int64     `json:"noteID"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	Topic      *string   `json:"topic,omitempty"`
	TokenCount int       `json:"tokenCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Preview は表示用に切り詰めたチャンク内容を返します
func (c Chunk) Preview() string {
	const max = 100
	if len(c.Content) <= max {
		return c.Content
	}
	return c.Content[:max] + "..."
}

// ChunkWithEmbedding はチャンクとその埋め込みベクトルのペアです
// Embedding が nil の場合は未埋め込み（検索対象外だが有効な状態）
type ChunkWithEmbedding struct {
	Chunk     Chunk
	Embedding []float32
}
