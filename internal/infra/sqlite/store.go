// Package sqlite は SQLite を使った永続化層の実装です
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/selene-assistant/selene/internal/core/chunking"
	"github.com/selene-assistant/selene/internal/core/contextual"
	"github.com/selene-assistant/selene/internal/core/embedding"
	"github.com/selene-assistant/selene/internal/core/memory"
	"github.com/selene-assistant/selene/internal/core/retrieval"
	"github.com/selene-assistant/selene/pkg/db"
	"github.com/selene-assistant/selene/pkg/models"
)

// Store は各コアサービスのリポジトリインターフェースを実装します
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore は新しい Store を作成します
func NewStore(database *db.DB) *Store {
	return &Store{db: database.Conn, now: time.Now}
}

// コンパイル時の型チェック
var (
	_ chunking.Repository    = (*Store)(nil)
	_ retrieval.Repository   = (*Store)(nil)
	_ memory.Repository      = (*Store)(nil)
	_ contextual.DataProvider = (*Store)(nil)
)

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime は RFC3339 と SQLite の datetime('now') 形式の両方を受け付けます
func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// === Note ===

// InsertNote は新しいノートを挿入し、採番されたIDを返します
func (s *Store) InsertNote(ctx context.Context, note models.Note) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (title, content, tone, essence, created_at) VALUES (?, ?, ?, ?, ?)`,
		note.Title, note.Content, note.Tone, note.Essence, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to insert note: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get note id: %w", err)
	}
	return id, nil
}

// ListUnchunkedNotes は未チャンク化のノートを古い順に取得します
func (s *Store) ListUnchunkedNotes(ctx context.Context, limit int) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, tone, essence, chunked_at, created_at
		 FROM notes WHERE chunked_at IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unchunked notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

func scanNote(rows *sql.Rows) (models.Note, error) {
	var (
		note      models.Note
		tone      sql.NullString
		essence   sql.NullString
		chunkedAt sql.NullString
		createdAt string
	)
	if err := rows.Scan(&note.ID, &note.Title, &note.Content, &tone, &essence, &chunkedAt, &createdAt); err != nil {
		return models.Note{}, fmt.Errorf("failed to scan note: %w", err)
	}
	if tone.Valid {
		note.Tone = &tone.String
	}
	if essence.Valid {
		note.Essence = &essence.String
	}
	note.ChunkedAt = parseTimePtr(chunkedAt)
	note.CreatedAt = parseTime(createdAt)
	return note, nil
}

// === Chunk ===

// ReplaceChunks はノートのチャンクを一括で置き換えます
// 削除・挿入・chunked_at の更新を同一トランザクションで行います
func (s *Store) ReplaceChunks(ctx context.Context, noteID int64, chunks []models.Chunk) ([]models.Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_chunks WHERE note_id = ?`, noteID); err != nil {
		return nil, fmt.Errorf("failed to delete old chunks: %w", err)
	}

	now := formatTime(s.now())
	saved := make([]models.Chunk, 0, len(chunks))
	for i, chunk := range chunks {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO note_chunks (note_id, chunk_index, content, topic, token_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			noteID, i, chunk.Content, chunk.Topic, chunk.TokenCount, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get chunk id: %w", err)
		}
		chunk.ID = id
		chunk.NoteID = noteID
		chunk.ChunkIndex = i
		saved = append(saved, chunk)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE notes SET chunked_at = ? WHERE id = ?`, now, noteID); err != nil {
		return nil, fmt.Errorf("failed to mark note as chunked: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return saved, nil
}

// SaveChunkEmbedding はチャンクの埋め込みをバイト列として保存します
func (s *Store) SaveChunkEmbedding(ctx context.Context, chunkID int64, vector []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE note_chunks SET embedding = ? WHERE id = ?`,
		embedding.Serialize(vector), chunkID)
	if err != nil {
		return fmt.Errorf("failed to save chunk embedding: %w", err)
	}
	return nil
}

// UpdateChunkTopic はチャンクのトピックラベルを更新します
func (s *Store) UpdateChunkTopic(ctx context.Context, chunkID int64, topic string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE note_chunks SET topic = ? WHERE id = ?`, topic, chunkID)
	if err != nil {
		return fmt.Errorf("failed to update chunk topic: %w", err)
	}
	return nil
}

// ListChunksWithEmbeddings は全チャンクを埋め込み付きで取得します
// 破損した埋め込みバイト列は nil（未埋め込み）として扱います
func (s *Store) ListChunksWithEmbeddings(ctx context.Context) ([]models.ChunkWithEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, note_id, chunk_index, content, topic, token_count, embedding, created_at
		 FROM note_chunks ORDER BY note_id, chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var result []models.ChunkWithEmbedding
	for rows.Next() {
		var (
			chunk     models.Chunk
			topic     sql.NullString
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&chunk.ID, &chunk.NoteID, &chunk.ChunkIndex, &chunk.Content,
			&topic, &chunk.TokenCount, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if topic.Valid {
			chunk.Topic = &topic.String
		}
		chunk.CreatedAt = parseTime(createdAt)

		var vector []float32
		if len(blob) > 0 {
			if v, err := embedding.Deserialize(blob); err == nil {
				vector = v
			}
		}
		result = append(result, models.ChunkWithEmbedding{Chunk: chunk, Embedding: vector})
	}
	return result, rows.Err()
}

// === Memory ===

// InsertMemory は新しい記憶を挿入し、採番されたIDを返します
func (s *Store) InsertMemory(ctx context.Context, m models.Memory, vector []float32) (int64, error) {
	now := formatTime(s.now())
	var blob []byte
	if vector != nil {
		blob = embedding.Serialize(vector)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (content, memory_type, confidence, source_session_id, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Content, string(m.MemoryType), m.Confidence, m.SourceSessionID, blob, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get memory id: %w", err)
	}
	return id, nil
}

// UpdateMemory は記憶の内容と埋め込みをその場で書き換えます
func (s *Store) UpdateMemory(ctx context.Context, id int64, content string, vector []float32) error {
	var blob []byte
	if vector != nil {
		blob = embedding.Serialize(vector)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		content, blob, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %d", id)
	}
	return nil
}

// DeleteMemory は記憶を削除します
func (s *Store) DeleteMemory(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %d", id)
	}
	return nil
}

// SaveMemoryEmbedding は既存の記憶に埋め込みだけを保存します
func (s *Store) SaveMemoryEmbedding(ctx context.Context, id int64, vector []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding = ? WHERE id = ?`,
		embedding.Serialize(vector), id)
	if err != nil {
		return fmt.Errorf("failed to save memory embedding: %w", err)
	}
	return nil
}

// TouchMemories は記憶の最終アクセス時刻を更新します
func (s *Store) TouchMemories(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(s.now()))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE memories SET last_accessed_at = ? WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to touch memories: %w", err)
	}
	return nil
}

// ListMemoriesWithEmbeddings は全記憶を埋め込み付きで取得します
func (s *Store) ListMemoriesWithEmbeddings(ctx context.Context) ([]models.MemoryWithEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, memory_type, confidence, source_session_id, embedding, last_accessed_at, created_at, updated_at
		 FROM memories ORDER BY confidence DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var result []models.MemoryWithEmbedding
	for rows.Next() {
		m, blob, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		var vector []float32
		if len(blob) > 0 {
			if v, err := embedding.Deserialize(blob); err == nil {
				vector = v
			}
		}
		result = append(result, models.MemoryWithEmbedding{Memory: m, Embedding: vector})
	}
	return result, rows.Err()
}

// ListRecentMemories は新しい順に最大 limit 件の記憶を取得します
func (s *Store) ListRecentMemories(ctx context.Context, limit int) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, memory_type, confidence, source_session_id, embedding, last_accessed_at, created_at, updated_at
		 FROM memories ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent memories: %w", err)
	}
	defer rows.Close()

	var result []models.Memory
	for rows.Next() {
		m, _, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanMemory(rows *sql.Rows) (models.Memory, []byte, error) {
	var (
		m              models.Memory
		memoryType     string
		sessionID      sql.NullString
		blob           []byte
		lastAccessedAt sql.NullString
		createdAt      string
		updatedAt      string
	)
	if err := rows.Scan(&m.ID, &m.Content, &memoryType, &m.Confidence, &sessionID,
		&blob, &lastAccessedAt, &createdAt, &updatedAt); err != nil {
		return models.Memory{}, nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	m.MemoryType = models.ParseMemoryType(memoryType)
	if sessionID.Valid {
		m.SourceSessionID = &sessionID.String
	}
	m.LastAccessedAt = parseTimePtr(lastAccessedAt)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return m, blob, nil
}

// === Contextual aggregates ===

// GetEmotionalNotes はキーワードに一致する非ニュートラルなトーンのノートを返します
// キーワードが空の場合は空の結果を返します
func (s *Store) GetEmotionalNotes(ctx context.Context, keywords []string, limit int) ([]models.Note, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(keywords))
	args := []any{}
	for _, kw := range keywords {
		conditions = append(conditions, `(content LIKE ? OR title LIKE ?)`)
		pattern := "%" + kw + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT id, title, content, tone, essence, chunked_at, created_at
		 FROM notes
		 WHERE tone IS NOT NULL AND tone != 'neutral' AND (%s)
		 ORDER BY created_at DESC LIMIT ?`, strings.Join(conditions, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query emotional notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// GetTaskOutcomes はキーワードに一致するタスクの結果要約を返します
// status と daysOpen は読み出し時に導出します
func (s *Store) GetTaskOutcomes(ctx context.Context, keywords []string, limit int) ([]models.TaskOutcome, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(keywords))
	args := []any{}
	for _, kw := range keywords {
		conditions = append(conditions, `title LIKE ?`)
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT title, task_type, created_at, completed_at
		 FROM thread_tasks WHERE %s
		 ORDER BY created_at DESC LIMIT ?`, strings.Join(conditions, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task outcomes: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var outcomes []models.TaskOutcome
	for rows.Next() {
		var (
			outcome     models.TaskOutcome
			taskType    sql.NullString
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&outcome.TaskTitle, &taskType, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task outcome: %w", err)
		}
		if taskType.Valid {
			outcome.TaskType = &taskType.String
		}
		outcome.CreatedAt = parseTime(createdAt)
		outcome.CompletedAt = parseTimePtr(completedAt)
		outcome.Status = models.DeriveTaskStatus(outcome.CreatedAt, outcome.CompletedAt, now)
		outcome.DaysOpen = models.DeriveDaysOpen(outcome.CreatedAt, outcome.CompletedAt, now)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

// GetSentimentTrend は直近 days 日間のトーン分布を集計します
func (s *Store) GetSentimentTrend(ctx context.Context, days int) (models.SentimentTrend, error) {
	since := formatTime(s.now().AddDate(0, 0, -days))
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(tone, 'neutral'), COUNT(*) FROM notes
		 WHERE created_at >= ? GROUP BY COALESCE(tone, 'neutral')`, since)
	if err != nil {
		return models.SentimentTrend{}, fmt.Errorf("failed to query sentiment trend: %w", err)
	}
	defer rows.Close()

	trend := models.SentimentTrend{ToneCounts: map[string]int{}, PeriodDays: days}
	for rows.Next() {
		var (
			tone  string
			count int
		)
		if err := rows.Scan(&tone, &count); err != nil {
			return models.SentimentTrend{}, fmt.Errorf("failed to scan sentiment trend: %w", err)
		}
		trend.ToneCounts[tone] = count
		trend.TotalNotes += count
	}
	return trend, rows.Err()
}

// GetThreadState はスレッドの現況を返します。存在しなければ nil を返します
func (s *Store) GetThreadState(ctx context.Context, threadID int64) (*models.ThreadState, error) {
	var (
		state          models.ThreadState
		lastActivityAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.name, t.status, t.momentum, t.last_activity_at,
		        (SELECT COUNT(*) FROM notes WHERE thread_id = t.id),
		        (SELECT COUNT(*) FROM thread_tasks WHERE thread_id = t.id AND completed_at IS NULL)
		 FROM threads t WHERE t.id = ?`, threadID).
		Scan(&state.ID, &state.Name, &state.Status, &state.Momentum, &lastActivityAt,
			&state.NoteCount, &state.OpenTaskCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query thread state: %w", err)
	}
	state.LastActivityAt = parseTimePtr(lastActivityAt)
	return &state, nil
}
