// Package db は SQLite データベース接続と移行を提供します
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB はデータベース接続を保持します
type DB struct {
	Conn *sql.DB
}

// New は指定パスの SQLite データベースを開きます（なければ作成）
// WALモードと外部キー制約を有効化し、スキーマ移行を適用します
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DB{Conn: conn}, nil
}

// Close はデータベース接続を閉じます
func (db *DB) Close() error {
	return db.Conn.Close()
}

func migrate(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		name             TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		momentum         TEXT NOT NULL DEFAULT 'steady',
		last_activity_at TEXT,
		created_at       TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS notes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id  INTEGER REFERENCES threads(id) ON DELETE SET NULL,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		tone       TEXT,
		essence    TEXT,
		chunked_at TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_notes_thread ON notes(thread_id);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at DESC);

	CREATE TABLE IF NOT EXISTS note_chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		note_id     INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content     TEXT NOT NULL,
		topic       TEXT,
		token_count INTEGER NOT NULL,
		embedding   BLOB,
		created_at  TEXT NOT NULL DEFAULT (datetime('now')),
		UNIQUE(note_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_note_chunks_note ON note_chunks(note_id);

	CREATE TABLE IF NOT EXISTS memories (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		content           TEXT NOT NULL,
		memory_type       TEXT NOT NULL DEFAULT 'fact',
		confidence        REAL NOT NULL DEFAULT 0.5,
		source_session_id TEXT,
		embedding         BLOB,
		last_accessed_at  TEXT,
		created_at        TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);

	CREATE TABLE IF NOT EXISTS thread_tasks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id    INTEGER REFERENCES threads(id) ON DELETE SET NULL,
		title        TEXT NOT NULL,
		task_type    TEXT,
		created_at   TEXT NOT NULL DEFAULT (datetime('now')),
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_thread_tasks_thread ON thread_tasks(thread_id);
	`
	_, err := conn.Exec(schema)
	return err
}
