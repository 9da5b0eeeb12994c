package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContextBlockType はコンテキストブロックの種別を表します
type ContextBlockType string

const (
	BlockEmotionalHistory ContextBlockType = "EMOTIONAL HISTORY"
	BlockTaskHistory      ContextBlockType = "TASK HISTORY"
	BlockSentimentTrend   ContextBlockType = "EMOTIONAL TREND"
	BlockThreadState      ContextBlockType = "THREAD STATE"
)

// ContextBlock はプロンプトに注入する型付きコンテキスト断片です
// 1回のプロンプト構築で消費され、永続化されません
type ContextBlock struct {
	Type        ContextBlockType
	Content     string
	SourceDate  *time.Time
	SourceTitle *string
}

// Formatted は引用情報付きのブロック文字列を返します
func (b ContextBlock) Formatted() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(b.Type))
	if b.SourceDate != nil {
		sb.WriteString(" - ")
		sb.WriteString(b.SourceDate.Format("Jan 2"))
	}
	if b.SourceTitle != nil {
		sb.WriteString(" — ")
		sb.WriteString(*b.SourceTitle)
	}
	sb.WriteString("]: ")
	sb.WriteString(b.Content)
	return sb.String()
}

// RetrievedContext は組み立て済みのコンテキストブロック列です
type RetrievedContext struct {
	Blocks []ContextBlock
}

// Formatted は全ブロックをプロンプト注入用に結合します
func (r RetrievedContext) Formatted() string {
	parts := make([]string, 0, len(r.Blocks))
	for _, b := range r.Blocks {
		parts = append(parts, b.Formatted())
	}
	return strings.Join(parts, "\n")
}

// TaskOutcome はタスクのライフサイクル要約です
type TaskOutcome struct {
	TaskTitle   string
	TaskType    *string
	Status      string // "completed" / "abandoned" / "open"
	CreatedAt   time.Time
	CompletedAt *time.Time
	DaysOpen    int
}

// AbandonedAfterDays は完了していないタスクを放置とみなすまでの日数
const AbandonedAfterDays = 30

// DeriveTaskStatus はタスクの状態を導出します
// 完了日があれば completed、なければ経過日数で open / abandoned を判定します
func DeriveTaskStatus(createdAt time.Time, completedAt *time.Time, now time.Time) string {
	if completedAt != nil {
		return "completed"
	}
	if now.Sub(createdAt) > AbandonedAfterDays*24*time.Hour {
		return "abandoned"
	}
	return "open"
}

// DeriveDaysOpen は作成から完了（未完了なら現在）までの日数を返します
func DeriveDaysOpen(createdAt time.Time, completedAt *time.Time, now time.Time) int {
	reference := now
	if completedAt != nil {
		reference = *completedAt
	}
	days := int(reference.Sub(createdAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// SentimentTrend は一定期間のトーン分布の集計です
type SentimentTrend struct {
	ToneCounts    map[string]int
	TotalNotes    int
	AverageScore  *float64
	PeriodDays    int
}

// Formatted はコンテキスト注入用の文字列を返します（例: "frustrated 4x, anxious 2x"）
func (t SentimentTrend) Formatted() string {
	type toneCount struct {
		tone  string
		count int
	}
	var sorted []toneCount
	for tone, count := range t.ToneCounts {
		if tone == "neutral" {
			continue
		}
		sorted = append(sorted, toneCount{tone, count})
	}
	if len(sorted) == 0 {
		return "mostly neutral"
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].tone < sorted[j].tone
	})
	parts := make([]string, 0, len(sorted))
	for _, tc := range sorted {
		parts = append(parts, fmt.Sprintf("%s %dx", tc.tone, tc.count))
	}
	return strings.Join(parts, ", ")
}

// ThreadState はスレッドの現況要約です
type ThreadState struct {
	ID             int64
	Name           string
	Status         string
	NoteCount      int
	OpenTaskCount  int
	LastActivityAt *time.Time
	Momentum       string
}
