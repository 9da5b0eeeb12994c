package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// MemoryBackfillAction は埋め込みのない記憶を埋め込むアクション
func MemoryBackfillAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	count, err := appCtx.Memory.BackfillEmbeddings(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Embedded %d memories\n", count)
	return nil
}

// MemoryRecallAction はクエリに関連する記憶を表示するアクション
func MemoryRecallAction(ctx context.Context, cmd *cli.Command) error {
	query := cmd.String("query")
	limit := int(cmd.Int("limit"))
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	memories, err := appCtx.Memory.GetRelevantMemories(ctx, query, limit)
	if err != nil {
		return err
	}

	if len(memories) == 0 {
		fmt.Println("No relevant memories found.")
		return nil
	}

	for _, m := range memories {
		fmt.Printf("[%s %.2f] %s\n", m.MemoryType, m.Confidence, m.Content)
	}
	return nil
}

// MemoryListAction は直近の記憶を一覧表示するアクション
func MemoryListAction(ctx context.Context, cmd *cli.Command) error {
	limit := int(cmd.Int("limit"))
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	memories, err := appCtx.Store.ListRecentMemories(ctx, limit)
	if err != nil {
		return err
	}

	if len(memories) == 0 {
		fmt.Println("No memories stored yet.")
		return nil
	}

	for _, m := range memories {
		accessed := "never"
		if m.LastAccessedAt != nil {
			accessed = m.LastAccessedAt.Format("2006-01-02")
		}
		fmt.Printf("#%d [%s %.2f] %s (last accessed: %s)\n",
			m.ID, m.MemoryType, m.Confidence, m.Content, accessed)
	}
	return nil
}
