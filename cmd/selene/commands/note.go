package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/selene-assistant/selene/internal/core/retrieval"
	"github.com/selene-assistant/selene/pkg/models"
)

// NoteIndexAction はファイルまたはディレクトリのノートを取り込むアクション
func NoteIndexAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("path")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	files, err := collectNoteFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .md or .txt files found at %s", path)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		title := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		id, err := appCtx.Store.InsertNote(ctx, models.Note{Title: title, Content: string(content)})
		if err != nil {
			return err
		}
		appCtx.Logger.Info("note registered", "id", id, "title", title)
	}

	processed, err := appCtx.Chunking.IngestPending(ctx, len(files))
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d notes from %s\n", processed, path)
	return nil
}

// NoteSearchAction はチャンク検索を実行するアクション
func NoteSearchAction(ctx context.Context, cmd *cli.Command) error {
	query := cmd.String("query")
	limit := int(cmd.Int("limit"))
	budget := int(cmd.Int("budget"))
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	tokenBudget := mo.None[int]()
	if budget > 0 {
		tokenBudget = mo.Some(budget)
	}

	results, err := appCtx.Retrieval.Search(ctx, retrieval.SearchParams{
		Query:       query,
		Limit:       limit,
		TokenBudget: tokenBudget,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matching chunks found.")
		return nil
	}

	for i, result := range results {
		topic := ""
		if result.Chunk.Topic != nil {
			topic = " [" + *result.Chunk.Topic + "]"
		}
		fmt.Printf("%d. (%.3f)%s %s\n", i+1, result.Similarity, topic, result.Chunk.Preview())
	}
	return nil
}

// collectNoteFiles は取り込み対象のファイル一覧を返します
func collectNoteFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".md", ".txt":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files, nil
}
