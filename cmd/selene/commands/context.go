package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"
)

// ContextShowAction は組み立てたコンテキストブロックを表示するアクション
func ContextShowAction(ctx context.Context, cmd *cli.Command) error {
	query := cmd.String("query")
	keywordsFlag := cmd.String("keywords")
	threadID := cmd.Int("thread")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var keywords []string
	for _, kw := range strings.Split(keywordsFlag, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	thread := mo.None[int64]()
	if threadID > 0 {
		thread = mo.Some(int64(threadID))
	}

	result, err := appCtx.Context.Retrieve(ctx, query, keywords, thread)
	if err != nil {
		return err
	}

	if len(result.Blocks) == 0 {
		fmt.Println("No context available for this query.")
		return nil
	}

	fmt.Println(result.Formatted())
	return nil
}
