package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/selene-assistant/selene/cmd/selene/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "selene",
		Usage: "パーソナルナレッジアシスタントの検索・記憶エンジン",
		Commands: []*cli.Command{
			{
				Name:  "note",
				Usage: "ノート管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "index",
						Usage: "ファイルまたはディレクトリのノートを取り込む",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "path",
								Usage:    "取り込み対象 (.md/.txt ファイルまたはディレクトリ)",
								Required: true,
							},
						},
						Action: commands.NoteIndexAction,
					},
					{
						Name:  "search",
						Usage: "チャンクを類似度検索",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "query",
								Usage:    "検索クエリ",
								Required: true,
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "最大件数",
								Value: 10,
							},
							&cli.IntFlag{
								Name:  "budget",
								Usage: "推定トークン上限（0で無制限）",
							},
						},
						Action: commands.NoteSearchAction,
					},
				},
			},
			{
				Name:  "memory",
				Usage: "記憶管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "backfill",
						Usage: "埋め込みのない記憶を埋め込む",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.MemoryBackfillAction,
					},
					{
						Name:  "recall",
						Usage: "クエリに関連する記憶を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "query",
								Usage:    "検索クエリ",
								Required: true,
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "最大件数",
								Value: 5,
							},
						},
						Action: commands.MemoryRecallAction,
					},
					{
						Name:  "list",
						Usage: "直近の記憶を一覧表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "最大件数",
								Value: 20,
							},
						},
						Action: commands.MemoryListAction,
					},
				},
			},
			{
				Name:  "context",
				Usage: "コンテキスト組み立てコマンド",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "クエリに対するコンテキストブロックを表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "query",
								Usage:    "クエリ",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "keywords",
								Usage: "キーワード（カンマ区切り）",
							},
							&cli.IntFlag{
								Name:  "thread",
								Usage: "スレッドID（省略可）",
							},
						},
						Action: commands.ContextShowAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
