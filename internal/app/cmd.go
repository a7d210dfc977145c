package app

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/hitoshi/storefront/internal/database"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの削除ワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewCLI はサブコマンドを定義したCLIアプリケーションを生成する。
// サブコマンドを省略した場合はserveとして起動する。
// ログはwに出力する。
func NewCLI(w io.Writer) *cli.App {
	return &cli.App{
		Name:            "storefront",
		Usage:           "storefront access gate",
		Writer:          w,
		ErrWriter:       w,
		HideHelpCommand: true,
		Action: func(c *cli.Context) error {
			return serveAction(c, w)
		},
		Commands: []*cli.Command{
			{
				Name:  string(CommandServe),
				Usage: "APIサーバーとメトリクスサーバーを起動する",
				Action: func(c *cli.Context) error {
					return serveAction(c, w)
				},
			},
			{
				Name:  string(CommandWorker),
				Usage: "期限切れセッションを定期的に削除する",
				Action: func(c *cli.Context) error {
					cfg, err := Init(w)
					if err != nil {
						return fmt.Errorf("initialization failed: %w", err)
					}
					return runWorker(c.Context, cfg)
				},
			},
			migrateCommand(w),
			{
				Name:  string(CommandHealthcheck),
				Usage: "ローカルのAPIサーバーの/healthを確認する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Usage:   "APIサーバーのポート",
						EnvVars: []string{"SERVER_PORT"},
						Value:   "8080",
					},
				},
				// 軽量サブコマンドのため、設定の読み込みをスキップする
				Action: func(c *cli.Context) error {
					return runHealthcheck(c.Context, c.String("port"))
				},
			},
		},
	}
}

func serveAction(c *cli.Context, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	return runServe(c.Context, cfg)
}

func migrateCommand(w io.Writer) *cli.Command {
	up := func(c *cli.Context) error {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(cfg)
	}

	return &cli.Command{
		Name:   string(CommandMigrate),
		Usage:  "データベースマイグレーションを管理する（省略時はup）",
		Action: up,
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "未適用のマイグレーションをすべて適用する",
				Action: up,
			},
			{
				Name:  "down",
				Usage: "直近のマイグレーションを取り消す",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "取り消す件数"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := Init(w)
					if err != nil {
						return fmt.Errorf("initialization failed: %w", err)
					}
					if err := database.RollbackMigrations(cfg.DatabaseURL, c.Int("steps")); err != nil {
						return fmt.Errorf("rollback failed: %w", err)
					}
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "現在のスキーマバージョンを表示する",
				Action: func(c *cli.Context) error {
					cfg, err := Init(w)
					if err != nil {
						return fmt.Errorf("initialization failed: %w", err)
					}
					version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "version=%d dirty=%t\n", version, dirty)
					return nil
				},
			},
		},
	}
}
