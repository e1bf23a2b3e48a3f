package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var Version = "v0.1.0"

// main 是 solshuttle 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp()
	app.Name = "solshuttle"
	app.Version = Version
	app.Usage = "在两个 Solana 钱包之间定时来回转账随机金额"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "env-file",
			Usage:   "启动前加载的 .env 文件，不存在时忽略",
			Value:   ".env",
			EnvVars: []string{"SOLSHUTTLE_ENV_FILE"},
		},
	}
	app.Commands = []*cli.Command{
		RunCommand(),
		OnceCommand(),
		WalletsCommand(),
	}
	app.Action = runAction

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("solshuttle 运行失败: %v", err)
	}
}
