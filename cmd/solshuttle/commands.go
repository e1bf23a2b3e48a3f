package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"solshuttle/internal/report"
)

// RunCommand 返回持续运行的子命令。
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "持续交替转账，直到收到 SIGINT/SIGTERM",
		Action: runAction,
	}
}

// OnceCommand 返回只执行一个周期的子命令。
func OnceCommand() *cli.Command {
	return &cli.Command{
		Name:   "once",
		Usage:  "执行一次 A → B 转账并等待确认，失败时以非零状态退出",
		Action: onceAction,
	}
}

// WalletsCommand 返回打印钱包信息的子命令。
func WalletsCommand() *cli.Command {
	return &cli.Command{
		Name:   "wallets",
		Usage:  "打印两个钱包的地址与余额",
		Action: walletsAction,
	}
}

func runAction(cliCtx *cli.Context) error {
	ctx := cliCtx.Context
	rt, err := bootstrap(cliCtx)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.banner(ctx)
	sched, err := rt.newScheduler(ctx)
	if err != nil {
		return err
	}

	rt.logger.Info("进入转账循环")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	rt.logger.Info("收到退出信号，已停止")
	return nil
}

func onceAction(cliCtx *cli.Context) error {
	ctx := cliCtx.Context
	rt, err := bootstrap(cliCtx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := rt.newScheduler(ctx)
	if err != nil {
		return err
	}
	out := sched.RunOnce(ctx)
	if !out.Succeeded() {
		return cli.Exit(report.FormatLine(out), 1)
	}
	return nil
}

func walletsAction(cliCtx *cli.Context) error {
	ctx := cliCtx.Context
	rt, err := bootstrap(cliCtx)
	if err != nil {
		return err
	}
	defer rt.Close()

	w := cliCtx.App.Writer
	fmt.Fprintf(w, "cluster: %s (%s)\n", rt.endpoint.Name, rt.endpoint.RPCURL)
	for _, id := range rt.wallets() {
		balance, err := rt.balanceOf(ctx, id)
		if err != nil {
			balance = "查询失败: " + err.Error()
		}
		fmt.Fprintf(w, "%s: %s  %s\n", id.Name(), id.Address(), balance)
	}
	return nil
}
