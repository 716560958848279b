package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "tree-buffer/common/logger"
	"tree-buffer/internal/cli"
	"tree-buffer/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return cli.ExitFailure
	}

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, config.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return cli.ExitFailure
	}
	defer func() { _ = log.Sync() }()

	// 收到中断信号时取消运行；提交前取消不会写入
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.Execute(ctx, &cli.App{
		Config:    cfg,
		Logger:    log,
		NewRunner: cli.NewServiceRunner,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}, os.Args[1:])
}
