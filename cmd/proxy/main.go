package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/koopa0/system-design/14-game-lobby/internal"
)

func main() {
	// 解析命令行參數
	var (
		addr     = flag.String("addr", ":17001", "代理監聽位址")
		upstream = flag.String("upstream", "localhost:17000", "上游大廳伺服器位址")
		logLevel = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxy := internal.NewProxy(*upstream, logger)
	if err := proxy.Run(ctx, *addr); err != nil {
		logger.Error("代理啟動失敗", "error", err)
		os.Exit(1)
	}
	logger.Info("代理已關閉")
}
