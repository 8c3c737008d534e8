package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koopa0/system-design/14-game-lobby/internal"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑 (YAML)")
		addr       = flag.String("addr", "", "大廳監聽位址（覆蓋配置檔）")
		adminAddr  = flag.String("admin-addr", "", "監控/指標位址（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 讀取配置
	config := internal.DefaultConfig()
	if *configPath != "" {
		loaded, err := internal.LoadConfig(*configPath)
		if err != nil {
			slog.Error("讀取配置失敗", "error", err)
			os.Exit(1)
		}
		config = loaded
	}
	if *addr != "" {
		config.Server.Addr = *addr
	}
	if *adminAddr != "" {
		config.Server.AdminAddr = *adminAddr
	}
	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	if *logFormat != "" {
		config.Log.Format = *logFormat
	}
	// 位置參數：裸埠號或完整位址皆可
	if flag.NArg() > 0 {
		config.Server.Addr = parseListenAddr(flag.Arg(0), config.Server.Addr)
	}

	logger := setupLogger(config.Log.Level, config.Log.Format)

	// 指標與監控
	registry := prometheus.NewRegistry()
	metrics := internal.NewMetrics(registry)
	monitor := internal.NewMonitor(logger)

	server := internal.NewServer(config, logger, metrics, monitor)

	// 等待中斷信號
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 管理端點：健康檢查、Prometheus 指標、WebSocket 監控
	var admin *http.Server
	if config.Server.AdminAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/ws/monitor", monitor.ServeWS)

		admin = &http.Server{
			Addr:         config.Server.AdminAddr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("管理端點啟動", "addr", config.Server.AdminAddr)
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("管理端點啟動失敗", "error", err)
			}
		}()
	}

	// 大廳主迴圈：阻塞直到收到關閉信號
	if err := server.Run(ctx); err != nil {
		logger.Error("伺服器啟動失敗", "error", err)
		os.Exit(1)
	}

	// 優雅關閉
	logger.Info("收到關閉信號，開始優雅關閉...")
	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Error("管理端點關閉失敗", "error", err)
		}
	}
	monitor.Stop()
	logger.Info("伺服器已關閉")
}

// parseListenAddr 解析位置參數：裸埠號補成 ":port"，
// 含冒號視為完整位址，否則退回預設值
func parseListenAddr(s, fallback string) string {
	if port, err := strconv.ParseUint(s, 10, 16); err == nil {
		return ":" + strconv.FormatUint(port, 10)
	}
	if strings.Contains(s, ":") {
		return s
	}
	return fallback
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
