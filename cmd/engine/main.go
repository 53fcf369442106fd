package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gosignal/internal/api"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/pkg/config"
	"github.com/betbot/gosignal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envPath := flag.String("env", ".env", "环境变量文件路径")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := liveSources(cfg)
	if err != nil {
		logrus.Errorf("初始化交易所客户端失败: %v", err)
		os.Exit(1)
	}
	eng, err := newEngine(cfg, src)
	if err != nil {
		logrus.Errorf("启动失败: %v", err)
		os.Exit(1)
	}
	defer eng.close()

	if cfg.Server.APIAddr != "" {
		deps := api.Deps{
			Executor:     eng.exec,
			Orchestrator: eng.orch,
			Positions:    eng.ledger,
			Breaker:      eng.breaker,
			Resolution:   eng.monitor,
			Metrics:      metrics.Handler(),
		}
		if eng.journal != nil {
			deps.Journal = eng.journal
		}
		api.New(deps).Start(ctx, cfg.Server.APIAddr)
	}
	if cfg.Server.DebugAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Server.DebugAddr); err != nil {
			logrus.Warnf("启动 metrics 服务失败: %v", err)
		}
	}

	eng.start(ctx)
	logrus.Infof("✅ 引擎已启动 mode=%s，按 Ctrl+C 停止", eng.exec.Mode())

	interval := secs(cfg.Orchestrator.ScanIntervalSec)
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		eng.tick(ctx)
		eng.maybePrintStats(time.Now())
		select {
		case <-ctx.Done():
			logrus.Info("收到停止信号，正在关闭...")
			fmt.Println(renderStats(eng.snapshot()))
			return
		case <-ticker.C:
		}
	}
}
