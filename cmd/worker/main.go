package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hap/extract/internal/assignment"
	"hap/extract/internal/handlers"
	"hap/extract/internal/worker"
	"hap/extract/pkg/config"
	"hap/extract/pkg/infra/mysql"
	"hap/extract/pkg/infra/redis"
	"hap/extract/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "配置文件路径")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: worker [-config path] <job-type>\n\n")
	fmt.Fprintf(os.Stderr, "Job types:\n")
	for _, t := range assignment.All() {
		fmt.Fprintf(os.Stderr, "  %-10s → %s\n", t, t.Stream())
	}
	os.Exit(1)
}

func main() {
	flag.Parse()

	// 1. 解析任务类型参数
	if flag.NArg() != 1 {
		usage()
	}

	arg := flag.Arg(0)
	if arg == "all" {
		// 明确拒绝：一个进程只绑定一种类型，横向扩展靠多进程
		fmt.Fprintln(os.Stderr, "Error: 'all' is not supported, start one worker process per job type instead")
		usage()
	}

	jobType, err := assignment.Parse(arg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		usage()
	}

	log.Println("========================================")
	log.Printf("  Extraction Worker Starting... (%s)\n", jobType)
	log.Println("========================================")

	// 2. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 3. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 4. 初始化存储
	streamStore, err := redis.NewStreamStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to create stream store: %v", err)
	}
	defer streamStore.Close()

	statsStore, err := redis.NewStatsStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to create stats store: %v", err)
	}
	defer statsStore.Close()

	// 幂等账本（可选，DSN 为空则禁用）
	var ledger worker.Ledger
	if cfg.MySQL.DSN != "" {
		ledgerDAO, lerr := mysql.NewLedgerDAO(cfg.MySQL.DSN)
		if lerr != nil {
			log.Fatalf("Failed to create ledger DAO: %v", lerr)
		}
		defer ledgerDAO.Close()
		ledger = ledgerDAO
	}

	// 5. 注册 Handler（提取逻辑作为外部协作方接入；未注册类型回退占位处理器）
	registry := handlers.NewRegistry()

	// 6. 创建并启动 Worker
	w := worker.New(jobType, streamStore, registry, statsStore, ledger, worker.Options{
		ReadBlock:      cfg.Worker.ReadBlock,
		ErrorBackoff:   cfg.Worker.ErrorBackoff,
		HandlerTimeout: cfg.Worker.HandlerTimeout,
		AckPolicy:      cfg.Worker.AckPolicy,
	}, zapLogger)

	ctx := context.Background()
	go func() {
		if rerr := w.Run(ctx); rerr != nil {
			log.Fatalf("Worker run failed: %v", rerr)
		}
	}()

	log.Printf("Worker started: consumer=%s. Press Ctrl+C to shutdown.\n", w.Consumer())

	// 7. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Draining Worker...")
	log.Println("========================================")

	// 8. 优雅退出（当前读取周期结束后停止）
	w.Shutdown()
	w.Wait()

	processed, errors := w.Counts()
	fmt.Println("========================================")
	fmt.Printf("  Worker exited gracefully: processed=%d, errors=%d\n", processed, errors)
	fmt.Println("========================================")
}
