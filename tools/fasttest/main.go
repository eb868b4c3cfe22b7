package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"hap/extract/internal/orchestrator"
	"hap/extract/pkg/config"
	"hap/extract/pkg/infra/redis"
	"hap/extract/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "配置文件路径")
	withPhotos = flag.Bool("photos", true, "附带两张示例图片")
)

// FastTest：对真实 Redis 做一次派发冒烟
// 派发一条消息提取扇出 + 实体归一 + 到期摘要重建，最后打印统计量
func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  FastTest - Extraction Dispatch 冒烟工具")
	fmt.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Config loaded: %s\n", cfg.App.Name)

	// 2. 初始化存储与派发器
	streamStore, err := redis.NewStreamStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		fmt.Printf("❌ Failed to create stream store: %v\n", err)
		os.Exit(1)
	}
	defer streamStore.Close()

	statsStore, err := redis.NewStatsStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		fmt.Printf("❌ Failed to create stats store: %v\n", err)
		os.Exit(1)
	}
	defer statsStore.Close()

	dispatcher := orchestrator.NewDispatcher(streamStore, statsStore, logger.NewNop())
	ctx := context.Background()

	// 3. 消息提取扇出
	var photos []orchestrator.Photo
	if *withPhotos {
		photos = []orchestrator.Photo{
			{ID: "p1", URL: "file:///tmp/p1.jpg"},
			{ID: "p2", URL: "file:///tmp/p2.jpg"},
		}
	}

	ids, err := dispatcher.DispatchMessageExtraction(ctx, 42, "hello", "u1", "c1", photos)
	if err != nil {
		fmt.Printf("❌ DispatchMessageExtraction failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Message fan-out dispatched: %d assignments\n", len(ids))
	for label, id := range ids {
		fmt.Printf("   %-12s %s\n", label, id)
	}

	// 4. 实体归一
	entityID, err := dispatcher.DispatchEntityResolution(ctx, 42, "u1", "c1",
		[]map[string]interface{}{{"name": "thermostat", "kind": "device"}}, "")
	if err != nil {
		fmt.Printf("❌ DispatchEntityResolution failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Entity resolution dispatched: %s\n", entityID)

	// 5. 到期摘要重建（第 59 条：Tier-1 + Tier-2 同时到期）
	rebuildIDs, err := dispatcher.DispatchDueSummaryRebuilds(ctx, "c1", "u1", 59)
	if err != nil {
		fmt.Printf("❌ DispatchDueSummaryRebuilds failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Summary rebuilds dispatched: %d\n", len(rebuildIDs))

	// 6. 打印统计量
	stats, err := dispatcher.GetStats(ctx)
	if err != nil {
		fmt.Printf("❌ GetStats failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n========================================")
	fmt.Println("  Stats Snapshot")
	fmt.Println("========================================")
	for k, v := range stats {
		fmt.Printf("%-24s %v\n", k, v)
	}
}
