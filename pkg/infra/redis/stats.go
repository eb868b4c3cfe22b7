package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hap/extract/internal/assignment"
)

// statsKey 统计量哈希键（所有进程共享一张表）
const statsKey = "assignments:stats"

// StatsStore 共享统计存储
// 仅做可观测性：所有写入都是单键原子递增（HINCRBY），无需额外锁
type StatsStore struct {
	client *redis.Client
}

// NewStatsStore 创建 StatsStore 实例
func NewStatsStore(addr, password string, db int) (*StatsStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &StatsStore{
		client: client,
	}, nil
}

// IncrDispatched 递增派发计数（总量 + 分类型）
func (s *StatsStore) IncrDispatched(ctx context.Context, t assignment.JobType) error {
	return s.incr(ctx, "total_dispatched", fmt.Sprintf("%s_dispatched", t))
}

// IncrProcessed 递增处理计数（总量 + 分类型）
func (s *StatsStore) IncrProcessed(ctx context.Context, t assignment.JobType) error {
	return s.incr(ctx, "total_processed", fmt.Sprintf("%s_processed", t))
}

// IncrErrors 递增错误计数（总量 + 分类型）
func (s *StatsStore) IncrErrors(ctx context.Context, t assignment.JobType) error {
	return s.incr(ctx, "total_errors", fmt.Sprintf("%s_errors", t))
}

// incr 原子递增 + 刷新 last_activity
func (s *StatsStore) incr(ctx context.Context, fields ...string) error {
	pipe := s.client.Pipeline()
	for _, f := range fields {
		pipe.HIncrBy(ctx, statsKey, f, 1)
	}
	pipe.HSet(ctx, statsKey, "last_activity", time.Now().UTC().Format(time.RFC3339))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stats incr failed: %w", err)
	}
	return nil
}

// Snapshot 读取统计量快照（HGETALL）
func (s *StatsStore) Snapshot(ctx context.Context) (map[string]string, error) {
	snap, err := s.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("stats snapshot failed: %w", err)
	}
	return snap, nil
}

// Close 关闭 Redis 连接
func (s *StatsStore) Close() error {
	return s.client.Close()
}
