package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hap/extract/internal/worker"
)

// StreamStore 持久化流存储（Redis Streams）
// 每个 JobType 一条 Stream：追加有序、可多 Consumer Group 独立消费
type StreamStore struct {
	client *redis.Client
}

// NewStreamStore 创建 StreamStore 实例
func NewStreamStore(addr, password string, db int) (*StreamStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &StreamStore{
		client: client,
	}, nil
}

// Append 追加一条信封到 Stream（XADD，原子操作，不依赖消费者在线）
// 返回 Stream 内部条目 ID
func (s *StreamStore) Append(ctx context.Context, stream string, envelope []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": envelope},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: stream=%s: %w", stream, err)
	}
	return id, nil
}

// CreateGroup 幂等创建 Consumer Group（XGROUP CREATE MKSTREAM）
// 从 "0" 开始读：组创建前已追加的条目也会投递
// 组已存在（BUSYGROUP）不视为错误，也不会移动已有组的游标
func (s *StreamStore) CreateGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create failed: stream=%s, group=%s: %w", stream, group, err)
	}
	return nil
}

// ReadGroup 以竞争消费语义阻塞读取至多一条未投递条目（XREADGROUP）
// 超时未拉到返回 (nil, nil)
func (s *StreamStore) ReadGroup(
	ctx context.Context,
	stream, group, consumer string,
	block time.Duration,
) (*worker.Entry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		// 阻塞超时
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: stream=%s: %w", stream, err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	envelope, _ := msg.Values["envelope"].(string)

	return &worker.Entry{
		ID:       msg.ID,
		Envelope: []byte(envelope),
	}, nil
}

// Ack 确认条目（XACK，从组的 pending 列表移除）
func (s *StreamStore) Ack(ctx context.Context, stream, group, entryID string) error {
	if err := s.client.XAck(ctx, stream, group, entryID).Err(); err != nil {
		return fmt.Errorf("xack failed: stream=%s, id=%s: %w", stream, entryID, err)
	}
	return nil
}

// Depth 队列深度：未投递（lag）+ 已投递未确认（pending）
// Stream 或 Group 不存在视为空队列
func (s *StreamStore) Depth(ctx context.Context, stream, group string) (int64, error) {
	groups, err := s.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, fmt.Errorf("xinfo groups failed: stream=%s: %w", stream, err)
	}

	for _, g := range groups {
		if g.Name == group {
			return g.Lag + g.Pending, nil
		}
	}

	// 组未创建：全部条目均未投递
	return s.client.XLen(ctx, stream).Result()
}

// Close 关闭 Redis 连接
func (s *StreamStore) Close() error {
	return s.client.Close()
}
