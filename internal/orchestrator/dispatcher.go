package orchestrator

import (
	"context"
	"fmt"
	"time"

	"hap/extract/internal/assignment"
	"hap/extract/pkg/logger"
)

// Stream 流存储接口（生产侧只需追加与深度查询）
type Stream interface {
	Append(ctx context.Context, stream string, envelope []byte) (string, error)
	Depth(ctx context.Context, stream, group string) (int64, error)
}

// Stats 统计存储接口（生产侧只需派发计数与快照）
type Stats interface {
	IncrDispatched(ctx context.Context, t assignment.JobType) error
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Photo 消息附带的图片
type Photo struct {
	ID  string // 图片 ID（扇出标签用）
	URL string // 存储地址（由 vision handler 拉取）
}

// Dispatcher 生产侧派发器
// 无状态（共享状态只有统计表），可被任意多个生产者并发调用：
// 每次 Dispatch 都是一次原子追加，不需要协调
// 不依赖消费者在线：追加成功即返回，消费进度与生产完全解耦
type Dispatcher struct {
	stream Stream
	stats  Stats
	logger logger.Logger
}

// NewDispatcher 创建派发器实例（进程启动时构造一次，显式注入调用方）
func NewDispatcher(stream Stream, stats Stats, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		stream: stream,
		stats:  stats,
		logger: log,
	}
}

// Dispatch 派发单条任务
// 生成全局唯一任务 ID，包装信封后追加到对应 Stream
// 只在 Stream 不可达时失败（传输错误原样上抛，由调用方决定是否重试）
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	t assignment.JobType,
	payload map[string]interface{},
) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("dispatch failed: unknown job type %q", t)
	}

	// 1. 包装信封（ID 在此生成，Stream 不参与）
	a := assignment.New(t, payload)

	data, err := a.Encode()
	if err != nil {
		return "", fmt.Errorf("dispatch failed: %w", err)
	}

	// 2. 追加到对应 Stream
	if _, err := d.stream.Append(ctx, t.Stream(), data); err != nil {
		return "", fmt.Errorf("dispatch failed: %w", err)
	}

	// 3. 更新派发计数（纯可观测性，失败只记录日志）
	if err := d.stats.IncrDispatched(ctx, t); err != nil {
		d.logger.Warnf(ctx, "[Dispatcher] IncrDispatched failed: type=%s, error=%v", t, err)
	}

	d.logger.Debugf(ctx, "[Dispatcher] Dispatched: id=%s, type=%s, stream=%s", a.ID, t, t.Stream())

	return a.ID, nil
}

// DispatchMessageExtraction 将一条会话消息扇出为多条提取任务
// 扇出表驱动：文本类任务无条件派发，每张图片额外派发一条 vision 任务
// 返回 label → AssignmentID 映射，供调用方关联（图片任务标签带 photo-id 前缀）
func (d *Dispatcher) DispatchMessageExtraction(
	ctx context.Context,
	messageID int64,
	content string,
	userUUID string,
	conversationID string,
	photos []Photo,
) (map[string]string, error) {
	base := map[string]interface{}{
		"message_id":      messageID,
		"content":         content,
		"user_uuid":       userUUID,
		"conversation_id": conversationID,
	}

	dispatched := make(map[string]string)

	// 1. 文本类任务（扇出表 message 行）
	for _, t := range assignment.FanOut[assignment.EventMessage] {
		id, err := d.Dispatch(ctx, t, base)
		if err != nil {
			return dispatched, fmt.Errorf("fan-out %s failed: %w", t, err)
		}
		dispatched[string(t)] = id
	}

	// 2. 图片任务（扇出表 photo 行，每张图片一条）
	for _, photo := range photos {
		payload := map[string]interface{}{
			"message_id":      messageID,
			"user_uuid":       userUUID,
			"conversation_id": conversationID,
			"photo_id":        photo.ID,
			"photo_url":       photo.URL,
		}

		for _, t := range assignment.FanOut[assignment.EventPhoto] {
			id, err := d.Dispatch(ctx, t, payload)
			if err != nil {
				return dispatched, fmt.Errorf("fan-out %s (photo %s) failed: %w", t, photo.ID, err)
			}
			dispatched[fmt.Sprintf("%s:%s", t, photo.ID)] = id
		}
	}

	return dispatched, nil
}

// DispatchEntityResolution 派发实体归一任务
func (d *Dispatcher) DispatchEntityResolution(
	ctx context.Context,
	messageID int64,
	userUUID string,
	conversationID string,
	entities []map[string]interface{},
	exchangeID string,
) (string, error) {
	payload := map[string]interface{}{
		"message_id":      messageID,
		"user_uuid":       userUUID,
		"conversation_id": conversationID,
		"entities":        entities,
	}
	if exchangeID != "" {
		payload["exchange_id"] = exchangeID
	}

	return d.Dispatch(ctx, assignment.TypeEntity, payload)
}

// DispatchSummaryRebuild 派发摘要重建任务
func (d *Dispatcher) DispatchSummaryRebuild(
	ctx context.Context,
	conversationID string,
	userUUID string,
	tier int,
	startIdx int,
	endIdx int,
) (string, error) {
	payload := map[string]interface{}{
		"conversation_id": conversationID,
		"user_uuid":       userUUID,
		"tier":            tier,
		"start_idx":       startIdx,
		"end_idx":         endIdx,
	}

	return d.Dispatch(ctx, assignment.TypeSummary, payload)
}

// DispatchDueSummaryRebuilds 检查并派发当前消息数到期的摘要重建任务
func (d *Dispatcher) DispatchDueSummaryRebuilds(
	ctx context.Context,
	conversationID string,
	userUUID string,
	messageCount int,
) ([]string, error) {
	triggers := CheckSummaryTriggers(conversationID, messageCount)

	ids := make([]string, 0, len(triggers))
	for _, trig := range triggers {
		id, err := d.DispatchSummaryRebuild(ctx, conversationID, userUUID, trig.Tier, trig.StartIdx, trig.EndIdx)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// GetStats 统计量快照 + 各类型队列深度（未投递 + 未确认）
func (d *Dispatcher) GetStats(ctx context.Context) (map[string]interface{}, error) {
	snap, err := d.stats.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}

	out := make(map[string]interface{}, len(snap)+1)
	for k, v := range snap {
		out[k] = v
	}

	depths := make(map[string]int64, len(assignment.All()))
	for _, t := range assignment.All() {
		n, derr := d.stream.Depth(ctx, t.Stream(), t.Group())
		if derr != nil {
			// 深度查询失败不影响其他统计
			d.logger.Warnf(ctx, "[Dispatcher] Depth failed: type=%s, error=%v", t, derr)
			continue
		}
		depths[string(t)] = n
	}
	out["queue_depth"] = depths
	out["snapshot_at"] = time.Now().UTC().Format(time.RFC3339)

	return out, nil
}
