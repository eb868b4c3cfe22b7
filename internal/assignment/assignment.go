package assignment

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// JobType 任务类型（封闭枚举）
type JobType string

const (
	TypeGrid      JobType = "grid"      // 网格分析
	TypeEmbedding JobType = "embedding" // 向量化
	TypeVision    JobType = "vision"    // 图片识别
	TypeTemporal  JobType = "temporal"  // 时间解析
	TypeEntity    JobType = "entity"    // 实体归一
	TypeSummary   JobType = "summary"   // 会话摘要重建
)

// DeadLetterStream 死信流名称（处理失败的任务移入，可回查/重放）
const DeadLetterStream = "assignments:dead_letter"

// streamNames JobType → Stream 名称（静态配置，不允许运行时修改）
var streamNames = map[JobType]string{
	TypeGrid:      "assignments:grid_analysis",
	TypeEmbedding: "assignments:embedding",
	TypeVision:    "assignments:vision",
	TypeTemporal:  "assignments:temporal",
	TypeEntity:    "assignments:entity",
	TypeSummary:   "assignments:summary_rebuild",
}

// Parse 解析任务类型字符串
func Parse(s string) (JobType, error) {
	t := JobType(s)
	if _, ok := streamNames[t]; !ok {
		return "", fmt.Errorf("unknown job type: %q", s)
	}
	return t, nil
}

// Valid 判断类型是否在枚举内
func (t JobType) Valid() bool {
	_, ok := streamNames[t]
	return ok
}

// Stream 获取该类型对应的 Stream 名称
func (t JobType) Stream() string {
	return streamNames[t]
}

// Group 获取该类型对应的 Consumer Group 名称
// 同类型的所有 Worker 共享一个 Group（竞争消费）
func (t JobType) Group() string {
	return fmt.Sprintf("%s_workers", t)
}

// All 返回全部任务类型（按名称排序，保证遍历顺序稳定）
func All() []JobType {
	types := make([]JobType, 0, len(streamNames))
	for t := range streamNames {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Assignment 一条提取任务（消息信封）
// 不变式：ID 由 Orchestrator 生成，全局唯一，是下游幂等去重的依据
type Assignment struct {
	ID           string                 `json:"id"`            // 任务 ID（UUID）
	Type         JobType                `json:"type"`          // 任务类型（路由键）
	Payload      map[string]interface{} `json:"payload"`       // 业务数据
	DispatchedAt time.Time              `json:"dispatched_at"` // 派发时间（ISO-8601）
}

// New 创建任务信封（生成新 UUID）
func New(t JobType, payload map[string]interface{}) *Assignment {
	return &Assignment{
		ID:           uuid.New().String(),
		Type:         t,
		Payload:      payload,
		DispatchedAt: time.Now().UTC(),
	}
}

// Encode 序列化为线上格式
func (a *Assignment) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal assignment failed: %w", err)
	}
	return data, nil
}

// Decode 反序列化并校验信封
// 校验失败的消息按"解析错误"处理（调用方直接 ACK 丢弃）
func Decode(data []byte) (*Assignment, error) {
	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal assignment failed: %w", err)
	}

	if a.ID == "" {
		return nil, fmt.Errorf("invalid assignment: id is empty")
	}
	if !a.Type.Valid() {
		return nil, fmt.Errorf("invalid assignment: unknown type %q", a.Type)
	}

	return &a, nil
}
