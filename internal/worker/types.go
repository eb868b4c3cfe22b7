package worker

import (
	"context"
	"time"

	"hap/extract/internal/assignment"
)

// State Worker 状态机状态
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String 状态名称
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Entry Stream 投递的一条消息
type Entry struct {
	ID       string // Stream 内部条目 ID（ACK 用）
	Envelope []byte // 信封原始 JSON
}

// Source 消息源接口（适配 Redis Streams）
type Source interface {
	// CreateGroup 幂等创建 Consumer Group（组已存在不报错）
	CreateGroup(ctx context.Context, stream, group string) error

	// ReadGroup 阻塞读取至多一条未投递消息（超时返回 nil, nil）
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration) (*Entry, error)

	// Ack 确认消息
	Ack(ctx context.Context, stream, group, entryID string) error

	// Append 追加消息（死信流用）
	Append(ctx context.Context, stream string, envelope []byte) (string, error)
}

// Stats 统计存储接口（Worker 侧只需处理计数）
type Stats interface {
	IncrProcessed(ctx context.Context, t assignment.JobType) error
	IncrErrors(ctx context.Context, t assignment.JobType) error
}

// Ledger 幂等账本接口（可选，记录已处理的任务 ID）
type Ledger interface {
	// MarkProcessed 登记任务 ID；首次登记返回 true，重复投递返回 false
	MarkProcessed(ctx context.Context, assignmentID, jobType string) (bool, error)
}

// Options Worker 运行参数
type Options struct {
	ReadBlock      time.Duration // 阻塞读超时（空闲时观察退出信号的粒度）
	ErrorBackoff   time.Duration // 传输错误退避时间
	HandlerTimeout time.Duration // Handler 超时（0 = 不限制，保持源行为）
	AckPolicy      string        // ack_always / dead_letter
}
