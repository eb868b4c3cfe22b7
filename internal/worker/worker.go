package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"

	"hap/extract/internal/assignment"
	"hap/extract/internal/handlers"
	"hap/extract/pkg/config"
	"hap/extract/pkg/errorutil"
	"hap/extract/pkg/logger"
)

// Worker 消费端运行时，绑定单一 JobType
// 状态机：STARTING → RUNNING → DRAINING → STOPPED
// 同类型可启动任意多个进程，共享一个 Consumer Group（竞争消费）
type Worker struct {
	jobType  assignment.JobType
	consumer string // 全局唯一消费者名称（type_pid_timestamp）

	source   Source
	registry *handlers.Registry
	stats    Stats
	ledger   Ledger // 可选（nil 表示禁用幂等账本）
	opts     Options

	state     *atomic.Int32
	processed *atomic.Int64 // 本进程处理计数（退出时汇报）
	errored   *atomic.Int64

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// New 创建 Worker 实例
func New(
	t assignment.JobType,
	source Source,
	registry *handlers.Registry,
	stats Stats,
	ledger Ledger,
	opts Options,
	log logger.Logger,
) *Worker {
	if opts.ReadBlock <= 0 {
		opts.ReadBlock = 5 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 1 * time.Second
	}
	if opts.AckPolicy == "" {
		opts.AckPolicy = config.AckPolicyAlways
	}

	return &Worker{
		jobType:   t,
		consumer:  fmt.Sprintf("%s_%d_%d", t, os.Getpid(), time.Now().Unix()),
		source:    source,
		registry:  registry,
		stats:     stats,
		ledger:    ledger,
		opts:      opts,
		state:     atomic.NewInt32(int32(StateStarting)),
		processed: atomic.NewInt64(0),
		errored:   atomic.NewInt64(0),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    log,
	}
}

// State 当前状态
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Consumer 消费者名称
func (w *Worker) Consumer() string {
	return w.consumer
}

// Counts 本进程处理/错误计数
func (w *Worker) Counts() (processed, errors int64) {
	return w.processed.Load(), w.errored.Load()
}

// Run 运行 Worker（阻塞，直到 Shutdown 或 ctx 取消）
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.doneCh)

	stream := w.jobType.Stream()
	group := w.jobType.Group()

	// STARTING：幂等创建 Consumer Group（组已存在由 Source 吞掉）
	if err := w.source.CreateGroup(ctx, stream, group); err != nil {
		w.state.Store(int32(StateStopped))
		return fmt.Errorf("create consumer group failed: %w", err)
	}

	w.state.Store(int32(StateRunning))
	w.logger.Infof(ctx, "[Worker] %s RUNNING, stream=%s, group=%s, consumer=%s",
		w.jobType, stream, group, w.consumer)

	// RUNNING：拉取循环
loop:
	for {
		// 退出检查（每轮读取前）
		select {
		case <-w.stopCh:
			break loop
		case <-ctx.Done():
			break loop
		default:
		}

		// 1. 阻塞读一条消息（带超时，空闲时也能观察退出信号）
		entry, err := w.source.ReadGroup(ctx, stream, group, w.consumer, w.opts.ReadBlock)
		if err != nil {
			if ctx.Err() != nil || w.State() == StateDraining {
				break loop
			}

			// 容错：传输错误退避重试，不退出进程
			w.logger.Warnf(ctx, "[Worker] ReadGroup error: %v, retrying...", err)
			select {
			case <-w.stopCh:
				break loop
			case <-ctx.Done():
				break loop
			case <-time.After(w.opts.ErrorBackoff):
				continue
			}
		}

		// 空轮询（超时未拉到），继续循环
		if entry == nil {
			continue
		}

		// 2. 处理消息
		w.process(ctx, entry)
	}

	// DRAINING → STOPPED：汇报最终计数
	w.state.Store(int32(StateStopped))
	w.logger.Infof(ctx, "[Worker] %s STOPPED, processed=%d, errors=%d",
		w.jobType, w.processed.Load(), w.errored.Load())

	return nil
}

// Shutdown 进入 DRAIN 模式（当前读取周期结束后退出，不再开始新读取）
func (w *Worker) Shutdown() {
	w.stopOnce.Do(func() {
		w.state.Store(int32(StateDraining))
		w.logger.Infof(context.Background(), "[Worker] %s entering DRAIN mode", w.jobType)
		close(w.stopCh)
	})
}

// Wait 等待 Run 退出
func (w *Worker) Wait() {
	<-w.doneCh
}

// process 处理单条消息
func (w *Worker) process(ctx context.Context, entry *Entry) {
	startTime := time.Now()

	// 1. 解析信封；失败直接 ACK 丢弃（不重投）
	a, err := assignment.Decode(entry.Envelope)
	if err != nil {
		w.logger.Warnf(ctx, "[Worker] Dropping malformed entry: id=%s, error=%v", entry.ID, err)
		w.ack(ctx, entry.ID)
		return
	}

	// 2. 注入元信息到 Context
	pctx := context.WithValue(ctx, "trace_id", a.ID)
	pctx = context.WithValue(pctx, "job_type", string(a.Type))
	pctx = context.WithValue(pctx, "consumer", w.consumer)

	// 3. 幂等账本：重复投递跳过处理
	if w.ledger != nil {
		fresh, lerr := w.ledger.MarkProcessed(pctx, a.ID, string(a.Type))
		if lerr != nil {
			// 账本不可用降级为直接处理，不阻塞消费
			w.logger.Warnf(pctx, "[Worker] Ledger unavailable: %v", lerr)
		} else if !fresh {
			w.logger.Infof(pctx, "[Worker] Duplicate delivery skipped: %s", a.ID)
			w.markProcessed(pctx, a.Type)
			w.ack(pctx, entry.ID)
			return
		}
	}

	// 4. 查找 Handler（未注册回退占位处理器）并调用
	h := w.registry.Resolve(a.Type)
	result, herr := w.invoke(pctx, h, a.Payload)
	duration := time.Since(startTime)

	// 5. 更新统计：任何返回都计 processed；出错额外计 errors
	w.markProcessed(pctx, a.Type)
	if herr != nil {
		w.errored.Inc()
		if serr := w.stats.IncrErrors(pctx, a.Type); serr != nil {
			w.logger.Warnf(pctx, "[Worker] IncrErrors failed: %v", serr)
		}
		w.logger.Errorf(pctx, "[Worker] Handler failed: type=%s, duration=%v, error=%v",
			a.Type, duration, herr)

		// 死信策略：失败任务先移入死信流再 ACK
		if w.opts.AckPolicy == config.AckPolicyDeadLetter {
			w.deadLetter(pctx, a, herr)
		}
	} else {
		status, _ := result["status"].(string)
		w.logger.Infof(pctx, "[Worker] Entry processed: type=%s, status=%s, duration=%v",
			a.Type, status, duration)
	}

	// 6. 无论成败都 ACK（队列不因毒消息阻塞）
	w.ack(pctx, entry.ID)
}

// invoke 调用 Handler（捕获 panic，可选超时）
func (w *Worker) invoke(
	ctx context.Context,
	h handlers.Handler,
	payload map[string]interface{},
) (result map[string]interface{}, err error) {
	if w.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, payload)
}

// markProcessed 递增处理计数（进程内 + 共享统计）
func (w *Worker) markProcessed(ctx context.Context, t assignment.JobType) {
	w.processed.Inc()
	if err := w.stats.IncrProcessed(ctx, t); err != nil {
		w.logger.Warnf(ctx, "[Worker] IncrProcessed failed: %v", err)
	}
}

// deadLetter 将失败任务写入死信流
// 写入失败只记录日志，照常 ACK（策略优先保证队列不停摆）
func (w *Worker) deadLetter(ctx context.Context, a *assignment.Assignment, herr error) {
	record := map[string]interface{}{
		"id":            a.ID,
		"type":          a.Type,
		"payload":       a.Payload,
		"dispatched_at": a.DispatchedAt,
		"error":         herr.Error(),
		"retryable":     errorutil.IsRetryable(herr),
		"consumer":      w.consumer,
		"failed_at":     time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		w.logger.Errorf(ctx, "[Worker] Marshal dead letter failed: %v", err)
		return
	}

	if _, err := w.source.Append(ctx, assignment.DeadLetterStream, data); err != nil {
		w.logger.Errorf(ctx, "[Worker] Dead letter append failed: id=%s, error=%v", a.ID, err)
	}
}

// ack 确认消息（失败只记录日志，消息会在 pending 列表中等待重投）
func (w *Worker) ack(ctx context.Context, entryID string) {
	if err := w.source.Ack(ctx, w.jobType.Stream(), w.jobType.Group(), entryID); err != nil {
		w.logger.Warnf(ctx, "[Worker] Ack failed: id=%s, error=%v", entryID, err)
	}
}
