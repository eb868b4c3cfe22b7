package handlers

import (
	"context"

	"hap/extract/internal/assignment"
)

// 处理结果的 status 取值
const (
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusSkipped     = "skipped"
	StatusPlaceholder = "placeholder"
)

// Handler 提取处理器契约
// 约定：result 必含 status 字段；非 success 时附带 reason；
// 处理器必须对 payload 中的标识键幂等（ACK 前可能重复投递）
type Handler interface {
	Handle(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
}

// HandlerFunc 函数式 Handler
type HandlerFunc func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, payload)
}

// Registry 编译期注册表（JobType → Handler 映射）
// 启动时注册，运行期只读；未注册类型回退到占位处理器
type Registry struct {
	handlers map[assignment.JobType]Handler
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[assignment.JobType]Handler),
	}
}

// Register 注册处理器（重复注册后者覆盖前者）
func (r *Registry) Register(t assignment.JobType, h Handler) {
	r.handlers[t] = h
}

// Resolve 查找处理器，未注册时返回占位处理器
// 占位回退让 Worker 在真实提取逻辑就绪前就能端到端跑通
func (r *Registry) Resolve(t assignment.JobType) Handler {
	if h, ok := r.handlers[t]; ok {
		return h
	}
	return Placeholder()
}

// Registered 判断类型是否注册了真实处理器
func (r *Registry) Registered(t assignment.JobType) bool {
	_, ok := r.handlers[t]
	return ok
}
