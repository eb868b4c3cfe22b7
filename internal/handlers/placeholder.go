package handlers

import (
	"context"
	"time"
)

// placeholderDelay 占位处理器的模拟耗时
const placeholderDelay = 100 * time.Millisecond

// Placeholder 占位处理器
// 短暂休眠后返回 placeholder 状态，不做任何实际处理
func Placeholder() Handler {
	return HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		select {
		case <-time.After(placeholderDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return map[string]interface{}{
			"status": StatusPlaceholder,
			"reason": "no handler registered",
		}, nil
	})
}
