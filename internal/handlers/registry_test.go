package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hap/extract/internal/assignment"
	"hap/extract/internal/handlers"
)

func TestResolveFallsBackToPlaceholder(t *testing.T) {
	registry := handlers.NewRegistry()

	h := registry.Resolve(assignment.TypeGrid)
	require.NotNil(t, h)

	result, err := h.Handle(context.Background(), map[string]interface{}{"message_id": 42})
	require.NoError(t, err)
	assert.Equal(t, handlers.StatusPlaceholder, result["status"])
	assert.NotEmpty(t, result["reason"])
}

func TestRegisteredHandlerWins(t *testing.T) {
	registry := handlers.NewRegistry()
	registry.Register(assignment.TypeEntity, handlers.HandlerFunc(
		func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{
				"status":            handlers.StatusSuccess,
				"entities_resolved": 3,
			}, nil
		}))

	assert.True(t, registry.Registered(assignment.TypeEntity))
	assert.False(t, registry.Registered(assignment.TypeGrid))

	result, err := registry.Resolve(assignment.TypeEntity).Handle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, handlers.StatusSuccess, result["status"])
	assert.Equal(t, 3, result["entities_resolved"])
}

func TestPlaceholderHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := handlers.Placeholder().Handle(ctx, nil)
	assert.Error(t, err)
	// 取消后立即返回，不等满模拟耗时
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
