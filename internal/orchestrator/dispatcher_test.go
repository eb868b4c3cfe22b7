package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hap/extract/internal/assignment"
	"hap/extract/internal/orchestrator"
	"hap/extract/pkg/logger"
)

// fakeStream 内存版 Stream（按流名记录追加的信封）
type fakeStream struct {
	mu      sync.Mutex
	entries map[string][][]byte
	failing bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{entries: make(map[string][][]byte)}
}

func (f *fakeStream) Append(ctx context.Context, stream string, envelope []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errors.New("connection refused")
	}
	f.entries[stream] = append(f.entries[stream], envelope)
	return fmt.Sprintf("%d-0", len(f.entries[stream])), nil
}

func (f *fakeStream) Depth(ctx context.Context, stream, group string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries[stream])), nil
}

func (f *fakeStream) len(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[stream])
}

func (f *fakeStream) last(t *testing.T, stream string) *assignment.Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.entries[stream])
	a, err := assignment.Decode(f.entries[stream][len(f.entries[stream])-1])
	require.NoError(t, err)
	return a
}

// fakeStats 内存版统计表
type fakeStats struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeStats() *fakeStats {
	return &fakeStats{counts: make(map[string]int64)}
}

func (f *fakeStats) IncrDispatched(ctx context.Context, t assignment.JobType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts["total_dispatched"]++
	f.counts[fmt.Sprintf("%s_dispatched", t)]++
	return nil
}

func (f *fakeStats) Snapshot(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(map[string]string, len(f.counts))
	for k, v := range f.counts {
		snap[k] = strconv.FormatInt(v, 10)
	}
	return snap, nil
}

func (f *fakeStats) get(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key]
}

func newDispatcher() (*orchestrator.Dispatcher, *fakeStream, *fakeStats) {
	stream := newFakeStream()
	stats := newFakeStats()
	return orchestrator.NewDispatcher(stream, stats, logger.NewNop()), stream, stats
}

func TestDispatchAppendsExactlyOne(t *testing.T) {
	d, stream, stats := newDispatcher()
	ctx := context.Background()

	id, err := d.Dispatch(ctx, assignment.TypeGrid, map[string]interface{}{
		"message_id":      42,
		"content":         "hello",
		"user_uuid":       "u1",
		"conversation_id": "c1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Stream 长度恰好加一
	assert.Equal(t, 1, stream.len("assignments:grid_analysis"))

	// 信封字段完整
	a := stream.last(t, "assignments:grid_analysis")
	assert.Equal(t, id, a.ID)
	assert.Equal(t, assignment.TypeGrid, a.Type)
	assert.Equal(t, "hello", a.Payload["content"])
	assert.False(t, a.DispatchedAt.IsZero())

	// 派发计数
	assert.Equal(t, int64(1), stats.get("total_dispatched"))
	assert.Equal(t, int64(1), stats.get("grid_dispatched"))
}

func TestDispatchIDsAreUnique(t *testing.T) {
	d, stream, _ := newDispatcher()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := d.Dispatch(ctx, assignment.TypeEmbedding, map[string]interface{}{"i": i})
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id: %s", id)
		seen[id] = true
	}

	assert.Equal(t, 50, stream.len("assignments:embedding"))
}

func TestDispatchUnknownType(t *testing.T) {
	d, _, _ := newDispatcher()

	_, err := d.Dispatch(context.Background(), assignment.JobType("bogus"), nil)
	assert.Error(t, err)
}

func TestDispatchStreamUnreachable(t *testing.T) {
	d, stream, stats := newDispatcher()
	stream.failing = true

	_, err := d.Dispatch(context.Background(), assignment.TypeGrid, nil)
	require.Error(t, err)

	// 追加失败时不计入派发量
	assert.Equal(t, int64(0), stats.get("total_dispatched"))
}

func TestMessageExtractionFanOut(t *testing.T) {
	d, stream, stats := newDispatcher()
	ctx := context.Background()

	photos := []orchestrator.Photo{
		{ID: "p1", URL: "file:///tmp/p1.jpg"},
		{ID: "p2", URL: "file:///tmp/p2.jpg"},
	}

	ids, err := d.DispatchMessageExtraction(ctx, 42, "hello", "u1", "c1", photos)
	require.NoError(t, err)

	// 两张图片 → 五条任务（grid + embedding + temporal + vision×2）
	require.Len(t, ids, 5)
	for _, label := range []string{"grid", "embedding", "temporal", "vision:p1", "vision:p2"} {
		assert.Contains(t, ids, label)
	}

	// 各自写入对应 Stream
	assert.Equal(t, 1, stream.len("assignments:grid_analysis"))
	assert.Equal(t, 1, stream.len("assignments:embedding"))
	assert.Equal(t, 1, stream.len("assignments:temporal"))
	assert.Equal(t, 2, stream.len("assignments:vision"))

	// 图片任务信封带 photo 字段
	v := stream.last(t, "assignments:vision")
	assert.Equal(t, "p2", v.Payload["photo_id"])
	assert.Equal(t, "c1", v.Payload["conversation_id"])

	assert.Equal(t, int64(5), stats.get("total_dispatched"))
	assert.Equal(t, int64(2), stats.get("vision_dispatched"))
}

func TestMessageExtractionWithoutPhotos(t *testing.T) {
	d, _, _ := newDispatcher()

	ids, err := d.DispatchMessageExtraction(context.Background(), 7, "hi", "u1", "c1", nil)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestDispatchEntityResolution(t *testing.T) {
	d, stream, _ := newDispatcher()
	ctx := context.Background()

	entities := []map[string]interface{}{{"name": "thermostat", "kind": "device"}}

	_, err := d.DispatchEntityResolution(ctx, 42, "u1", "c1", entities, "")
	require.NoError(t, err)

	a := stream.last(t, "assignments:entity")
	assert.NotContains(t, a.Payload, "exchange_id")

	_, err = d.DispatchEntityResolution(ctx, 42, "u1", "c1", entities, "ex9")
	require.NoError(t, err)

	a = stream.last(t, "assignments:entity")
	assert.Equal(t, "ex9", a.Payload["exchange_id"])
}

func TestDispatchSummaryRebuild(t *testing.T) {
	d, stream, _ := newDispatcher()

	_, err := d.DispatchSummaryRebuild(context.Background(), "c1", "u1", 1, 1, 20)
	require.NoError(t, err)

	a := stream.last(t, "assignments:summary_rebuild")
	assert.Equal(t, float64(1), a.Payload["tier"])
	assert.Equal(t, float64(20), a.Payload["end_idx"])
}

func TestDispatchDueSummaryRebuilds(t *testing.T) {
	d, stream, _ := newDispatcher()
	ctx := context.Background()

	// 第 18 条：无到期
	ids, err := d.DispatchDueSummaryRebuilds(ctx, "c1", "u1", 18)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// 第 59 条：两层同时到期
	ids, err = d.DispatchDueSummaryRebuilds(ctx, "c1", "u1", 59)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, 2, stream.len("assignments:summary_rebuild"))
}

func TestGetStats(t *testing.T) {
	d, _, _ := newDispatcher()
	ctx := context.Background()

	_, err := d.Dispatch(ctx, assignment.TypeGrid, nil)
	require.NoError(t, err)

	stats, err := d.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, "1", stats["total_dispatched"])

	depths, ok := stats["queue_depth"].(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(1), depths["grid"])
	assert.Equal(t, int64(0), depths["vision"])
}
