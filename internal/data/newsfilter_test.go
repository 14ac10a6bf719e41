package data

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

func newFilterGuard(t *testing.T) *temporal.Guard {
	t.Helper()
	audit, err := temporal.NewAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	return temporal.NewGuard(audit)
}

func newsAt(title, content string, day time.Time) types.NewsItem {
	return types.NewsItem{Title: title, Content: content, PublishedAt: day, Source: "test"}
}

func TestNewsFilterStages(t *testing.T) {
	guard := newFilterGuard(t)
	filter := NewNewsFilter(guard, 0.01, 0.95)
	ctx := temporal.ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	d1 := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	future := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)

	news := []types.NewsItem{
		newsAt("Apple releases new iPhone model", "Apple Inc AAPL announced the launch of its new flagship phone", d1),
		newsAt("Apple releases new iPhone model", "Apple Inc AAPL announced the launch of its new flagship phone", d2), // 与上条重复，发布更晚
		newsAt("Future leak about Apple earnings", "AAPL quarterly report beats expectations", future),                 // 未来新闻
	}

	out, stats := filter.Filter(news, "AAPL", ctx, "Apple")

	assert.Equal(t, 3, stats.RawCount)
	assert.Equal(t, 2, stats.AfterTemporal)
	assert.Equal(t, 1, stats.TemporalFiltered())
	assert.Equal(t, stats.AfterDedup, len(out))
	require.Len(t, out, 1, "重复新闻只留一条")
	assert.Equal(t, d1, out[0].PublishedAt, "去重保留发布更早的一条")

	// 逐级单调不增
	assert.GreaterOrEqual(t, stats.RawCount, stats.AfterTemporal)
	assert.GreaterOrEqual(t, stats.AfterTemporal, stats.AfterRelevance)
	assert.GreaterOrEqual(t, stats.AfterRelevance, stats.AfterDedup)
}

func TestNewsFilterRelevanceDegradesToNoop(t *testing.T) {
	guard := newFilterGuard(t)
	// 阈值拉满，任何新闻都过不了 L2，此时应降级返回原列表
	filter := NewNewsFilter(guard, 0.9999, 0.95)
	ctx := temporal.ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	news := []types.NewsItem{
		newsAt("Totally unrelated news", "weather forecast sunny tomorrow", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
	}
	out, stats := filter.Filter(news, "AAPL", ctx, "Apple")
	assert.Len(t, out, 1, "全部低于阈值时退化为 no-op")
	assert.Equal(t, 1, stats.AfterRelevance)
}

func TestNewsFilterEmptyInput(t *testing.T) {
	guard := newFilterGuard(t)
	filter := NewNewsFilter(guard, 0.05, 0.85)
	ctx := temporal.ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	out, stats := filter.Filter(nil, "AAPL", ctx, "Apple")
	assert.Empty(t, out)
	assert.Zero(t, stats.RawCount)
}
