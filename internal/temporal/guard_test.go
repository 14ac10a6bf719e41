package temporal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/types"
)

func newTestGuard(t *testing.T) (*Guard, *AuditLogger) {
	t.Helper()
	audit, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	return NewGuard(audit), audit
}

func TestDateOf(t *testing.T) {
	ts := time.Date(2024, 3, 15, 23, 59, 59, 0, time.FixedZone("CST", 8*3600))
	got := DateOf(ts)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestValidateTimestamp(t *testing.T) {
	guard, audit := newTestGuard(t)
	ctx := ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	t.Run("当日及历史数据合规", func(t *testing.T) {
		assert.NoError(t, guard.ValidateTimestamp(time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC), ctx, "test"))
		assert.NoError(t, guard.ValidateTimestamp(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ctx, "test"))

		n, err := audit.ViolationCount(ctx.SessionID)
		require.NoError(t, err)
		assert.Zero(t, n, "合规调用不应产生违规记录")
	})

	t.Run("未来数据违规且恰好记一条", func(t *testing.T) {
		err := guard.ValidateTimestamp(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), ctx, "adapter:test")
		require.Error(t, err)

		var tv *TemporalViolationError
		require.True(t, errors.As(err, &tv))
		assert.Equal(t, ctx.AnalysisDate, tv.AnalysisDate)

		n, err := audit.ViolationCount(ctx.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestFilterNews(t *testing.T) {
	guard, audit := newTestGuard(t)
	ctx := ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	news := []types.NewsItem{
		{Title: "历史新闻", PublishedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), Source: "a"},
		{Title: "当日新闻", PublishedAt: time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC), Source: "b"},
		{Title: "未来新闻", PublishedAt: time.Date(2024, 3, 16, 8, 0, 0, 0, time.UTC), Source: "c"},
		{Title: "更远的未来", PublishedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), Source: "c"},
	}

	out := guard.FilterNews(news, ctx)
	require.Len(t, out, 2)
	assert.Equal(t, "历史新闻", out[0].Title)
	assert.Equal(t, "当日新闻", out[1].Title)
	assert.Len(t, news, 4, "输入切片不得被修改")

	// 每条被过滤新闻一条违规记录，外加一条合规汇总
	records, err := audit.SessionRecords(ctx.SessionID)
	require.NoError(t, err)
	violations := 0
	summaries := 0
	for _, rec := range records {
		if rec.IsCompliant {
			summaries++
		} else {
			violations++
		}
	}
	assert.Equal(t, 2, violations)
	assert.Equal(t, 1, summaries)
}

func TestFilterNewsAllCompliant(t *testing.T) {
	guard, audit := newTestGuard(t)
	ctx := ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))

	news := []types.NewsItem{
		{Title: "ok", PublishedAt: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
	}
	out := guard.FilterNews(news, ctx)
	assert.Len(t, out, 1)

	records, err := audit.SessionRecords(ctx.SessionID)
	require.NoError(t, err)
	assert.Empty(t, records, "无过滤时不写任何记录")
}

func TestAssertBacktestSafe(t *testing.T) {
	guard, _ := newTestGuard(t)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	err := guard.AssertBacktestSafe(ForBacktest(day), "realtime_quote")
	var blocked *RealtimeAPIBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "realtime_quote", blocked.APIName)

	assert.NoError(t, guard.AssertBacktestSafe(ForLive(day), "realtime_quote"))
}

func TestContextModes(t *testing.T) {
	day := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

	live := ForLive(day)
	bt := ForBacktest(day)

	assert.Equal(t, ModeLive, live.Mode)
	assert.Equal(t, ModeBacktest, bt.Mode)
	assert.Equal(t, DateOf(day), live.AnalysisDate)
	assert.Equal(t, DateOf(day), bt.AnalysisDate)
	assert.NotEmpty(t, live.SessionID)
	assert.NotEqual(t, live.SessionID, bt.SessionID)
}

func TestInjectTemporalPrompt(t *testing.T) {
	ctx := ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	out := InjectTemporalPrompt("分析该股票", ctx)
	assert.Contains(t, out, "2024-03-15")
	assert.Contains(t, out, "INSUFFICIENT_DATA")
	assert.Contains(t, out, "分析该股票")
}
