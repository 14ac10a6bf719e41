package backtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/calendar"
	"pitsafe/internal/data"
	"pitsafe/internal/decision"
	"pitsafe/internal/portfolio"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// stubAdapter 按日期表返回收盘价的假数据源。
type stubAdapter struct {
	name   string
	closes map[string]float64 // YYYY-MM-DD → close
	err    error
	calls  int
}

func (s *stubAdapter) GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval string, tctx temporal.Context) ([]types.OHLCVRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var rows []types.OHLCVRecord
	for day := temporal.DateOf(start); !day.After(temporal.DateOf(end)); day = day.AddDate(0, 0, 1) {
		if c, ok := s.closes[day.Format("2006-01-02")]; ok {
			rows = append(rows, types.OHLCVRecord{
				Symbol: symbol, Date: day,
				Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
			})
		}
	}
	return rows, nil
}

func (s *stubAdapter) GetFundamentals(ctx context.Context, symbol string, asOf time.Time, tctx temporal.Context) (types.Fundamentals, error) {
	return types.Fundamentals{}, nil
}

func (s *stubAdapter) GetNews(ctx context.Context, symbol string, daysBack int, tctx temporal.Context) ([]types.NewsItem, error) {
	return nil, nil
}

func (s *stubAdapter) IsAvailable(symbol string) bool { return true }

func (s *stubAdapter) MarketTypeOf(symbol string) (types.MarketType, error) {
	return data.MarketRouter{}.Route(symbol)
}

func (s *stubAdapter) Name() string { return s.name }

// 2024-03-11(一) 到 2024-03-15(五)，无美股休市日。
var week = map[string]float64{
	"2024-03-11": 100,
	"2024-03-12": 104,
	"2024-03-13": 108,
	"2024-03-14": 106,
	"2024-03-15": 112,
}

func newTestRunner(t *testing.T, adapter data.MarketDataAdapter, source decision.Source) *Runner {
	t.Helper()
	router := data.NewDataRouter(data.RouterConfig{
		US: data.AdapterChain{Primary: adapter},
	})
	cal, err := calendar.New("", func(ctx context.Context, year int) ([]time.Time, error) {
		return nil, fmt.Errorf("测试不应触发A股日历加载")
	})
	require.NoError(t, err)

	audit, err := temporal.NewAuditLogger(t.TempDir() + "/audit.jsonl")
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{
		Router:       router,
		Calendar:     cal,
		Source:       source,
		Guard:        temporal.NewGuard(audit),
		Cost:         portfolio.CostModel{CommissionRate: 0.0003, MinCommission: 5, SlippageBps: 5},
		RiskFreeRate: 0.02,
	})
	require.NoError(t, err)
	return runner
}

func waitForRun(t *testing.T, runner *Runner, id string) Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := runner.Get(id)
		require.True(t, ok)
		if run.Status == RunStatusCompleted || run.Status == RunStatusFailed {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("回测未在期限内结束")
	return Run{}
}

func buyAndHoldSource() decision.Source {
	first := true
	return decision.FuncSource{
		SourceName: "test",
		Fn: func(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error) {
			action := types.ActionHold
			if first {
				action = types.ActionStrongBuy
				first = false
			}
			return types.Decision{
				Action: action, Confidence: 0.9, VolatilityAdjustment: 1.0,
				Symbol: symbol, AnalysisDate: day,
			}, nil
		},
	}
}

func TestRunnerCompletesBuyAndHold(t *testing.T) {
	adapter := &stubAdapter{name: "stub", closes: week}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	run, err := runner.StartRun(RunRequest{
		Symbol: "aapl", StartDate: "2024-03-11", EndDate: "2024-03-15",
		InitialCash: 100_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", run.Symbol, "symbol 归一化为大写")

	done := waitForRun(t, runner, run.ID)
	require.Equal(t, RunStatusCompleted, done.Status, done.Message)

	assert.Equal(t, 5, done.Stats.TradingDays)
	assert.Zero(t, done.Stats.SkippedDays)
	assert.Equal(t, 1, done.Stats.Trades, "首日全仓买入后一路持有")
	assert.Greater(t, done.FinalNAV, 100_000.0, "100→112 的行情应当盈利")
	assert.Greater(t, done.TotalReturn, 0.0)
	assert.NotEmpty(t, done.SessionID)

	result, ok := runner.Result(run.ID)
	require.True(t, ok)
	assert.Len(t, result.Snapshots, 5)
	assert.Len(t, result.NAV, 5)

	progress, ok := runner.Progress(run.ID)
	require.True(t, ok)
	assert.Equal(t, progress.TotalDays, progress.DoneDays)
}

func TestRunnerPrefetchesWholeWindowOnce(t *testing.T) {
	adapter := &stubAdapter{name: "stub", closes: week}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	run, err := runner.StartRun(RunRequest{
		Symbol: "AAPL", StartDate: "2024-03-11", EndDate: "2024-03-15",
		InitialCash: 100_000,
	})
	require.NoError(t, err)

	done := waitForRun(t, runner, run.ID)
	require.Equal(t, RunStatusCompleted, done.Status, done.Message)
	assert.Equal(t, 1, adapter.calls, "区间价格全部来自开跑前的一次批量预取，循环内不再取数")

	result, ok := runner.Result(run.ID)
	require.True(t, ok)
	for _, snap := range result.Snapshots {
		assert.Equal(t, "AAPL", snap.Symbol)
		assert.Equal(t, string(types.MarketUS), snap.MarketType)
	}
	assert.Equal(t, 1, result.Snapshots[0].PositionsCount, "首日买入后持仓数为 1")
}

func TestRunnerRejectsBadRequests(t *testing.T) {
	adapter := &stubAdapter{name: "stub", closes: week}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	t.Run("非法代码", func(t *testing.T) {
		_, err := runner.StartRun(RunRequest{Symbol: "999999", StartDate: "2024-03-11", EndDate: "2024-03-15"})
		assert.Error(t, err)
	})

	t.Run("end早于start", func(t *testing.T) {
		_, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "2024-03-15", EndDate: "2024-03-11"})
		assert.Error(t, err)
	})

	t.Run("end触及今天", func(t *testing.T) {
		today := time.Now().UTC().Format("2006-01-02")
		_, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "2024-03-11", EndDate: today})
		assert.Error(t, err, "回测区间不允许触及当日")
	})

	t.Run("日期格式错误", func(t *testing.T) {
		_, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "03/11/2024", EndDate: "2024-03-15"})
		assert.Error(t, err)
	})
}

func TestRunnerFailsOnZeroTradingDays(t *testing.T) {
	adapter := &stubAdapter{name: "stub", closes: week}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	// 2024-03-09/10 为周末
	run, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "2024-03-09", EndDate: "2024-03-10"})
	require.NoError(t, err)

	done := waitForRun(t, runner, run.ID)
	assert.Equal(t, RunStatusFailed, done.Status)
	assert.Contains(t, done.Message, "INSUFFICIENT_DATA")
}

func TestRunnerSubstitutesFailedDecisions(t *testing.T) {
	adapter := &stubAdapter{name: "stub", closes: week}
	source := decision.FuncSource{
		SourceName: "flaky",
		Fn: func(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error) {
			return types.Decision{}, fmt.Errorf("上游分析链超时")
		},
	}
	runner := newTestRunner(t, adapter, source)

	run, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "2024-03-11", EndDate: "2024-03-15"})
	require.NoError(t, err)

	done := waitForRun(t, runner, run.ID)
	require.Equal(t, RunStatusCompleted, done.Status, "决策失败以 INSUFFICIENT_DATA 兜底，不中断回测")
	assert.Equal(t, 5, done.Stats.Substituted)
	assert.Zero(t, done.Stats.Trades)
	assert.InDelta(t, 1_000_000, done.FinalNAV, 1e-6, "全程观望净值不变")
}

func TestRunnerFailsOnTemporalViolation(t *testing.T) {
	adapter := &stubAdapter{name: "stub", err: &temporal.RealtimeAPIBlockedError{APIName: "quote"}}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	run, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "2024-03-11", EndDate: "2024-03-15"})
	require.NoError(t, err)

	done := waitForRun(t, runner, run.ID)
	assert.Equal(t, RunStatusFailed, done.Status)
	assert.Contains(t, done.Message, "时间边界违规")
}

func TestRunnerSkipsMissingPriceDays(t *testing.T) {
	partial := map[string]float64{
		"2024-03-11": 100,
		"2024-03-13": 108,
		"2024-03-15": 112,
	}
	adapter := &stubAdapter{name: "stub", closes: partial}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	run, err := runner.StartRun(RunRequest{Symbol: "AAPL", StartDate: "2024-03-11", EndDate: "2024-03-15"})
	require.NoError(t, err)

	done := waitForRun(t, runner, run.ID)
	require.Equal(t, RunStatusCompleted, done.Status, done.Message)
	assert.Equal(t, 2, done.Stats.SkippedDays)
	require.NotNil(t, done.Stats.QualityReport)
	assert.Less(t, done.Stats.QualityReport.Score, 100.0, "缺价跳过要在质量报告中扣分")
}

func TestRunnerFlagsAnomalousPrefetchData(t *testing.T) {
	spiky := map[string]float64{
		"2024-03-11": 100,
		"2024-03-12": 140, // 单日 +40%
		"2024-03-13": 141,
		"2024-03-14": 142,
		"2024-03-15": 143,
	}
	adapter := &stubAdapter{name: "stub", closes: spiky}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	run, err := runner.StartRun(RunRequest{
		Symbol: "AAPL", StartDate: "2024-03-11", EndDate: "2024-03-15",
		InitialCash: 100_000,
	})
	require.NoError(t, err)

	done := waitForRun(t, runner, run.ID)
	require.Equal(t, RunStatusCompleted, done.Status, done.Message)
	require.NotNil(t, done.Stats.QualityReport)
	assert.NotEmpty(t, done.Stats.QualityReport.AnomalyAlerts, "预取序列要先过质量守卫")
	assert.InDelta(t, 85.0, done.Stats.QualityReport.Score, 1e-9, "一条异常警报扣 15 分")
}
