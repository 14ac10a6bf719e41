package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/portfolio"
	"pitsafe/internal/types"
)

var execDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestFractionTable(t *testing.T) {
	e := NewExecutor(portfolio.CostModel{})
	cases := []struct {
		name       string
		action     types.Action
		confidence float64
		volAdj     float64
		want       float64
	}{
		{"强买高置信常波动", types.ActionStrongBuy, 0.9, 1.0, 1.0},
		{"强买低波动截断到1", types.ActionStrongBuy, 0.9, 0.5, 1.0}, // 1.0×1.2 → 截断
		{"买入中置信常波动", types.ActionBuy, 0.6, 1.0, 0.4},       // 0.5×0.8
		{"买入高波动走波动率档", types.ActionBuy, 0.3, 1.5, 0.5 * 0.7},
		{"卖出高置信", types.ActionSell, 0.85, 1.0, -0.5},
		{"强卖低波动截断到-1", types.ActionStrongSell, 0.6, 0.5, -1.0}, // -1.0×1.2 → 截断
		{"观望恒为零", types.ActionHold, 0.99, 0.2, 0},
		{"数据不足恒为零", types.ActionInsufficientData, 0.99, 1.0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Fraction(types.Decision{
				Action:               tc.action,
				Confidence:           tc.confidence,
				VolatilityAdjustment: tc.volAdj,
			})
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestExecuteBuyThenSell(t *testing.T) {
	cost := portfolio.CostModel{CommissionRate: 0.0003, MinCommission: 5, SlippageBps: 5}
	e := NewExecutor(cost)
	pf := portfolio.NewVirtualPortfolio(100_000, cost)

	buy := types.Decision{
		Action: types.ActionStrongBuy, Confidence: 0.9, VolatilityAdjustment: 1.0,
		Symbol: "AAPL", MarketType: types.MarketUS,
	}
	res, err := e.Execute(buy, pf, 150, execDay)
	require.NoError(t, err)
	require.True(t, res.Traded)
	assert.Equal(t, "BUY", res.Trade.Action)
	assert.GreaterOrEqual(t, pf.Cash(), 0.0, "买入预算必须覆盖佣金与滑点")

	pos, ok := pf.Position("AAPL")
	require.True(t, ok)
	heldBefore := pos.Shares

	// 卖出目标 = 0.5 × 总净值 / 价格，与持仓取小
	pf.MarkPrice("AAPL", 160)
	wantShares := math.Min(0.5*pf.TotalValue()/160, heldBefore)

	sell := types.Decision{
		Action: types.ActionSell, Confidence: 0.9, VolatilityAdjustment: 1.0,
		Symbol: "AAPL", MarketType: types.MarketUS,
	}
	res, err = e.Execute(sell, pf, 160, execDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, res.Traded)
	assert.InDelta(t, wantShares, res.Trade.Shares, 1e-9)
}

func TestExecuteSellsWholePositionWhenCashDominates(t *testing.T) {
	e := NewExecutor(portfolio.CostModel{})
	pf := portfolio.NewVirtualPortfolio(110_000, portfolio.CostModel{})
	_, err := pf.Buy("AAPL", types.MarketUS, 100, 100, execDay)
	require.NoError(t, err)

	// 总净值 110,000，目标卖出 550 股，但持仓只有 100 股 → 清仓
	sell := types.Decision{Action: types.ActionSell, Confidence: 0.9, VolatilityAdjustment: 1.0, Symbol: "AAPL"}
	res, err := e.Execute(sell, pf, 100, execDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, res.Traded)
	assert.InDelta(t, 100, res.Trade.Shares, 1e-9, "目标超过持仓时卖出全部持仓")

	_, ok := pf.Position("AAPL")
	assert.False(t, ok)
}

func TestExecuteRepeatedBuyStopsAtTarget(t *testing.T) {
	e := NewExecutor(portfolio.CostModel{})
	pf := portfolio.NewVirtualPortfolio(100_000, portfolio.CostModel{})

	buy := types.Decision{
		Action: types.ActionStrongBuy, Confidence: 0.9, VolatilityAdjustment: 1.0,
		Symbol: "AAPL", MarketType: types.MarketUS,
	}
	res, err := e.Execute(buy, pf, 100, execDay)
	require.NoError(t, err)
	require.True(t, res.Traded)
	assert.InDelta(t, 1000, res.Trade.Shares, 1e-9)

	// 价格未变，目标仓位已达成 → 重复 BUY 不再交易
	res, err = e.Execute(buy, pf, 100, execDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, res.Traded)
	assert.NotEmpty(t, res.Note)

	pos, ok := pf.Position("AAPL")
	require.True(t, ok)
	assert.InDelta(t, 1000, pos.Shares, 1e-9)
}

func TestExecuteBuyTopsUpToTarget(t *testing.T) {
	e := NewExecutor(portfolio.CostModel{})
	pf := portfolio.NewVirtualPortfolio(100_000, portfolio.CostModel{})
	_, err := pf.Buy("AAPL", types.MarketUS, 500, 100, execDay)
	require.NoError(t, err)

	// 目标 1000 股，已持 500 → 只补买 500 股差额
	buy := types.Decision{Action: types.ActionStrongBuy, Confidence: 0.9, VolatilityAdjustment: 1.0, Symbol: "AAPL", MarketType: types.MarketUS}
	res, err := e.Execute(buy, pf, 100, execDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, res.Traded)
	assert.InDelta(t, 500, res.Trade.Shares, 1e-9)
	assert.InDelta(t, 0, pf.Cash(), 1e-6)
}

func TestExecuteHoldOnlyMarksPrice(t *testing.T) {
	cost := portfolio.CostModel{}
	e := NewExecutor(cost)
	pf := portfolio.NewVirtualPortfolio(10_000, cost)
	_, err := pf.Buy("AAPL", types.MarketUS, 10, 100, execDay)
	require.NoError(t, err)

	hold := types.Decision{Action: types.ActionHold, Confidence: 0.9, VolatilityAdjustment: 1.0, Symbol: "AAPL"}
	res, err := e.Execute(hold, pf, 120, execDay)
	require.NoError(t, err)
	assert.False(t, res.Traded)

	pos, _ := pf.Position("AAPL")
	assert.InDelta(t, 120, pos.LastPrice, 1e-9, "观望日仍要标记市价")
}

func TestExecuteSellWithoutPosition(t *testing.T) {
	e := NewExecutor(portfolio.CostModel{})
	pf := portfolio.NewVirtualPortfolio(10_000, portfolio.CostModel{})

	sell := types.Decision{Action: types.ActionStrongSell, Confidence: 0.9, VolatilityAdjustment: 1.0, Symbol: "AAPL"}
	res, err := e.Execute(sell, pf, 100, execDay)
	require.NoError(t, err)
	assert.False(t, res.Traded)
	assert.NotEmpty(t, res.Note)
}

func TestExecuteInvalidPrice(t *testing.T) {
	e := NewExecutor(portfolio.CostModel{})
	pf := portfolio.NewVirtualPortfolio(10_000, portfolio.CostModel{})

	buy := types.Decision{Action: types.ActionBuy, Confidence: 0.9, VolatilityAdjustment: 1.0, Symbol: "AAPL"}
	res, err := e.Execute(buy, pf, 0, execDay)
	require.NoError(t, err)
	assert.False(t, res.Traded)
	assert.InDelta(t, 10_000, pf.Cash(), 1e-9)
}
