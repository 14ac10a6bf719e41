package backtest

import (
	"math"

	"pitsafe/internal/portfolio"
	"pitsafe/internal/types"
)

// 年化按交易日计。
const tradingDaysPerYear = 252

// RoundTrip 一次 FIFO 配对的完整买卖回合。
type RoundTrip struct {
	Symbol    string  `json:"symbol"`
	Shares    float64 `json:"shares"`
	BuyPrice  float64 `json:"buy_price"` // 配对买入批次的股数加权均价
	SellPrice float64 `json:"sell_price"`
	PnL       float64 `json:"pnl"`
}

// Win 卖出价严格高于配对买入均价才算赢，持平计输。
func (r RoundTrip) Win() bool { return r.SellPrice > r.BuyPrice }

// DecisionOutcome 决策方向与次日实际走势的配对，供预测准确率统计。
type DecisionOutcome struct {
	Action     types.Action
	PriceToday float64
	PriceNext  float64
}

// Calculator 绩效计算器。所有比率指标返回小数（0.05 = 5%）。
type Calculator struct {
	RiskFreeRate float64 // 年化无风险利率
}

// Metrics 七项核心指标。
type Metrics struct {
	TotalReturn        float64
	AnnualizedReturn   float64
	Volatility         float64
	SharpeRatio        float64
	CalmarRatio        float64
	MaxDrawdown        float64
	WinRate            float64
	PredictionAccuracy float64

	RoundTrips []RoundTrip
	Wins       int
	Losses     int
}

// Compute 基于净值序列、成交记录与决策走势配对计算全部指标。
func (c Calculator) Compute(nav []portfolio.NAVPoint, trades []portfolio.Trade, outcomes []DecisionOutcome) Metrics {
	m := Metrics{
		TotalReturn:        c.TotalReturn(nav),
		AnnualizedReturn:   c.AnnualizedReturn(nav),
		Volatility:         c.Volatility(nav),
		MaxDrawdown:        c.MaxDrawdown(nav),
		PredictionAccuracy: c.PredictionAccuracy(outcomes),
	}
	m.SharpeRatio = c.SharpeRatio(nav)
	m.CalmarRatio = c.CalmarRatio(m.AnnualizedReturn, m.MaxDrawdown)
	m.RoundTrips = MatchRoundTrips(trades)
	for _, rt := range m.RoundTrips {
		if rt.Win() {
			m.Wins++
		} else {
			m.Losses++
		}
	}
	m.WinRate = c.winRate(m.Wins, len(m.RoundTrips))
	return m
}

// TotalReturn 总收益率 = 期末净值 / 期初净值 - 1。
func (c Calculator) TotalReturn(nav []portfolio.NAVPoint) float64 {
	if len(nav) < 2 || nav[0].NAV <= 0 {
		return 0
	}
	return nav[len(nav)-1].NAV/nav[0].NAV - 1
}

// AnnualizedReturn 按 252 个交易日年化。
func (c Calculator) AnnualizedReturn(nav []portfolio.NAVPoint) float64 {
	if len(nav) < 2 {
		return 0
	}
	total := c.TotalReturn(nav)
	if total <= -1 {
		return -1
	}
	periods := float64(len(nav) - 1)
	return math.Pow(1+total, tradingDaysPerYear/periods) - 1
}

// Volatility 日收益率标准差 × √252。
func (c Calculator) Volatility(nav []portfolio.NAVPoint) float64 {
	returns := dailyReturns(nav)
	if len(returns) < 2 {
		return 0
	}
	return sampleStd(returns) * math.Sqrt(tradingDaysPerYear)
}

// SharpeRatio 夏普比率：日度超额收益均值 / 日收益率标准差 × √252。
// 无风险利率按 252 个交易日折算到日度。收益样本不足两个或方差为零时返回 0。
func (c Calculator) SharpeRatio(nav []portfolio.NAVPoint) float64 {
	returns := dailyReturns(nav)
	if len(returns) < 2 {
		return 0
	}
	std := sampleStd(returns)
	if std == 0 {
		return 0
	}
	excess := mean(returns) - c.RiskFreeRate/tradingDaysPerYear
	return excess / std * math.Sqrt(tradingDaysPerYear)
}

// CalmarRatio 卡玛比率 = 年化收益 / |最大回撤|。无回撤时返回 0。
func (c Calculator) CalmarRatio(annualized, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annualized / math.Abs(maxDrawdown)
}

// MaxDrawdown 最大回撤：净值相对滚动峰值跌幅的最小值（非正小数，-0.2 = 回撤 20%）。
func (c Calculator) MaxDrawdown(nav []portfolio.NAVPoint) float64 {
	peak, maxDD := 0.0, 0.0
	for _, p := range nav {
		if p.NAV > peak {
			peak = p.NAV
		}
		if peak > 0 {
			dd := (p.NAV - peak) / peak
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// PredictionAccuracy 方向性决策与次日走势一致的比例。
// 只统计买卖方向决策，HOLD 与 INSUFFICIENT_DATA 不参与。
func (c Calculator) PredictionAccuracy(outcomes []DecisionOutcome) float64 {
	total, correct := 0, 0
	for _, o := range outcomes {
		if o.PriceToday <= 0 || o.PriceNext <= 0 {
			continue
		}
		switch {
		case o.Action.IsBuy():
			total++
			if o.PriceNext > o.PriceToday {
				correct++
			}
		case o.Action.IsSell():
			total++
			if o.PriceNext < o.PriceToday {
				correct++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

func (c Calculator) winRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd 样本标准差（n-1 分母），调用方需保证 len >= 2。
func sampleStd(xs []float64) float64 {
	m := mean(xs)
	variance := 0.0
	for _, x := range xs {
		variance += (x - m) * (x - m)
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

func dailyReturns(nav []portfolio.NAVPoint) []float64 {
	if len(nav) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(nav)-1)
	for i := 1; i < len(nav); i++ {
		if nav[i-1].NAV <= 0 {
			continue
		}
		returns = append(returns, nav[i].NAV/nav[i-1].NAV-1)
	}
	return returns
}

type buyLot struct {
	shares float64
	price  float64
}

// MatchRoundTrips 按 FIFO 把每笔卖出与最早的买入批次配对。
// 每笔卖出产生一个回合，买入均价为所消耗批次的股数加权均价。
func MatchRoundTrips(trades []portfolio.Trade) []RoundTrip {
	lots := make(map[string][]buyLot)
	var rounds []RoundTrip
	for _, t := range trades {
		switch t.Action {
		case "BUY":
			lots[t.Symbol] = append(lots[t.Symbol], buyLot{shares: t.Shares, price: t.Price})
		case "SELL":
			queue := lots[t.Symbol]
			remaining := t.Shares
			matched, costSum := 0.0, 0.0
			for remaining > 0 && len(queue) > 0 {
				lot := &queue[0]
				take := math.Min(lot.shares, remaining)
				matched += take
				costSum += take * lot.price
				lot.shares -= take
				remaining -= take
				if lot.shares <= 1e-9 {
					queue = queue[1:]
				}
			}
			lots[t.Symbol] = queue
			if matched > 0 {
				avgBuy := costSum / matched
				rounds = append(rounds, RoundTrip{
					Symbol:    t.Symbol,
					Shares:    matched,
					BuyPrice:  avgBuy,
					SellPrice: t.Price,
					PnL:       (t.Price - avgBuy) * matched,
				})
			}
		}
	}
	return rounds
}
