package backtest

import (
	"math"
	"time"

	"pitsafe/internal/logger"
	"pitsafe/internal/portfolio"
	"pitsafe/internal/types"
)

// ExecutionResult 单日执行结果。
type ExecutionResult struct {
	Action   types.Action    `json:"action"`
	Fraction float64         `json:"fraction"` // 最终仓位系数，买入为正、卖出为负
	Traded   bool            `json:"traded"`
	Trade    portfolio.Trade `json:"trade,omitempty"`
	Note     string          `json:"note,omitempty"`
}

// Executor 决策执行器：把离散决策换算成目标仓位，只交易与目标的差额。
//
// 仓位系数 = 动作基础系数 × 调整系数，收敛到 [-1, 1]：
//
//	动作:   STRONG_BUY +1.0 / BUY +0.5 / SELL -0.5 / STRONG_SELL -1.0，
//	        HOLD 与 INSUFFICIENT_DATA 为 0（只做市值标记）。
//	调整系数二选一：决策带有非中性波动率调整时用波动率（<1 → ×1.2，>1 → ×0.7），
//	        否则用置信度（≥0.8 → ×1.0；≥0.5 → ×0.8；其余 → ×0.5）。
//
// 目标股数 = |系数| × 组合总净值 / 价格。无持仓只开多；已有持仓时，
// 买入只补足到目标的差额（到达目标即不动），卖出 min(目标, 持仓)。
type Executor struct {
	cost portfolio.CostModel
}

func NewExecutor(cost portfolio.CostModel) *Executor {
	return &Executor{cost: cost}
}

func actionFraction(action types.Action) float64 {
	switch action {
	case types.ActionStrongBuy:
		return 1.0
	case types.ActionBuy:
		return 0.5
	case types.ActionSell:
		return -0.5
	case types.ActionStrongSell:
		return -1.0
	default:
		return 0
	}
}

func confidenceFactor(confidence float64) float64 {
	switch {
	case confidence >= 0.8:
		return 1.0
	case confidence >= 0.5:
		return 0.8
	default:
		return 0.5
	}
}

func volatilityFactor(adjustment float64) float64 {
	switch {
	case adjustment < 1:
		return 1.2
	case adjustment > 1:
		return 0.7
	default:
		return 1.0
	}
}

// Fraction 计算最终仓位系数（含 [-1, 1] 截断）。
func (e *Executor) Fraction(d types.Decision) float64 {
	f := actionFraction(d.Action)
	if f == 0 {
		return 0
	}
	if d.VolatilityAdjustment != 1.0 {
		f *= volatilityFactor(d.VolatilityAdjustment)
	} else {
		f *= confidenceFactor(d.Confidence)
	}
	return math.Max(-1, math.Min(1, f))
}

// Execute 按决策在 day 以 price 执行交易。
//
// 资金或持仓不足属于调用级错误：组合零变更，原样返回给调用方定夺。
func (e *Executor) Execute(d types.Decision, p *portfolio.VirtualPortfolio, price float64, day time.Time) (ExecutionResult, error) {
	result := ExecutionResult{Action: d.Action, Fraction: e.Fraction(d)}
	if price <= 0 {
		result.Note = "无有效价格，跳过执行"
		return result, nil
	}

	// 无论是否交易，先把当日价格标记到持仓
	p.MarkPrice(d.Symbol, price)

	if result.Fraction == 0 {
		result.Note = "持仓观望"
		return result, nil
	}

	targetShares := math.Abs(result.Fraction) * p.TotalValue() / price
	held := 0.0
	if pos, ok := p.Position(d.Symbol); ok {
		held = pos.Shares
	}

	if result.Fraction > 0 {
		delta := targetShares - held
		if delta <= 0 {
			result.Note = "已达目标仓位，无需加仓"
			return result, nil
		}
		shares := e.buyShares(p.Cash(), delta, price)
		if shares <= 0 {
			result.Note = "可用现金不足以买入最小单位"
			return result, nil
		}
		trade, err := p.Buy(d.Symbol, d.MarketType, shares, price, day)
		if err != nil {
			return result, err
		}
		result.Traded = true
		result.Trade = trade
		return result, nil
	}

	if held <= 0 {
		result.Note = "无持仓可卖"
		return result, nil
	}
	trade, err := p.Sell(d.Symbol, math.Min(targetShares, held), price, day)
	if err != nil {
		return result, err
	}
	result.Traded = true
	result.Trade = trade
	return result, nil
}

// buyShares 把目标买入差额压到现金可承受的范围（为佣金与滑点预留空间）。
func (e *Executor) buyShares(cash, want, price float64) float64 {
	if want <= 0 {
		return 0
	}
	shares := want
	affordable := cash / (price * (1 + e.cost.CommissionRate + e.cost.SlippageBps/10000))
	if affordable < shares {
		shares = affordable
	}
	// 最低佣金高于比例佣金时重算一次
	if shares*price*e.cost.CommissionRate < e.cost.MinCommission {
		affordable = (cash - e.cost.MinCommission) / (price * (1 + e.cost.SlippageBps/10000))
		if affordable < shares {
			shares = affordable
		}
	}
	if shares <= 0 {
		logger.Debugf("[executor] 现金 %.2f 不足以买入（目标差额 %.4f 股 @ %.2f）", cash, want, price)
		return 0
	}
	if shares < want {
		// 现金打满时留一点浮点余量，避免落账校验差一个 ulp
		shares *= 1 - 1e-12
	}
	return shares
}
