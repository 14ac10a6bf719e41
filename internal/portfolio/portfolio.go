package portfolio

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// InsufficientFundsError 现金不足（错误码 E007）。致命于当次调用，组合状态不变。
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("现金不足: 需要 %.2f，可用 %.2f (错误码: E007)", e.Required, e.Available)
}

// InsufficientPositionError 持仓不足（错误码 E008）。致命于当次调用，组合状态不变。
type InsufficientPositionError struct {
	Symbol    string
	Requested float64
	Held      float64
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("持仓不足: %s 请求卖出 %.4f 股，持有 %.4f 股 (错误码: E008)", e.Symbol, e.Requested, e.Held)
}

// Position 单只股票持仓。AvgCost 为成交量加权均价，卖出不改变均价。
type Position struct {
	Symbol    string           `json:"symbol"`
	Market    types.MarketType `json:"market_type"`
	Shares    float64          `json:"shares"`
	AvgCost   float64          `json:"avg_cost"`
	LastPrice float64          `json:"last_price"`
}

// MarketValue 按最新标记价计算的持仓市值。
func (p Position) MarketValue() float64 { return p.Shares * p.LastPrice }

// UnrealizedPnL 浮动盈亏。
func (p Position) UnrealizedPnL() float64 { return (p.LastPrice - p.AvgCost) * p.Shares }

// Trade 成交记录，只追加不修改。
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"` // BUY / SELL
	Shares     float64   `json:"shares"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	CashAfter  float64   `json:"cash_after"`
	Date       time.Time `json:"date"`
}

// NAVPoint 单日净值快照。
type NAVPoint struct {
	Date           time.Time `json:"date"`
	NAV            float64   `json:"nav"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
}

// CostModel 交易成本参数。
//
//	佣金 = max(成交额 × CommissionRate, MinCommission)
//	滑点 = 股数 × 价格 × SlippageBps / 10000
type CostModel struct {
	CommissionRate float64 `json:"commission_rate"`
	MinCommission  float64 `json:"min_commission"`
	SlippageBps    float64 `json:"slippage_bps"`
}

func (m CostModel) commission(amount float64) float64 {
	return math.Max(amount*m.CommissionRate, m.MinCommission)
}

func (m CostModel) slippage(shares, price float64) float64 {
	return shares * price * m.SlippageBps / 10000
}

// 清仓后残余股数低于该阈值即删除持仓（浮点误差容差）。
const dustShares = 1e-9

// VirtualPortfolio 虚拟组合账本。
//
// 所有写操作先完整校验再落账：校验失败时返回错误且不做任何状态变更。
// 并发安全，回测循环与 HTTP 查询可同时访问。
type VirtualPortfolio struct {
	mu sync.RWMutex

	initialCash float64
	cash        float64
	cost        CostModel

	positions map[string]*Position
	trades    []Trade
	nav       []NAVPoint
}

func NewVirtualPortfolio(initialCash float64, cost CostModel) *VirtualPortfolio {
	return &VirtualPortfolio{
		initialCash: initialCash,
		cash:        initialCash,
		cost:        cost,
		positions:   make(map[string]*Position),
	}
}

// InitialCash 初始资金。
func (p *VirtualPortfolio) InitialCash() float64 { return p.initialCash }

// Cash 当前现金。
func (p *VirtualPortfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Buy 买入。现金不足时返回 *InsufficientFundsError，组合零变更。
func (p *VirtualPortfolio) Buy(symbol string, market types.MarketType, shares, price float64, day time.Time) (Trade, error) {
	if shares <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("买入参数非法: shares=%.4f price=%.4f", shares, price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	amount := shares * price
	commission := p.cost.commission(amount)
	slippage := p.cost.slippage(shares, price)
	total := amount + commission + slippage
	if total > p.cash {
		return Trade{}, &InsufficientFundsError{Required: total, Available: p.cash}
	}

	p.cash -= total
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, Market: market}
		p.positions[symbol] = pos
	}
	// 成交量加权均价，只按成交价加权，交易成本不摊入均价
	newShares := pos.Shares + shares
	pos.AvgCost = (pos.AvgCost*pos.Shares + amount) / newShares
	pos.Shares = newShares
	pos.LastPrice = price

	trade := Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Action:     "BUY",
		Shares:     shares,
		Price:      price,
		Amount:     amount,
		Commission: commission,
		Slippage:   slippage,
		CashAfter:  p.cash,
		Date:       temporal.DateOf(day),
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

// Sell 卖出。持仓不足时返回 *InsufficientPositionError，组合零变更。
func (p *VirtualPortfolio) Sell(symbol string, shares, price float64, day time.Time) (Trade, error) {
	if shares <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("卖出参数非法: shares=%.4f price=%.4f", shares, price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	held := 0.0
	if ok {
		held = pos.Shares
	}
	if shares > held+dustShares {
		return Trade{}, &InsufficientPositionError{Symbol: symbol, Requested: shares, Held: held}
	}

	amount := shares * price
	commission := p.cost.commission(amount)
	slippage := p.cost.slippage(shares, price)
	p.cash += amount - commission - slippage

	pos.Shares -= shares
	pos.LastPrice = price
	if pos.Shares <= dustShares {
		delete(p.positions, symbol)
	}

	trade := Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Action:     "SELL",
		Shares:     shares,
		Price:      price,
		Amount:     amount,
		Commission: commission,
		Slippage:   slippage,
		CashAfter:  p.cash,
		Date:       temporal.DateOf(day),
	}
	p.trades = append(p.trades, trade)
	return trade, nil
}

// MarkPrice 更新持仓标记价（无持仓则忽略）。
func (p *VirtualPortfolio) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.LastPrice = price
	}
}

// Position 返回持仓副本。
func (p *VirtualPortfolio) Position(symbol string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions 返回全部持仓副本（symbol 升序）。
func (p *VirtualPortfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		list = append(list, *pos)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list
}

// TotalValue 组合总净值 = 现金 + Σ(股数 × 最新标记价)。
func (p *VirtualPortfolio) TotalValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalValueLocked()
}

func (p *VirtualPortfolio) totalValueLocked() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// RecordNAV 记录 day 的净值快照（同日重复记录时覆盖）。
func (p *VirtualPortfolio) RecordNAV(day time.Time) NAVPoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	day = temporal.DateOf(day)
	point := NAVPoint{
		Date:           day,
		NAV:            p.totalValueLocked(),
		Cash:           p.cash,
		PositionsValue: p.totalValueLocked() - p.cash,
	}
	for i := range p.nav {
		if p.nav[i].Date.Equal(day) {
			p.nav[i] = point
			return point
		}
	}
	p.nav = append(p.nav, point)
	return point
}

// NAVHistory 返回净值序列副本（日期升序）。
func (p *VirtualPortfolio) NAVHistory() []NAVPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := append([]NAVPoint(nil), p.nav...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Trades 返回成交记录副本（时间顺序）。
func (p *VirtualPortfolio) Trades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Trade(nil), p.trades...)
}

// Reset 清空全部状态，恢复到初始资金。
func (p *VirtualPortfolio) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.initialCash
	p.positions = make(map[string]*Position)
	p.trades = nil
	p.nav = nil
}
