package types

import "time"

// MarketType 市场类型。
type MarketType string

const (
	MarketUS  MarketType = "US"
	MarketCNA MarketType = "CN_A"
	MarketHK  MarketType = "HK"
)

// Action 交易决策动作。
type Action string

const (
	ActionStrongBuy        Action = "STRONG_BUY"
	ActionBuy              Action = "BUY"
	ActionHold             Action = "HOLD"
	ActionSell             Action = "SELL"
	ActionStrongSell       Action = "STRONG_SELL"
	ActionInsufficientData Action = "INSUFFICIENT_DATA"
)

// IsBuy 返回是否买入方向动作。
func (a Action) IsBuy() bool { return a == ActionBuy || a == ActionStrongBuy }

// IsSell 返回是否卖出方向动作。
func (a Action) IsSell() bool { return a == ActionSell || a == ActionStrongSell }

// NewsItem 新闻数据项。published_at 为 UTC。
type NewsItem struct {
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	PublishedAt    time.Time  `json:"published_at"`
	Source         string     `json:"source"`
	URL            string     `json:"url,omitempty"`
	RelevanceScore float64    `json:"relevance_score"` // 0.0-1.0
	MarketType     MarketType `json:"market_type"`
	Symbol         string     `json:"symbol"`
}

// OHLCVRecord 单日行情记录。Date 统一为 UTC 零点。
type OHLCVRecord struct {
	Symbol     string    `json:"symbol"`
	Date       time.Time `json:"date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	AdjClose   *float64  `json:"adj_close,omitempty"`
	DataSource string    `json:"data_source"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Fundamentals 基本面快照。缺失字段保持 nil，适配器不得因缺失而报错。
type Fundamentals struct {
	Symbol       string     `json:"symbol"`
	PERatio      *float64   `json:"pe_ratio"`
	PBRatio      *float64   `json:"pb_ratio"`
	ROE          *float64   `json:"roe"`
	Revenue      *float64   `json:"revenue"`
	NetIncome    *float64   `json:"net_income"`
	EarningsDate *time.Time `json:"earnings_date"`
	ReportPeriod string     `json:"report_period,omitempty"`
	DataSource   string     `json:"data_source"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// HasData 判断除元信息外是否至少有一个有效字段。
func (f Fundamentals) HasData() bool {
	return f.PERatio != nil || f.PBRatio != nil || f.ROE != nil ||
		f.Revenue != nil || f.NetIncome != nil || f.EarningsDate != nil
}

// Decision 外部决策源给出的单日交易决策。
type Decision struct {
	Action               Action     `json:"action"`
	Confidence           float64    `json:"confidence"` // 0.0-1.0
	VolatilityAdjustment float64    `json:"volatility_adjustment"`
	Symbol               string     `json:"symbol"`
	MarketType           MarketType `json:"market_type,omitempty"`
	PrimaryReason        string     `json:"primary_reason,omitempty"`
	AnalysisDate         time.Time  `json:"analysis_date"`
}

// InsufficientDecision 构造一条“数据不足”兜底决策，供决策源失败时替换使用。
func InsufficientDecision(symbol string, market MarketType, day time.Time, reason string) Decision {
	return Decision{
		Action:               ActionInsufficientData,
		Confidence:           0,
		VolatilityAdjustment: 1.0,
		Symbol:               symbol,
		MarketType:           market,
		PrimaryReason:        reason,
		AnalysisDate:         day,
	}
}
