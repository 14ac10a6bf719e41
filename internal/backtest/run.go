package backtest

import (
	"encoding/json"
	"time"

	"pitsafe/internal/data"
	"pitsafe/internal/portfolio"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Symbol         string  `json:"symbol"`
	StartDate      string  `json:"start_date"` // YYYY-MM-DD
	EndDate        string  `json:"end_date"`
	InitialCash    float64 `json:"initial_cash"`
	CommissionRate float64 `json:"commission_rate"`
	MinCommission  float64 `json:"min_commission"`
	SlippageBps    float64 `json:"slippage_bps"`
	RiskFreeRate   float64 `json:"risk_free_rate"`
	DecisionSource string  `json:"decision_source"`
	Notes          string  `json:"notes,omitempty"`
}

// RunStats 收益与风控指标汇总。比率类指标均为小数（0.05 = 5%）。
type RunStats struct {
	FinalNAV           float64 `json:"final_nav"`
	Profit             float64 `json:"profit"`
	TotalReturn        float64 `json:"total_return"`
	AnnualizedReturn   float64 `json:"annualized_return"`
	Volatility         float64 `json:"volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	WinRate            float64 `json:"win_rate"`
	PredictionAccuracy float64 `json:"prediction_accuracy"`

	TradingDays  int `json:"trading_days"`
	SkippedDays  int `json:"skipped_days"`
	Trades       int `json:"trades"`
	RoundTrips   int `json:"round_trips"`
	Wins         int `json:"wins"`
	Losses       int `json:"losses"`
	Substituted  int `json:"substituted_decisions"`
	NewsFiltered int `json:"news_filtered"`

	QualityReport *data.QualityReport `json:"quality_report,omitempty"`
	FinishedAt    time.Time           `json:"finished_at"`
}

// Run 一次回测任务。
type Run struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	InitialCash float64   `json:"initial_cash"`
	FinalNAV    float64   `json:"final_nav"`
	Profit      float64   `json:"profit"`
	TotalReturn float64   `json:"total_return"`
	Message     string    `json:"message,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) { return json.Marshal(r.Stats) }

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) { return json.Marshal(r.Config) }

// Snapshot 单个模拟日的净值与决策留痕。
type Snapshot struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	Date           time.Time `json:"date"`
	Symbol         string    `json:"symbol"`
	MarketType     string    `json:"market_type"`
	NAV            float64   `json:"nav"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	PositionsCount int       `json:"positions_count"`
	Drawdown       float64   `json:"drawdown"`
	Action         string    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Price          float64   `json:"price"`
	Shares         float64   `json:"shares"`
	Note           string    `json:"note,omitempty"`
}

// Progress 运行进度（供 HTTP 轮询）。
type Progress struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	TotalDays  int       `json:"total_days"`
	DoneDays   int       `json:"done_days"`
	Percent    float64   `json:"percent"`
	CurrentDay time.Time `json:"current_day,omitempty"`
	Message    string    `json:"message,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunRequest HTTP 提交参数。
type RunRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	StartDate      string  `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate        string  `json:"end_date" binding:"required"`
	InitialCash    float64 `json:"initial_cash"`
	CommissionRate float64 `json:"commission_rate"`
	MinCommission  float64 `json:"min_commission"`
	SlippageBps    float64 `json:"slippage_bps"`
	Notes          string  `json:"notes"`
}

// Result 运行完成后的完整产物（内存态，落库由 Recorder 负责）。
type Result struct {
	Run       Run                  `json:"run"`
	Trades    []portfolio.Trade    `json:"trades"`
	NAV       []portfolio.NAVPoint `json:"nav"`
	Snapshots []Snapshot           `json:"snapshots"`
}
