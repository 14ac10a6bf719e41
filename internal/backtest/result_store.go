package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"pitsafe/internal/portfolio"
)

// Recorder 运行结果落库契约。落库失败不应中断回测，由调用方记日志后继续。
type Recorder interface {
	SaveRun(ctx context.Context, run Run) error
	SaveSnapshots(ctx context.Context, runID string, snaps []Snapshot) error
	SaveTrades(ctx context.Context, runID string, trades []portfolio.Trade) error
}

type runModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Symbol      string         `gorm:"column:symbol;index"`
	Status      string         `gorm:"column:status;index"`
	StartDate   int64          `gorm:"column:start_date"`
	EndDate     int64          `gorm:"column:end_date"`
	InitialCash float64        `gorm:"column:initial_cash"`
	FinalNAV    float64        `gorm:"column:final_nav"`
	Profit      float64        `gorm:"column:profit"`
	TotalReturn float64        `gorm:"column:total_return"`
	Message     string         `gorm:"column:message"`
	SessionID   string         `gorm:"column:session_id"`
	ConfigJSON  datatypes.JSON `gorm:"column:config_json"`
	StatsJSON   datatypes.JSON `gorm:"column:stats_json"`
	CreatedAt   int64          `gorm:"column:created_at"`
	UpdatedAt   int64          `gorm:"column:updated_at"`
	CompletedAt int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type snapshotModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string  `gorm:"column:run_id;index"`
	Date           int64   `gorm:"column:date"`
	Symbol         string  `gorm:"column:symbol"`
	MarketType     string  `gorm:"column:market_type"`
	NAV            float64 `gorm:"column:nav"`
	Cash           float64 `gorm:"column:cash"`
	PositionsValue float64 `gorm:"column:positions_value"`
	PositionsCount int     `gorm:"column:positions_count"`
	Drawdown       float64 `gorm:"column:drawdown"`
	Action         string  `gorm:"column:action"`
	Confidence     float64 `gorm:"column:confidence"`
	Price          float64 `gorm:"column:price"`
	Shares         float64 `gorm:"column:shares"`
	Note           string  `gorm:"column:note"`
}

func (snapshotModel) TableName() string { return "backtest_snapshots" }

type tradeModel struct {
	ID         string  `gorm:"column:id;primaryKey"`
	RunID      string  `gorm:"column:run_id;index"`
	Symbol     string  `gorm:"column:symbol"`
	Action     string  `gorm:"column:action"`
	Shares     float64 `gorm:"column:shares"`
	Price      float64 `gorm:"column:price"`
	Amount     float64 `gorm:"column:amount"`
	Commission float64 `gorm:"column:commission"`
	Slippage   float64 `gorm:"column:slippage"`
	CashAfter  float64 `gorm:"column:cash_after"`
	Date       int64   `gorm:"column:date;index"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

// ResultStore 基于 Gorm + SQLite 的运行结果库。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(root string) (*ResultStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &snapshotModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL 下留少量并行度给 HTTP 读
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 写入或更新一条 run 记录。
func (s *ResultStore) SaveRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	statsJSON, err := run.MarshalStats()
	if err != nil {
		return err
	}
	model := runModel{
		ID:          run.ID,
		Symbol:      strings.ToUpper(run.Symbol),
		Status:      run.Status,
		StartDate:   run.StartDate.Unix(),
		EndDate:     run.EndDate.Unix(),
		InitialCash: run.InitialCash,
		FinalNAV:    run.FinalNAV,
		Profit:      run.Profit,
		TotalReturn: run.TotalReturn,
		Message:     run.Message,
		SessionID:   run.SessionID,
		ConfigJSON:  datatypes.JSON(cfgJSON),
		StatsJSON:   datatypes.JSON(statsJSON),
		CreatedAt:   run.CreatedAt.Unix(),
		UpdatedAt:   time.Now().Unix(),
	}
	if !run.CompletedAt.IsZero() {
		model.CompletedAt = run.CompletedAt.Unix()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

// GetRun 按 ID 读取。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("result store 未初始化")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, fmt.Errorf("run %s 不存在", id)
		}
		return Run{}, err
	}
	return runModelToRun(model), nil
}

// ListRuns 按创建时间倒序列出。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(models))
	for _, m := range models {
		runs = append(runs, runModelToRun(m))
	}
	return runs, nil
}

// SaveSnapshots 批量写入每日快照。
func (s *ResultStore) SaveSnapshots(ctx context.Context, runID string, snaps []Snapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	if len(snaps) == 0 {
		return nil
	}
	models := make([]snapshotModel, 0, len(snaps))
	for _, sn := range snaps {
		models = append(models, snapshotModel{
			RunID:          runID,
			Date:           sn.Date.Unix(),
			Symbol:         sn.Symbol,
			MarketType:     sn.MarketType,
			NAV:            sn.NAV,
			Cash:           sn.Cash,
			PositionsValue: sn.PositionsValue,
			PositionsCount: sn.PositionsCount,
			Drawdown:       sn.Drawdown,
			Action:         sn.Action,
			Confidence:     sn.Confidence,
			Price:          sn.Price,
			Shares:         sn.Shares,
			Note:           sn.Note,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// ListSnapshots 按日期升序列出快照。
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 5000 {
		limit = 400
	}
	var models []snapshotModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("date ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(models))
	for _, m := range models {
		snaps = append(snaps, Snapshot{
			ID:             m.ID,
			RunID:          m.RunID,
			Date:           time.Unix(m.Date, 0).UTC(),
			Symbol:         m.Symbol,
			MarketType:     m.MarketType,
			NAV:            m.NAV,
			Cash:           m.Cash,
			PositionsValue: m.PositionsValue,
			PositionsCount: m.PositionsCount,
			Drawdown:       m.Drawdown,
			Action:         m.Action,
			Confidence:     m.Confidence,
			Price:          m.Price,
			Shares:         m.Shares,
			Note:           m.Note,
		})
	}
	return snaps, nil
}

// SaveTrades 批量写入成交记录。
func (s *ResultStore) SaveTrades(ctx context.Context, runID string, trades []portfolio.Trade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	if len(trades) == 0 {
		return nil
	}
	models := make([]tradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, tradeModel{
			ID:         t.ID,
			RunID:      runID,
			Symbol:     t.Symbol,
			Action:     t.Action,
			Shares:     t.Shares,
			Price:      t.Price,
			Amount:     t.Amount,
			Commission: t.Commission,
			Slippage:   t.Slippage,
			CashAfter:  t.CashAfter,
			Date:       t.Date.Unix(),
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(models, 200).Error
}

// ListTrades 按日期升序列出成交。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]portfolio.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 5000 {
		limit = 200
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("date ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	trades := make([]portfolio.Trade, 0, len(models))
	for _, m := range models {
		trades = append(trades, portfolio.Trade{
			ID:         m.ID,
			Symbol:     m.Symbol,
			Action:     m.Action,
			Shares:     m.Shares,
			Price:      m.Price,
			Amount:     m.Amount,
			Commission: m.Commission,
			Slippage:   m.Slippage,
			CashAfter:  m.CashAfter,
			Date:       time.Unix(m.Date, 0).UTC(),
		})
	}
	return trades, nil
}

func runModelToRun(m runModel) Run {
	run := Run{
		ID:          m.ID,
		Symbol:      m.Symbol,
		Status:      m.Status,
		StartDate:   time.Unix(m.StartDate, 0).UTC(),
		EndDate:     time.Unix(m.EndDate, 0).UTC(),
		InitialCash: m.InitialCash,
		FinalNAV:    m.FinalNAV,
		Profit:      m.Profit,
		TotalReturn: m.TotalReturn,
		Message:     m.Message,
		SessionID:   m.SessionID,
		CreatedAt:   time.Unix(m.CreatedAt, 0).UTC(),
		UpdatedAt:   time.Unix(m.UpdatedAt, 0).UTC(),
	}
	if m.CompletedAt > 0 {
		run.CompletedAt = time.Unix(m.CompletedAt, 0).UTC()
	}
	if len(m.ConfigJSON) > 0 {
		_ = json.Unmarshal(m.ConfigJSON, &run.Config)
	}
	if len(m.StatsJSON) > 0 {
		_ = json.Unmarshal(m.StatsJSON, &run.Stats)
	}
	return run
}

var _ Recorder = (*ResultStore)(nil)
