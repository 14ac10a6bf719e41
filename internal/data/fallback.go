package data

import (
	"context"
	"errors"
	"time"

	"pitsafe/internal/logger"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// 评分扣减规则（满分 100，下限 0，单次取数周期内只减不增）。
const (
	penaltyFallback     = 10
	penaltyMissingField = 5
	penaltyAnomaly      = 15
)

// QualityReport 数据质量报告。
//
// 每次独立校验/每次运行各建一份新实例，在单条调用链内传递，
// 结束即丢弃，绝不跨运行复用。
type QualityReport struct {
	Score             float64   `json:"score"`
	MissingFields     []string  `json:"missing_fields"`
	AnomalyAlerts     []string  `json:"anomaly_alerts"`
	FilteredNewsCount int       `json:"filtered_news_count"`
	FallbacksUsed     []string  `json:"fallbacks_used"`
	GeneratedAt       time.Time `json:"generated_at"`
}

func NewQualityReport() *QualityReport {
	return &QualityReport{Score: 100, GeneratedAt: time.Now().UTC()}
}

// AddFallback 记录一次降级（每次扣 10 分）。
func (r *QualityReport) AddFallback(adapterName string) {
	if r == nil {
		return
	}
	found := false
	for _, name := range r.FallbacksUsed {
		if name == adapterName {
			found = true
			break
		}
	}
	if !found {
		r.FallbacksUsed = append(r.FallbacksUsed, adapterName)
	}
	r.deduct(penaltyFallback)
}

// AddMissingField 记录缺失字段（每个扣 5 分）。
func (r *QualityReport) AddMissingField(field string) {
	if r == nil {
		return
	}
	for _, f := range r.MissingFields {
		if f == field {
			return
		}
	}
	r.MissingFields = append(r.MissingFields, field)
	r.deduct(penaltyMissingField)
}

// AddAnomaly 记录异常警报（每条扣 15 分）。
func (r *QualityReport) AddAnomaly(alert string) {
	if r == nil {
		return
	}
	r.AnomalyAlerts = append(r.AnomalyAlerts, alert)
	r.deduct(penaltyAnomaly)
}

// SetFilteredNewsCount 记录被时间过滤的新闻数量，按数量扣分（上限 20）。
func (r *QualityReport) SetFilteredNewsCount(count int) {
	if r == nil {
		return
	}
	r.FilteredNewsCount = count
	if count > 0 {
		p := count
		if p > 20 {
			p = 20
		}
		r.deduct(float64(p))
	}
}

func (r *QualityReport) deduct(points float64) {
	r.Score -= points
	if r.Score < 0 {
		r.Score = 0
	}
}

// FallbackManager 降级管理器。
//
// 依次尝试主源与备用源：空结果或出错即切换下一个，首个有效结果胜出。
// 每次使用备用源都会记入质量报告并扣分；全部失败时返回该调用的
// “无数据”哨兵值（nil），数据源故障绝不向上抛错。
//
// 唯一例外是时间边界类错误（TemporalViolation / RealtimeAPIBlocked）：
// 它们标志调用方自身的缺陷而非数据源故障，原样上抛、不再尝试下一个源。
type FallbackManager struct {
	primaries []MarketDataAdapter
	fallbacks []MarketDataAdapter
	report    *QualityReport

	// breakerOf 为空时不做熔断（测试与单次调用场景）。
	breakerOf func(adapterName string) *SourceBreaker
	// newsFilter 为空时新闻结果不做相关性过滤与去重。
	newsFilter *NewsFilter
}

func NewFallbackManager(primaries, fallbacks []MarketDataAdapter, report *QualityReport) *FallbackManager {
	if report == nil {
		report = NewQualityReport()
	}
	return &FallbackManager{primaries: primaries, fallbacks: fallbacks, report: report}
}

func (m *FallbackManager) breaker(name string) *SourceBreaker {
	if m.breakerOf == nil {
		return nil
	}
	return m.breakerOf(name)
}

// Report 返回本次取数周期的质量报告。
func (m *FallbackManager) Report() *QualityReport { return m.report }

// fatalBoundary 判断是否为不可吞掉的边界类错误。
func fatalBoundary(err error) bool {
	var tv *temporal.TemporalViolationError
	var rb *temporal.RealtimeAPIBlockedError
	return errors.As(err, &tv) || errors.As(err, &rb)
}

// GetOHLCV 获取行情，自动降级；全部失败返回 nil。
func (m *FallbackManager) GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval string, tctx temporal.Context) ([]types.OHLCVRecord, error) {
	try := func(a MarketDataAdapter, isFallback bool) ([]types.OHLCVRecord, error, bool) {
		br := m.breaker(a.Name())
		if br != nil && !br.Allow() {
			logger.Debugf("[fallback] 数据源 %s 熔断中，跳过", a.Name())
			return nil, nil, false
		}
		rows, err := a.GetOHLCV(ctx, symbol, start, end, interval, tctx)
		if err != nil {
			if fatalBoundary(err) {
				return nil, err, true
			}
			if br != nil {
				br.RecordFailure()
			}
			logger.Warnf("[fallback] 数据源 %s ohlcv 失败: %v", a.Name(), err)
			return nil, nil, false
		}
		if br != nil {
			br.RecordSuccess()
		}
		if len(rows) == 0 {
			return nil, nil, false
		}
		if isFallback {
			m.report.AddFallback(a.Name())
		}
		return rows, nil, true
	}
	for _, a := range m.primaries {
		if a == nil {
			continue
		}
		if rows, err, done := try(a, false); done {
			return rows, err
		}
	}
	for _, a := range m.fallbacks {
		if a == nil {
			continue
		}
		if rows, err, done := try(a, true); done {
			return rows, err
		}
	}
	return nil, nil
}

// GetFundamentals 获取基本面，自动降级；全部失败返回 nil。
func (m *FallbackManager) GetFundamentals(ctx context.Context, symbol string, asOf time.Time, tctx temporal.Context) (*types.Fundamentals, error) {
	try := func(a MarketDataAdapter, isFallback bool) (*types.Fundamentals, error, bool) {
		br := m.breaker(a.Name())
		if br != nil && !br.Allow() {
			logger.Debugf("[fallback] 数据源 %s 熔断中，跳过", a.Name())
			return nil, nil, false
		}
		f, err := a.GetFundamentals(ctx, symbol, asOf, tctx)
		if err != nil {
			if fatalBoundary(err) {
				return nil, err, true
			}
			if br != nil {
				br.RecordFailure()
			}
			logger.Warnf("[fallback] 数据源 %s fundamentals 失败: %v", a.Name(), err)
			return nil, nil, false
		}
		if br != nil {
			br.RecordSuccess()
		}
		if !f.HasData() {
			return nil, nil, false
		}
		if isFallback {
			m.report.AddFallback(a.Name())
		}
		return &f, nil, true
	}
	for _, a := range m.primaries {
		if a == nil {
			continue
		}
		if f, err, done := try(a, false); done {
			return f, err
		}
	}
	for _, a := range m.fallbacks {
		if a == nil {
			continue
		}
		if f, err, done := try(a, true); done {
			return f, err
		}
	}
	return nil, nil
}

// GetNews 获取新闻，自动降级；全部失败返回 nil。
func (m *FallbackManager) GetNews(ctx context.Context, symbol string, daysBack int, tctx temporal.Context) ([]types.NewsItem, error) {
	try := func(a MarketDataAdapter, isFallback bool) ([]types.NewsItem, error, bool) {
		br := m.breaker(a.Name())
		if br != nil && !br.Allow() {
			logger.Debugf("[fallback] 数据源 %s 熔断中，跳过", a.Name())
			return nil, nil, false
		}
		items, err := a.GetNews(ctx, symbol, daysBack, tctx)
		if err != nil {
			if fatalBoundary(err) {
				return nil, err, true
			}
			if br != nil {
				br.RecordFailure()
			}
			logger.Warnf("[fallback] 数据源 %s news 失败: %v", a.Name(), err)
			return nil, nil, false
		}
		if br != nil {
			br.RecordSuccess()
		}
		if len(items) == 0 {
			return nil, nil, false
		}
		if isFallback {
			m.report.AddFallback(a.Name())
		}
		return items, nil, true
	}
	for _, a := range m.primaries {
		if a == nil {
			continue
		}
		if items, err, done := try(a, false); done {
			if err != nil {
				return nil, err
			}
			return m.filterNews(items, symbol, tctx), nil
		}
	}
	for _, a := range m.fallbacks {
		if a == nil {
			continue
		}
		if items, err, done := try(a, true); done {
			if err != nil {
				return nil, err
			}
			return m.filterNews(items, symbol, tctx), nil
		}
	}
	return nil, nil
}

// filterNews 命中数据源后执行三级新闻过滤（时间 → 相关性 → 去重），
// 被时间过滤掉的数量计入质量报告。
func (m *FallbackManager) filterNews(items []types.NewsItem, symbol string, tctx temporal.Context) []types.NewsItem {
	if m.newsFilter == nil {
		return items
	}
	filtered, stats := m.newsFilter.Filter(items, symbol, tctx, "")
	if n := stats.TemporalFiltered(); n > 0 {
		m.report.SetFilteredNewsCount(n)
	}
	return filtered
}
