package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// A股涨跌停约束下，单日涨跌超过 30% 视为数据异常。
const extremeDailyChange = 0.30

// QualityGuard 数据质量守卫。
//
// 每次校验都返回一份全新的 QualityReport，避免跨调用状态污染。
type QualityGuard struct{}

// ValidateOHLCV 校验行情数据质量：价格为正、high≥low、极端涨跌幅、时序缺口。
func (QualityGuard) ValidateOHLCV(rows []types.OHLCVRecord, symbol string) *QualityReport {
	report := NewQualityReport()
	if len(rows) == 0 {
		report.Score = 0
		report.AddMissingField("ohlcv_data")
		return report
	}

	sorted := append([]types.OHLCVRecord(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	nonPositive := false
	highLow := false
	for _, r := range sorted {
		if r.Open <= 0 || r.High <= 0 || r.Low <= 0 || r.Close <= 0 {
			nonPositive = true
		}
		if r.High < r.Low {
			highLow = true
		}
	}
	if nonPositive {
		report.AddAnomaly(fmt.Sprintf("%s: 存在非正价格", symbol))
	}
	if highLow {
		report.AddAnomaly(fmt.Sprintf("%s: high < low 异常", symbol))
	}

	if len(sorted) >= 2 {
		closes := make([]float64, len(sorted))
		for i, r := range sorted {
			closes[i] = r.Close
		}
		changes := talib.Rocp(closes, 1)
		var extremeDates []string
		for i, c := range changes {
			if math.Abs(c) > extremeDailyChange {
				extremeDates = append(extremeDates, sorted[i].Date.Format("2006-01-02"))
			}
		}
		if len(extremeDates) > 0 {
			report.AddAnomaly(fmt.Sprintf("%s: 极端涨跌幅 %v", symbol, extremeDates))
		}

		// 间隔超过 5 个自然日视为缺口（跳过普通周末），缺口过多才告警
		gaps := 0
		for i := 1; i < len(sorted); i++ {
			if sorted[i].Date.Sub(sorted[i-1].Date) > 5*24*time.Hour {
				gaps++
			}
		}
		if gaps > 3 {
			report.AddAnomaly(fmt.Sprintf("%s: 时序存在较多缺口 (%d 处)", symbol, gaps))
		}
	}
	return report
}

// ValidateFundamentals 校验财报数据完整性（PE/PB/ROE 必需）。
func (QualityGuard) ValidateFundamentals(f *types.Fundamentals) *QualityReport {
	report := NewQualityReport()
	if f == nil {
		report.AddMissingField("fundamentals.pe_ratio")
		report.AddMissingField("fundamentals.pb_ratio")
		report.AddMissingField("fundamentals.roe")
		return report
	}
	if f.PERatio == nil {
		report.AddMissingField("fundamentals.pe_ratio")
	}
	if f.PBRatio == nil {
		report.AddMissingField("fundamentals.pb_ratio")
	}
	if f.ROE == nil {
		report.AddMissingField("fundamentals.roe")
	}
	return report
}

// ValidateNews 统计 published_at 晚于分析日期的新闻数量。
func (QualityGuard) ValidateNews(news []types.NewsItem, ctx temporal.Context) *QualityReport {
	report := NewQualityReport()
	filtered := 0
	for _, n := range news {
		if temporal.DateOf(n.PublishedAt).After(ctx.AnalysisDate) {
			filtered++
		}
	}
	report.SetFilteredNewsCount(filtered)
	return report
}
