package data

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

func TestValidateOHLCVEmpty(t *testing.T) {
	report := QualityGuard{}.ValidateOHLCV(nil, "AAPL")
	assert.Equal(t, 0.0, report.Score)
	assert.Contains(t, report.MissingFields, "ohlcv_data")
}

func TestValidateOHLCVClean(t *testing.T) {
	report := QualityGuard{}.ValidateOHLCV(sampleRows(10), "AAPL")
	assert.Equal(t, 100.0, report.Score)
	assert.Empty(t, report.AnomalyAlerts)
}

func TestValidateOHLCVAnomalies(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("非正价格", func(t *testing.T) {
		rows := sampleRows(3)
		rows[1].Close = -5
		report := QualityGuard{}.ValidateOHLCV(rows, "AAPL")
		require.NotEmpty(t, report.AnomalyAlerts)
		assert.Contains(t, report.AnomalyAlerts[0], "非正价格")
	})

	t.Run("high低于low", func(t *testing.T) {
		rows := sampleRows(3)
		rows[0].High, rows[0].Low = rows[0].Low, rows[0].High+2
		report := QualityGuard{}.ValidateOHLCV(rows, "AAPL")
		assert.True(t, hasAlert(report, "high < low"))
	})

	t.Run("极端涨跌幅", func(t *testing.T) {
		rows := []types.OHLCVRecord{
			{Date: base, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
			{Date: base.AddDate(0, 0, 1), Open: 150, High: 151, Low: 149, Close: 150, Volume: 1}, // +50%
		}
		report := QualityGuard{}.ValidateOHLCV(rows, "600519")
		assert.True(t, hasAlert(report, "极端涨跌幅"))
	})

	t.Run("时序缺口过多", func(t *testing.T) {
		rows := make([]types.OHLCVRecord, 0, 5)
		for i := 0; i < 5; i++ {
			rows = append(rows, types.OHLCVRecord{
				Date: base.AddDate(0, 0, i*10), // 每条间隔 10 天
				Open: 100, High: 101, Low: 99, Close: 100, Volume: 1,
			})
		}
		report := QualityGuard{}.ValidateOHLCV(rows, "AAPL")
		assert.True(t, hasAlert(report, "缺口"))
	})
}

func hasAlert(report *QualityReport, sub string) bool {
	for _, a := range report.AnomalyAlerts {
		if strings.Contains(a, sub) {
			return true
		}
	}
	return false
}

func TestValidateFundamentals(t *testing.T) {
	report := QualityGuard{}.ValidateFundamentals(nil)
	assert.Len(t, report.MissingFields, 3)

	pe := 15.0
	report = QualityGuard{}.ValidateFundamentals(&types.Fundamentals{PERatio: &pe})
	assert.NotContains(t, report.MissingFields, "fundamentals.pe_ratio")
	assert.Contains(t, report.MissingFields, "fundamentals.pb_ratio")
	assert.Contains(t, report.MissingFields, "fundamentals.roe")
	assert.Equal(t, 90.0, report.Score)
}

func TestValidateNews(t *testing.T) {
	ctx := temporal.ForBacktest(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	news := []types.NewsItem{
		{PublishedAt: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
		{PublishedAt: time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)},
		{PublishedAt: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)},
	}
	report := QualityGuard{}.ValidateNews(news, ctx)
	assert.Equal(t, 2, report.FilteredNewsCount)
	assert.Equal(t, 98.0, report.Score)
}
