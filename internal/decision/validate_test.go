package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

var analysisDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestParseDecisionDoc(t *testing.T) {
	raw := `{
		"action": "BUY",
		"confidence": 0.72,
		"volatility_adjustment": 0.8,
		"primary_reason": "短期动量向好",
		"symbol": "WRONG",
		"analysis_date": "2030-01-01"
	}`
	d, err := ParseDecisionDoc(raw, "AAPL", analysisDay)
	require.NoError(t, err)

	assert.Equal(t, types.ActionBuy, d.Action)
	assert.InDelta(t, 0.72, d.Confidence, 1e-9)
	assert.InDelta(t, 0.8, d.VolatilityAdjustment, 1e-9)
	assert.Equal(t, "AAPL", d.Symbol, "引擎侧 symbol 为权威值")
	assert.Equal(t, analysisDay, d.AnalysisDate, "上游无权改写分析日期")
	assert.Equal(t, "短期动量向好", d.PrimaryReason)
}

func TestParseDecisionDocDefaults(t *testing.T) {
	d, err := ParseDecisionDoc(`{"action": "HOLD", "confidence": 0.5}`, "600519", analysisDay)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d.VolatilityAdjustment, 1e-9, "缺省波动率调整为 1.0")
}

func TestParseDecisionDocRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"空文档", ""},
		{"非法JSON", `{"action": `},
		{"未知动作", `{"action": "YOLO", "confidence": 0.5}`},
		{"缺少confidence", `{"action": "BUY"}`},
		{"置信度越界", `{"action": "BUY", "confidence": 1.5}`},
		{"置信度为负", `{"action": "BUY", "confidence": -0.1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDecisionDoc(tc.raw, "AAPL", analysisDay)
			assert.Error(t, err)
		})
	}
}

func TestDocSource(t *testing.T) {
	src := &DocSource{
		SourceName: "llm",
		Fetch: func(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (string, error) {
			return `{"action": "STRONG_SELL", "confidence": 0.9}`, nil
		},
	}
	assert.Equal(t, "llm", src.Name())

	tctx := temporal.ForBacktest(analysisDay)
	d, err := src.Propagate(context.Background(), "AAPL", analysisDay, tctx)
	require.NoError(t, err)
	assert.Equal(t, types.ActionStrongSell, d.Action)
}

func TestMomentumSource(t *testing.T) {
	mkRows := func(closes []float64) []types.OHLCVRecord {
		base := analysisDay.AddDate(0, 0, -len(closes))
		rows := make([]types.OHLCVRecord, 0, len(closes))
		for i, c := range closes {
			rows = append(rows, types.OHLCVRecord{
				Date: base.AddDate(0, 0, i),
				Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
			})
		}
		return rows
	}
	tctx := temporal.ForBacktest(analysisDay)

	t.Run("强势上涨给出买入", func(t *testing.T) {
		closes := make([]float64, 20)
		for i := range closes {
			closes[i] = 100 + float64(i) // +19% 动量
		}
		src := NewMomentumSource(func(ctx context.Context, symbol string, start, end time.Time, tc temporal.Context) ([]types.OHLCVRecord, error) {
			return mkRows(closes), nil
		})
		d, err := src.Propagate(context.Background(), "AAPL", analysisDay, tctx)
		require.NoError(t, err)
		assert.True(t, d.Action.IsBuy())
		assert.Equal(t, analysisDay, d.AnalysisDate)
	})

	t.Run("数据不足报错", func(t *testing.T) {
		src := NewMomentumSource(func(ctx context.Context, symbol string, start, end time.Time, tc temporal.Context) ([]types.OHLCVRecord, error) {
			return mkRows([]float64{100, 101}), nil
		})
		_, err := src.Propagate(context.Background(), "AAPL", analysisDay, tctx)
		assert.Error(t, err)
	})

	t.Run("横盘给出观望", func(t *testing.T) {
		closes := make([]float64, 20)
		for i := range closes {
			closes[i] = 100
		}
		src := NewMomentumSource(func(ctx context.Context, symbol string, start, end time.Time, tc temporal.Context) ([]types.OHLCVRecord, error) {
			return mkRows(closes), nil
		})
		d, err := src.Propagate(context.Background(), "AAPL", analysisDay, tctx)
		require.NoError(t, err)
		assert.Equal(t, types.ActionHold, d.Action)
	})
}
