package decision

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// 动量观察窗口与信号阈值。
const (
	momentumWindowDays = 40 // 自然日窗口，期望拿到约 20 根日线
	momentumMinBars    = 15
	strongThreshold    = 0.05
	weakThreshold      = 0.02
	baseDailyVol       = 0.02
)

// OHLCVProvider 行情供给函数（由调用方绑定降级链）。
type OHLCVProvider func(ctx context.Context, symbol string, start, end time.Time, tctx temporal.Context) ([]types.OHLCVRecord, error)

// MomentumSource 基线规则决策源：按窗口动量给出方向，按已实现波动率给出调整值。
//
// 主要用途是在没有外部分析链时让整条回测管线可独立运行，
// 同时作为外部决策源的对照基线。
type MomentumSource struct {
	Provider OHLCVProvider
}

func NewMomentumSource(provider OHLCVProvider) *MomentumSource {
	return &MomentumSource{Provider: provider}
}

func (s *MomentumSource) Name() string { return "momentum" }

func (s *MomentumSource) Propagate(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error) {
	day = temporal.DateOf(day)
	rows, err := s.Provider(ctx, symbol, day.AddDate(0, 0, -momentumWindowDays), day, tctx)
	if err != nil {
		return types.Decision{}, err
	}
	if len(rows) < momentumMinBars {
		return types.Decision{}, fmt.Errorf("动量窗口内仅 %d 根日线，不足 %d", len(rows), momentumMinBars)
	}

	sorted := append([]types.OHLCVRecord(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	first, last := sorted[0].Close, sorted[len(sorted)-1].Close
	if first <= 0 || last <= 0 {
		return types.Decision{}, fmt.Errorf("窗口内存在非正收盘价")
	}
	momentum := last/first - 1

	var action types.Action
	var confidence float64
	switch {
	case momentum >= strongThreshold:
		action, confidence = types.ActionStrongBuy, 0.85
	case momentum >= weakThreshold:
		action, confidence = types.ActionBuy, 0.65
	case momentum <= -strongThreshold:
		action, confidence = types.ActionStrongSell, 0.85
	case momentum <= -weakThreshold:
		action, confidence = types.ActionSell, 0.65
	default:
		action, confidence = types.ActionHold, 0.5
	}

	return types.Decision{
		Action:               action,
		Confidence:           confidence,
		VolatilityAdjustment: realizedVolRatio(sorted),
		Symbol:               symbol,
		PrimaryReason:        fmt.Sprintf("%d日动量 %.2f%%", len(sorted), momentum*100),
		AnalysisDate:         day,
	}, nil
}

// realizedVolRatio 已实现日波动率相对基准（2%）的比值，>1 表示高波动。
func realizedVolRatio(rows []types.OHLCVRecord) float64 {
	if len(rows) < 3 {
		return 1.0
	}
	returns := make([]float64, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, rows[i].Close/rows[i-1].Close-1)
	}
	if len(returns) < 2 {
		return 1.0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) / baseDailyVol
}
