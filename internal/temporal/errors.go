package temporal

import (
	"fmt"
	"time"
)

// TemporalViolationError 数据时间戳越过分析日期边界。
// 属于致命缺陷信号：调用方不得捕获后继续。
type TemporalViolationError struct {
	DataTimestamp time.Time
	AnalysisDate  time.Time
	Caller        string
}

func (e *TemporalViolationError) Error() string {
	return fmt.Sprintf("时间违规: 数据时间戳 %s > analysis_date %s (调用方: %s)",
		e.DataTimestamp.Format("2006-01-02"), e.AnalysisDate.Format("2006-01-02"), e.Caller)
}

// RealtimeAPIBlockedError BACKTEST 模式下调用实时 API。
type RealtimeAPIBlockedError struct {
	APIName string
}

func (e *RealtimeAPIBlockedError) Error() string {
	return fmt.Sprintf("BACKTEST 模式禁止调用实时 API: %s", e.APIName)
}
