package data

import (
	"context"
	"fmt"
	"time"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// MarketDataAdapter 市场数据适配器统一契约。
//
// 五个操作的签名对所有数据源保持一致；temporal.Context 为必传参数，
// 适配器必须在返回数据前自行调用 Guard 完成时间边界校验。
type MarketDataAdapter interface {
	// GetOHLCV 返回 [start, end] 区间的日线行情（按日期升序）。
	// 内部须校验 end 不晚于 ctx.AnalysisDate。
	GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval string, tctx temporal.Context) ([]types.OHLCVRecord, error)

	// GetFundamentals 返回 asOf 日期可用的最新基本面。
	// 缺失字段保持 nil，不因缺失报错；BACKTEST 模式下直接被守卫阻断。
	GetFundamentals(ctx context.Context, symbol string, asOf time.Time, tctx temporal.Context) (types.Fundamentals, error)

	// GetNews 返回向前 daysBack 天内的新闻，返回前已通过时间隔离过滤。
	// BACKTEST 模式下直接被守卫阻断。
	GetNews(ctx context.Context, symbol string, daysBack int, tctx temporal.Context) ([]types.NewsItem, error)

	// IsAvailable 检查该数据源是否支持此代码。
	IsAvailable(symbol string) bool

	// MarketTypeOf 返回代码对应的市场类型。
	MarketTypeOf(symbol string) (types.MarketType, error)

	// Name 数据源名称（写入 DataQualityReport 与审计日志）。
	Name() string
}

// MarketNotSupportedError 股票代码格式无法识别（错误码 E009）。
type MarketNotSupportedError struct {
	Symbol string
}

func (e *MarketNotSupportedError) Error() string {
	return fmt.Sprintf("股票代码格式无法识别: %s (错误码: E009)", e.Symbol)
}
