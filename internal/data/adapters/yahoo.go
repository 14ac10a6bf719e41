package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"

	"pitsafe/internal/data"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// YahooAdapter 雅虎财经数据源：美股主源，兼作港股备用源。
//
// 行情为历史接口，回测可用；基本面为实时报价接口，回测模式下被守卫阻断。
// 雅虎不提供结构化新闻，GetNews 恒返回空列表。
type YahooAdapter struct {
	guard  *temporal.Guard
	router data.MarketRouter
}

func NewYahooAdapter(guard *temporal.Guard) *YahooAdapter {
	return &YahooAdapter{guard: guard}
}

func (a *YahooAdapter) Name() string { return "yahoo" }

func (a *YahooAdapter) IsAvailable(symbol string) bool {
	market, err := a.router.Route(symbol)
	if err != nil {
		return false
	}
	return market == types.MarketUS || market == types.MarketHK
}

func (a *YahooAdapter) MarketTypeOf(symbol string) (types.MarketType, error) {
	return a.router.Route(symbol)
}

// yahooSymbol 港股代码在雅虎侧为 4 位数字 + .HK（0700.HK）。
func (a *YahooAdapter) yahooSymbol(symbol string) (string, error) {
	market, err := a.router.Route(symbol)
	if err != nil {
		return "", err
	}
	if market == types.MarketHK {
		code := strings.TrimSuffix(symbol, ".HK")
		code = strings.TrimLeft(code, "0")
		for len(code) < 4 {
			code = "0" + code
		}
		return code + ".HK", nil
	}
	return strings.ToUpper(symbol), nil
}

func (a *YahooAdapter) GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval string, tctx temporal.Context) ([]types.OHLCVRecord, error) {
	if interval != "1d" {
		return nil, fmt.Errorf("yahoo 数据源仅支持日线 1d，收到 %q", interval)
	}
	if err := a.guard.ValidateTimestamp(end, tctx, "yahoo:ohlcv"); err != nil {
		return nil, err
	}
	ySymbol, err := a.yahooSymbol(symbol)
	if err != nil {
		return nil, err
	}

	startDay := temporal.DateOf(start)
	// chart 接口的 End 为开区间，向后多取一天以包含 end 当日
	endDay := temporal.DateOf(end).AddDate(0, 0, 1)
	params := &chart.Params{
		Symbol:   ySymbol,
		Start:    datetime.New(&startDay),
		End:      datetime.New(&endDay),
		Interval: datetime.OneDay,
	}

	sym := strings.ToUpper(symbol)
	now := time.Now().UTC()
	iter := chart.Get(params)
	var records []types.OHLCVRecord
	for iter.Next() {
		bar := iter.Bar()
		day := temporal.DateOf(time.Unix(int64(bar.Timestamp), 0))
		if day.After(temporal.DateOf(end)) {
			continue
		}
		adj := bar.AdjClose.InexactFloat64()
		records = append(records, types.OHLCVRecord{
			Symbol:     sym,
			Date:       day,
			Open:       bar.Open.InexactFloat64(),
			High:       bar.High.InexactFloat64(),
			Low:        bar.Low.InexactFloat64(),
			Close:      bar.Close.InexactFloat64(),
			Volume:     int64(bar.Volume),
			AdjClose:   &adj,
			DataSource: a.Name(),
			FetchedAt:  now,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("yahoo chart 请求失败: %w", err)
	}
	return records, nil
}

// GetFundamentals 实时报价接口，回测模式下被守卫阻断。ROE 雅虎不提供，保持 nil。
func (a *YahooAdapter) GetFundamentals(ctx context.Context, symbol string, asOf time.Time, tctx temporal.Context) (types.Fundamentals, error) {
	if err := a.guard.AssertBacktestSafe(tctx, "yahoo:fundamentals"); err != nil {
		return types.Fundamentals{}, err
	}
	ySymbol, err := a.yahooSymbol(symbol)
	if err != nil {
		return types.Fundamentals{}, err
	}

	eq, err := equity.Get(ySymbol)
	if err != nil {
		return types.Fundamentals{}, fmt.Errorf("yahoo equity 请求失败: %w", err)
	}

	f := types.Fundamentals{
		Symbol:     strings.ToUpper(symbol),
		DataSource: a.Name(),
		FetchedAt:  time.Now().UTC(),
	}
	if eq.TrailingPE != 0 {
		v := eq.TrailingPE
		f.PERatio = &v
	}
	if eq.PriceToBook != 0 {
		v := eq.PriceToBook
		f.PBRatio = &v
	}
	if eq.EarningsTimestamp != 0 {
		t := time.Unix(int64(eq.EarningsTimestamp), 0).UTC()
		f.EarningsDate = &t
	}
	return f, nil
}

// GetNews 雅虎侧无结构化新闻接口。
func (a *YahooAdapter) GetNews(ctx context.Context, symbol string, daysBack int, tctx temporal.Context) ([]types.NewsItem, error) {
	if err := a.guard.AssertBacktestSafe(tctx, "yahoo:news"); err != nil {
		return nil, err
	}
	return []types.NewsItem{}, nil
}
