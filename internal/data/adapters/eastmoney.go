package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"pitsafe/internal/data"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// EastMoneyAdapter 东方财富数据源，A股与港股的联网来源。
//
// 行情走 push2his K线接口（历史数据，回测可用）；
// 基本面与新闻属于实时接口，BACKTEST 模式下由守卫直接阻断。
type EastMoneyAdapter struct {
	client *resty.Client
	guard  *temporal.Guard
	router data.MarketRouter
}

func NewEastMoneyAdapter(guard *temporal.Guard) *EastMoneyAdapter {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	return &EastMoneyAdapter{client: client, guard: guard}
}

func (a *EastMoneyAdapter) Name() string { return "eastmoney" }

func (a *EastMoneyAdapter) IsAvailable(symbol string) bool {
	market, err := a.router.Route(symbol)
	if err != nil {
		return false
	}
	return market == types.MarketCNA || market == types.MarketHK
}

func (a *EastMoneyAdapter) MarketTypeOf(symbol string) (types.MarketType, error) {
	return a.router.Route(symbol)
}

// secid 转换为东财的 secid：沪市 1.XXXXXX，深/北市 0.XXXXXX，港股 116.XXXXX。
func (a *EastMoneyAdapter) secid(symbol string) (string, error) {
	market, err := a.router.Route(symbol)
	if err != nil {
		return "", err
	}
	switch market {
	case types.MarketCNA:
		prefix := symbol[:2]
		if prefix == "60" || prefix == "68" {
			return "1." + symbol, nil
		}
		return "0." + symbol, nil
	case types.MarketHK:
		code := strings.TrimSuffix(symbol, ".HK")
		for len(code) < 5 {
			code = "0" + code
		}
		return "116." + code, nil
	default:
		return "", &data.MarketNotSupportedError{Symbol: symbol}
	}
}

func (a *EastMoneyAdapter) GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval string, tctx temporal.Context) ([]types.OHLCVRecord, error) {
	if interval != "1d" {
		return nil, fmt.Errorf("eastmoney 数据源仅支持日线 1d，收到 %q", interval)
	}
	if err := a.guard.ValidateTimestamp(end, tctx, "eastmoney:ohlcv"); err != nil {
		return nil, err
	}
	secid, err := a.secid(symbol)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"secid":   secid,
			"klt":     "101", // 日线
			"fqt":     "1",   // 前复权
			"beg":     start.UTC().Format("20060102"),
			"end":     end.UTC().Format("20060102"),
			"fields1": "f1,f2,f3,f4,f5,f6",
			"fields2": "f51,f52,f53,f54,f55,f56",
		}).
		Get("https://push2his.eastmoney.com/api/qt/stock/kline/get")
	if err != nil {
		return nil, fmt.Errorf("eastmoney kline 请求失败: %w", err)
	}

	body := resp.String()
	klines := gjson.Get(body, "data.klines")
	if !klines.Exists() {
		return nil, fmt.Errorf("eastmoney kline 响应缺少 data.klines: %s", gjson.Get(body, "message").String())
	}

	sym := strings.ToUpper(symbol)
	now := time.Now().UTC()
	var records []types.OHLCVRecord
	for _, line := range klines.Array() {
		// 格式: "2024-01-02,开,收,高,低,量"
		fields := strings.Split(line.String(), ",")
		if len(fields) < 6 {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", fields[0], time.UTC)
		if err != nil {
			continue
		}
		open, err1 := decimal.NewFromString(fields[1])
		cls, err2 := decimal.NewFromString(fields[2])
		high, err3 := decimal.NewFromString(fields[3])
		low, err4 := decimal.NewFromString(fields[4])
		vol, err5 := decimal.NewFromString(fields[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		records = append(records, types.OHLCVRecord{
			Symbol:     sym,
			Date:       day,
			Open:       open.InexactFloat64(),
			High:       high.InexactFloat64(),
			Low:        low.InexactFloat64(),
			Close:      cls.InexactFloat64(),
			Volume:     vol.IntPart(),
			DataSource: a.Name(),
			FetchedAt:  now,
		})
	}
	return records, nil
}

// GetFundamentals 实时快照接口，回测模式下被守卫阻断。
func (a *EastMoneyAdapter) GetFundamentals(ctx context.Context, symbol string, asOf time.Time, tctx temporal.Context) (types.Fundamentals, error) {
	if err := a.guard.AssertBacktestSafe(tctx, "eastmoney:fundamentals"); err != nil {
		return types.Fundamentals{}, err
	}
	secid, err := a.secid(symbol)
	if err != nil {
		return types.Fundamentals{}, err
	}

	// f162 市盈率(TTM) f167 市净率 f173 ROE，均为实际值×100
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"secid":  secid,
			"fields": "f162,f167,f173",
		}).
		Get("https://push2.eastmoney.com/api/qt/stock/get")
	if err != nil {
		return types.Fundamentals{}, fmt.Errorf("eastmoney 基本面请求失败: %w", err)
	}

	body := resp.String()
	f := types.Fundamentals{
		Symbol:     strings.ToUpper(symbol),
		DataSource: a.Name(),
		FetchedAt:  time.Now().UTC(),
	}
	scaled := func(path string) *float64 {
		v := gjson.Get(body, path)
		if !v.Exists() || v.Type == gjson.Null {
			return nil
		}
		x := v.Float() / 100
		return &x
	}
	f.PERatio = scaled("data.f162")
	f.PBRatio = scaled("data.f167")
	f.ROE = scaled("data.f173")
	return f, nil
}

// GetNews 公司公告列表，实时接口，回测模式下被守卫阻断；
// 返回前经时间隔离过滤。
func (a *EastMoneyAdapter) GetNews(ctx context.Context, symbol string, daysBack int, tctx temporal.Context) ([]types.NewsItem, error) {
	if err := a.guard.AssertBacktestSafe(tctx, "eastmoney:news"); err != nil {
		return nil, err
	}
	market, err := a.router.Route(symbol)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSuffix(symbol, ".HK")

	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sr":         "-1",
			"page_size":  "50",
			"page_index": "1",
			"ann_type":   "A",
			"stock_list": code,
		}).
		Get("https://np-anotice-stock.eastmoney.com/api/security/ann")
	if err != nil {
		return nil, fmt.Errorf("eastmoney 公告请求失败: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)
	var items []types.NewsItem
	for _, ann := range gjson.Get(resp.String(), "data.list").Array() {
		published, err := time.ParseInLocation("2006-01-02 15:04:05", ann.Get("notice_date").String(), time.UTC)
		if err != nil {
			continue
		}
		if daysBack > 0 && published.Before(cutoff) {
			continue
		}
		items = append(items, types.NewsItem{
			Title:       ann.Get("title").String(),
			Content:     ann.Get("columns.0.column_name").String(),
			PublishedAt: published,
			Source:      a.Name(),
			MarketType:  market,
			Symbol:      strings.ToUpper(symbol),
		})
	}
	return a.guard.FilterNews(items, tctx), nil
}
