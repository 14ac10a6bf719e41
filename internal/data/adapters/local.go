package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pitsafe/internal/data"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// LocalAdapter 本地 sqlite 数据源。
//
// 只服务行情：基本面与新闻均返回“无数据”，由降级链交给其他源。
// 回测时它是所有市场的首选来源，没有任何实时 API 调用。
type LocalAdapter struct {
	store  *BarStore
	guard  *temporal.Guard
	router data.MarketRouter
}

func NewLocalAdapter(store *BarStore, guard *temporal.Guard) *LocalAdapter {
	return &LocalAdapter{store: store, guard: guard}
}

// Store 暴露底层行情库，供实盘预取写入。
func (a *LocalAdapter) Store() *BarStore { return a.store }

func (a *LocalAdapter) Name() string { return "local" }

func (a *LocalAdapter) IsAvailable(symbol string) bool {
	_, err := a.router.Route(symbol)
	return err == nil
}

func (a *LocalAdapter) MarketTypeOf(symbol string) (types.MarketType, error) {
	return a.router.Route(symbol)
}

func (a *LocalAdapter) GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval string, tctx temporal.Context) ([]types.OHLCVRecord, error) {
	if interval != "1d" {
		return nil, fmt.Errorf("local 数据源仅支持日线 1d，收到 %q", interval)
	}
	if err := a.guard.ValidateTimestamp(end, tctx, "local:ohlcv"); err != nil {
		return nil, err
	}
	rows, err := a.store.RangeBars(ctx, symbol, temporal.DateOf(start), temporal.DateOf(end))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetFundamentals 本地库不存基本面，返回空快照（字段全 nil）。
func (a *LocalAdapter) GetFundamentals(ctx context.Context, symbol string, asOf time.Time, tctx temporal.Context) (types.Fundamentals, error) {
	return types.Fundamentals{
		Symbol:     strings.ToUpper(symbol),
		DataSource: a.Name(),
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// GetNews 本地库不存新闻，返回空列表。
func (a *LocalAdapter) GetNews(ctx context.Context, symbol string, daysBack int, tctx temporal.Context) ([]types.NewsItem, error) {
	return []types.NewsItem{}, nil
}
