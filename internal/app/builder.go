package app

import (
	"context"
	"fmt"
	"time"

	"pitsafe/internal/backtest"
	"pitsafe/internal/calendar"
	"pitsafe/internal/config"
	"pitsafe/internal/data"
	"pitsafe/internal/data/adapters"
	"pitsafe/internal/decision"
	"pitsafe/internal/portfolio"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// Builder 按配置组装全部依赖：审计 → 守卫 → 适配器 → 路由 → 日历 → 运行器 → HTTP。
type Builder struct {
	cfg    *config.Config
	source decision.Source
}

func NewBuilder(cfg *config.Config, source decision.Source) *Builder {
	return &Builder{cfg: cfg, source: source}
}

func (b *Builder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	audit, err := temporal.NewAuditLogger(b.cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化审计日志失败: %w", err)
	}
	guard := temporal.NewGuard(audit)

	store, err := adapters.NewBarStore(b.cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化本地行情库失败: %w", err)
	}

	local := adapters.NewLocalAdapter(store, guard)
	eastmoney := adapters.NewEastMoneyAdapter(guard)
	yahoo := adapters.NewYahooAdapter(guard)

	newsFilter := data.NewNewsFilter(guard, b.cfg.News.RelevanceThreshold, b.cfg.News.DedupThreshold)

	// A股/港股主源东财，美股主源雅虎；港股可降级到雅虎，本地库是所有市场的最终兜底
	router := data.NewDataRouter(data.RouterConfig{
		US: data.AdapterChain{
			Primary:   yahoo,
			Fallbacks: []data.MarketDataAdapter{local},
		},
		CNA: data.AdapterChain{
			Primary:   eastmoney,
			Fallbacks: []data.MarketDataAdapter{local},
		},
		HK: data.AdapterChain{
			Primary:   eastmoney,
			Fallbacks: []data.MarketDataAdapter{yahoo, local},
		},
		NewsFilter: newsFilter,
	})

	// 未注入外部决策源时退回内置动量基线
	source := b.source
	if source == nil {
		source = decision.NewMomentumSource(func(ctx context.Context, symbol string, start, end time.Time, tctx temporal.Context) ([]types.OHLCVRecord, error) {
			fm, err := router.FallbackChain(symbol, nil)
			if err != nil {
				return nil, err
			}
			return fm.GetOHLCV(ctx, symbol, start, end, "1d", tctx)
		})
	}

	cal, err := calendar.New(b.cfg.Data.CalendarCache, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化交易日历失败: %w", err)
	}

	results, err := backtest.NewResultStore(b.cfg.Results.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Router:   router,
		Calendar: cal,
		Source:   source,
		Guard:    guard,
		Results:  results,
		Store:    store,
		Cost: portfolio.CostModel{
			CommissionRate: b.cfg.Portfolio.CommissionRate,
			MinCommission:  b.cfg.Portfolio.MinCommission,
			SlippageBps:    b.cfg.Portfolio.SlippageBps,
		},
		RiskFreeRate:       b.cfg.Portfolio.RiskFreeRate,
		DefaultInitialCash: b.cfg.Portfolio.InitialCash,
		PrefetchBufferDays: b.cfg.Backtest.PrefetchBufferDays,
	})
	if err != nil {
		return nil, err
	}

	httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:     b.cfg.App.HTTPAddr,
		Runner:   runner,
		Results:  results,
		Store:    store,
		Calendar: cal,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     b.cfg,
		http:    httpSrv,
		store:   store,
		results: results,
		runner:  runner,
	}, nil
}
