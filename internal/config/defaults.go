package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "/data/logs/pitsafe.log"
	defaultAppHTTPAddr     = ":9985"
	defaultDataRoot        = "/data/market"
	defaultCalendarCache   = "/data/market/calendar"
	defaultResultsRoot     = "/data/backtest"
	defaultAuditPath       = "/data/logs/temporal_audit.jsonl"
	defaultInitialCash     = 1_000_000
	defaultCommissionRate  = 0.0003
	defaultMinCommission   = 5
	defaultSlippageBps     = 5
	defaultRelevanceThresh = 0.05
	defaultDedupThresh     = 0.85
	defaultPrefetchBuffer  = 30
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Results.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.News.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.calendar_cache", &d.CalendarCache, defaultCalendarCache),
	)
}

func (r *ResultsConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("results.root", &r.Root, defaultResultsRoot),
	)
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "portfolio.initial_cash",
			need:  func() bool { return p.InitialCash <= 0 },
			apply: func() { p.InitialCash = defaultInitialCash },
		},
		fieldDefault{
			key:   "portfolio.commission_rate",
			need:  func() bool { return p.CommissionRate <= 0 },
			apply: func() { p.CommissionRate = defaultCommissionRate },
		},
		fieldDefault{
			key:   "portfolio.min_commission",
			need:  func() bool { return p.MinCommission <= 0 },
			apply: func() { p.MinCommission = defaultMinCommission },
		},
		fieldDefault{
			key:   "portfolio.slippage_bps",
			need:  func() bool { return p.SlippageBps <= 0 },
			apply: func() { p.SlippageBps = defaultSlippageBps },
		},
	)
	if p.RiskFreeRate < 0 {
		p.RiskFreeRate = 0
	}
}

func (n *NewsConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "news.relevance_threshold",
			need:  func() bool { return n.RelevanceThreshold <= 0 },
			apply: func() { n.RelevanceThreshold = defaultRelevanceThresh },
		},
		fieldDefault{
			key:   "news.dedup_threshold",
			need:  func() bool { return n.DedupThreshold <= 0 },
			apply: func() { n.DedupThreshold = defaultDedupThresh },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.prefetch_buffer_days",
			need:  func() bool { return b.PrefetchBufferDays <= 0 },
			apply: func() { b.PrefetchBufferDays = defaultPrefetchBuffer },
		},
	)
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("audit.path", &a.Path, defaultAuditPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
