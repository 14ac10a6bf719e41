package config

import "strings"

// Config 顶层配置。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Results   ResultsConfig   `toml:"results"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	News      NewsConfig      `toml:"news"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Audit     AuditConfig     `toml:"audit"`
}

// AppConfig 进程级配置。
type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig 数据层配置。
type DataConfig struct {
	Root          string `toml:"root"`           // 本地行情 sqlite 根目录
	CalendarCache string `toml:"calendar_cache"` // A股交易日历年度缓存目录
}

// ResultsConfig 回测结果库配置。
type ResultsConfig struct {
	Root string `toml:"root"`
}

// PortfolioConfig 组合与成本参数。
type PortfolioConfig struct {
	InitialCash    float64 `toml:"initial_cash"`
	CommissionRate float64 `toml:"commission_rate"`
	MinCommission  float64 `toml:"min_commission"`
	SlippageBps    float64 `toml:"slippage_bps"`
	RiskFreeRate   float64 `toml:"risk_free_rate"`
}

// NewsConfig 新闻过滤阈值。
type NewsConfig struct {
	RelevanceThreshold float64 `toml:"relevance_threshold"`
	DedupThreshold     float64 `toml:"dedup_threshold"`
}

// BacktestConfig 回测运行参数。
type BacktestConfig struct {
	PrefetchBufferDays int `toml:"prefetch_buffer_days"`
}

// AuditConfig 时间隔离审计日志。
type AuditConfig struct {
	Path string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
