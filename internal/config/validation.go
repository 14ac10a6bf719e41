package config

import (
	"fmt"
	"strings"
)

func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config 为空")
	}
	switch strings.ToLower(cfg.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level 非法: %s", cfg.App.LogLevel)
	}
	if cfg.Portfolio.CommissionRate >= 0.1 {
		return fmt.Errorf("portfolio.commission_rate 疑似配置错误（≥10%%）: %v", cfg.Portfolio.CommissionRate)
	}
	if cfg.Portfolio.SlippageBps >= 1000 {
		return fmt.Errorf("portfolio.slippage_bps 疑似配置错误（≥1000）: %v", cfg.Portfolio.SlippageBps)
	}
	if cfg.News.RelevanceThreshold >= 1 {
		return fmt.Errorf("news.relevance_threshold 需小于 1: %v", cfg.News.RelevanceThreshold)
	}
	if cfg.News.DedupThreshold > 1 {
		return fmt.Errorf("news.dedup_threshold 需不大于 1: %v", cfg.News.DedupThreshold)
	}
	return nil
}
