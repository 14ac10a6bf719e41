package calendar

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

//go:embed holidays.yaml
var holidaysYAML []byte

const dayFormat = "2006-01-02"

// 前后查找交易日时最多向外扫描的自然日窗口。
const searchWindowDays = 10

// YearLoader 拉取某一年 A股全部交易日（供注入替换，测试用假实现）。
type YearLoader func(ctx context.Context, year int) ([]time.Time, error)

// Calendar 三市场交易日历。
//
//	CN_A: 交易日从指数日线推导，按年加载；文件缓存 + singleflight 防并发重复拉取。
//	US/HK: 周一至周五扣除内嵌休市日表。
type Calendar struct {
	cacheDir  string
	cnaLoader YearLoader

	group singleflight.Group

	mu       sync.RWMutex
	cnaYears map[int]map[string]struct{}
	holidays map[types.MarketType]map[string]struct{}
}

// New 创建日历。cacheDir 为空则不落盘；loader 为 nil 时使用东财指数默认实现。
func New(cacheDir string, loader YearLoader) (*Calendar, error) {
	if loader == nil {
		loader = EastMoneyYearLoader()
	}
	c := &Calendar{
		cacheDir:  cacheDir,
		cnaLoader: loader,
		cnaYears:  make(map[int]map[string]struct{}),
		holidays:  make(map[types.MarketType]map[string]struct{}),
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(holidaysYAML, &raw); err != nil {
		return nil, fmt.Errorf("解析内嵌休市日表失败: %w", err)
	}
	for market, days := range raw {
		set := make(map[string]struct{}, len(days))
		for _, d := range days {
			set[d] = struct{}{}
		}
		c.holidays[types.MarketType(market)] = set
	}
	return c, nil
}

// IsTradingDay 判断 day 是否为该市场交易日。
func (c *Calendar) IsTradingDay(ctx context.Context, market types.MarketType, day time.Time) (bool, error) {
	day = temporal.DateOf(day)
	if market == types.MarketCNA {
		set, err := c.cnaYear(ctx, day.Year())
		if err != nil {
			return false, err
		}
		_, ok := set[day.Format(dayFormat)]
		return ok, nil
	}

	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, nil
	}
	set, ok := c.holidays[market]
	if !ok {
		return false, fmt.Errorf("未知市场: %s", market)
	}
	_, holiday := set[day.Format(dayFormat)]
	return !holiday, nil
}

// GetTradingDays 返回 [start, end] 闭区间内的全部交易日（升序）。
// 区间内没有交易日是合法结果，返回空切片而非错误。
func (c *Calendar) GetTradingDays(ctx context.Context, market types.MarketType, start, end time.Time) ([]time.Time, error) {
	start, end = temporal.DateOf(start), temporal.DateOf(end)
	if end.Before(start) {
		return []time.Time{}, nil
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		ok, err := c.IsTradingDay(ctx, market, day)
		if err != nil {
			return nil, err
		}
		if ok {
			days = append(days, day)
		}
	}
	return days, nil
}

// NextTradingDay 返回 day 之后最近的交易日；窗口内无交易日时 ok=false。
func (c *Calendar) NextTradingDay(ctx context.Context, market types.MarketType, day time.Time) (time.Time, bool, error) {
	return c.scan(ctx, market, day, 1)
}

// PrevTradingDay 返回 day 之前最近的交易日；窗口内无交易日时 ok=false。
func (c *Calendar) PrevTradingDay(ctx context.Context, market types.MarketType, day time.Time) (time.Time, bool, error) {
	return c.scan(ctx, market, day, -1)
}

func (c *Calendar) scan(ctx context.Context, market types.MarketType, day time.Time, step int) (time.Time, bool, error) {
	cur := temporal.DateOf(day)
	for i := 0; i < searchWindowDays; i++ {
		cur = cur.AddDate(0, 0, step)
		ok, err := c.IsTradingDay(ctx, market, cur)
		if err != nil {
			return time.Time{}, false, err
		}
		if ok {
			return cur, true, nil
		}
	}
	return time.Time{}, false, nil
}

// cnaYear 加载某年 A股交易日集合：内存 → 文件缓存 → YearLoader。
func (c *Calendar) cnaYear(ctx context.Context, year int) (map[string]struct{}, error) {
	c.mu.RLock()
	set, ok := c.cnaYears[year]
	c.mu.RUnlock()
	if ok {
		return set, nil
	}

	key := fmt.Sprintf("cn_a:%d", year)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if days, err := c.loadFileCache(year); err == nil {
			return days, nil
		}
		days, err := c.cnaLoader(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("加载 %d 年A股交易日失败: %w", year, err)
		}
		c.saveFileCache(year, days)
		return days, nil
	})
	if err != nil {
		return nil, err
	}

	days := v.([]time.Time)
	set = make(map[string]struct{}, len(days))
	for _, d := range days {
		set[temporal.DateOf(d).Format(dayFormat)] = struct{}{}
	}
	c.mu.Lock()
	c.cnaYears[year] = set
	c.mu.Unlock()
	return set, nil
}

func (c *Calendar) cachePath(year int) string {
	return filepath.Join(c.cacheDir, fmt.Sprintf("cn_a_%d.json", year))
}

func (c *Calendar) loadFileCache(year int) ([]time.Time, error) {
	if c.cacheDir == "" {
		return nil, os.ErrNotExist
	}
	raw, err := os.ReadFile(c.cachePath(year))
	if err != nil {
		return nil, err
	}
	var dates []string
	if err := json.Unmarshal(raw, &dates); err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("缓存为空")
	}
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day, err := time.ParseInLocation(dayFormat, d, time.UTC)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}

func (c *Calendar) saveFileCache(year int, days []time.Time) {
	if c.cacheDir == "" || len(days) == 0 {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return
	}
	dates := make([]string, 0, len(days))
	for _, d := range days {
		dates = append(dates, temporal.DateOf(d).Format(dayFormat))
	}
	raw, err := json.Marshal(dates)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.cachePath(year), raw, 0o644)
}
