package data

import (
	"regexp"
	"sync"

	"pitsafe/internal/types"
)

// A股首2位代码前缀
var cnaPrefixes = map[string]struct{}{
	"60": {}, "00": {}, "30": {}, "68": {}, "83": {}, "43": {},
}

var (
	reHK       = regexp.MustCompile(`^\d{4,5}\.HK$`)
	reCNA      = regexp.MustCompile(`^[0-9]{6}$`)
	reUS       = regexp.MustCompile(`^[A-Za-z]{1,5}$`)
	reUSSuffix = regexp.MustCompile(`^[A-Za-z]{1,4}\.[A-Za-z0-9]$`) // 如 BRK.B
)

// MarketRouter 市场路由器：按代码格式做纯模式分类。
//
//   - A股: 6位数字，首2位在 {60,00,30,68,83,43}
//   - 港股: 4-5位数字 + .HK 后缀
//   - 美股: 1-5位字母，或 1-4位字母 + 单字符类别后缀
type MarketRouter struct{}

// Route 识别代码所属市场，无法识别时返回 *MarketNotSupportedError。
func (MarketRouter) Route(symbol string) (types.MarketType, error) {
	switch {
	case reHK.MatchString(symbol):
		return types.MarketHK, nil
	case reCNA.MatchString(symbol):
		if _, ok := cnaPrefixes[symbol[:2]]; ok {
			return types.MarketCNA, nil
		}
	case reUS.MatchString(symbol) || reUSSuffix.MatchString(symbol):
		return types.MarketUS, nil
	}
	return "", &MarketNotSupportedError{Symbol: symbol}
}

// DataRouter 数据路由器：symbol → 主源适配器，并可构造带降级能力的调用链。
// 每个数据源名下挂一个跨取数周期共享的熔断器。
type DataRouter struct {
	router     MarketRouter
	primary    map[types.MarketType]MarketDataAdapter
	fallback   map[types.MarketType][]MarketDataAdapter
	newsFilter *NewsFilter

	mu       sync.Mutex
	breakers map[string]*SourceBreaker
}

// RouterConfig 按市场声明主源与备用源顺序。
type RouterConfig struct {
	US  AdapterChain
	CNA AdapterChain
	HK  AdapterChain

	// NewsFilter 为空时新闻链路只做守卫级时间过滤，不做相关性与去重。
	NewsFilter *NewsFilter
}

// AdapterChain 一个市场的主源与备用源（按优先级排列）。
type AdapterChain struct {
	Primary   MarketDataAdapter
	Fallbacks []MarketDataAdapter
}

func NewDataRouter(cfg RouterConfig) *DataRouter {
	return &DataRouter{
		primary: map[types.MarketType]MarketDataAdapter{
			types.MarketUS:  cfg.US.Primary,
			types.MarketCNA: cfg.CNA.Primary,
			types.MarketHK:  cfg.HK.Primary,
		},
		fallback: map[types.MarketType][]MarketDataAdapter{
			types.MarketUS:  cfg.US.Fallbacks,
			types.MarketCNA: cfg.CNA.Fallbacks,
			types.MarketHK:  cfg.HK.Fallbacks,
		},
		newsFilter: cfg.NewsFilter,
		breakers:   make(map[string]*SourceBreaker),
	}
}

func (r *DataRouter) breakerFor(name string) *SourceBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	br, ok := r.breakers[name]
	if !ok {
		br = NewSourceBreaker(name)
		r.breakers[name] = br
	}
	return br
}

// MarketTypeOf 返回代码对应的市场类型。
func (r *DataRouter) MarketTypeOf(symbol string) (types.MarketType, error) {
	return r.router.Route(symbol)
}

// GetAdapter 返回该代码的主源适配器（确定的市场→主源映射表）。
func (r *DataRouter) GetAdapter(symbol string) (MarketDataAdapter, error) {
	market, err := r.router.Route(symbol)
	if err != nil {
		return nil, err
	}
	return r.primary[market], nil
}

// FallbackChain 返回带降级能力的管理器。report 由调用方按“一次取数周期一份”注入。
func (r *DataRouter) FallbackChain(symbol string, report *QualityReport) (*FallbackManager, error) {
	market, err := r.router.Route(symbol)
	if err != nil {
		return nil, err
	}
	fm := NewFallbackManager(
		[]MarketDataAdapter{r.primary[market]},
		r.fallback[market],
		report,
	)
	fm.breakerOf = r.breakerFor
	fm.newsFilter = r.newsFilter
	return fm, nil
}
