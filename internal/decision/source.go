// Package decision 定义外部决策源契约与决策文档校验。
//
// 决策源是回测引擎与上游分析链（LLM 链、规则策略等）之间的唯一接缝：
// 引擎按模拟日逐日调用 Propagate，并把当日的时间上下文传给决策源，
// 决策源内部取数也必须经过同一套时间隔离守卫。
package decision

import (
	"context"
	"time"

	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// Source 外部决策源。
type Source interface {
	// Propagate 针对 symbol 在 day 这一天给出交易决策。
	// 返回错误时引擎会以 INSUFFICIENT_DATA 兜底，不中断整轮回测。
	Propagate(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error)

	// Name 决策源名称（写入运行结果与日志）。
	Name() string
}

// FuncSource 用函数实现决策源，测试与简单策略用。
type FuncSource struct {
	SourceName string
	Fn         func(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error)
}

func (s FuncSource) Propagate(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error) {
	return s.Fn(ctx, symbol, day, tctx)
}

func (s FuncSource) Name() string {
	if s.SourceName == "" {
		return "func"
	}
	return s.SourceName
}

// DocSource 包装一个产出 JSON 决策文档的上游（如 LLM 分析链）：
// 先对文档做结构校验，再解析为 Decision。
type DocSource struct {
	SourceName string
	Fetch      func(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (string, error)
}

func (s DocSource) Propagate(ctx context.Context, symbol string, day time.Time, tctx temporal.Context) (types.Decision, error) {
	raw, err := s.Fetch(ctx, symbol, day, tctx)
	if err != nil {
		return types.Decision{}, err
	}
	return ParseDecisionDoc(raw, symbol, day)
}

func (s DocSource) Name() string {
	if s.SourceName == "" {
		return "doc"
	}
	return s.SourceName
}
