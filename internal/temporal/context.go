package temporal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode 运行模式。
type Mode string

const (
	ModeLive     Mode = "LIVE"
	ModeBacktest Mode = "BACKTEST"
)

// Context 时间上下文 —— 时间隔离层的核心数据结构。
//
// 所有数据访问方法都必须显式接收该参数，并在返回数据前交由 Guard 校验。
// 值类型、无 setter：一旦创建不再变化，每个实盘分析或每个模拟日各持一份。
type Context struct {
	AnalysisDate time.Time // 分析基准日期（UTC 零点）
	Mode         Mode
	CreatedAt    time.Time
	SessionID    string
}

// ForLive 创建实时分析上下文。
func ForLive(analysisDate time.Time) Context {
	return newContext(analysisDate, ModeLive)
}

// ForBacktest 创建回测模拟上下文，每个模拟日调用一次。
func ForBacktest(simDate time.Time) Context {
	return newContext(simDate, ModeBacktest)
}

func newContext(day time.Time, mode Mode) Context {
	return Context{
		AnalysisDate: DateOf(day),
		Mode:         mode,
		CreatedAt:    time.Now().UTC(),
		SessionID:    uuid.NewString(),
	}
}

// PromptPrefix 返回时间锚定声明，外部决策源（LLM 分析链）会把它注入到提示词最前面，
// 强制模型遵守时间隔离规则。
func (c Context) PromptPrefix() string {
	return fmt.Sprintf(
		"【时间隔离声明】你当前正在分析 %s 这一天的市场情况。"+
			"不得引用该日期之后发生的任何事件、数据或新闻。"+
			"你的所有分析必须基于明确提供的数据，"+
			"不得使用训练记忆中的具体财务数字或新闻内容。"+
			"若提供数据不足以支撑结论，输出 INSUFFICIENT_DATA 标志。",
		c.AnalysisDate.Format("2006-01-02"))
}

// InjectTemporalPrompt 在 basePrompt 前插入时间锚定声明。
func InjectTemporalPrompt(basePrompt string, ctx Context) string {
	return ctx.PromptPrefix() + "\n\n" + basePrompt
}

// DateOf 将任意时间戳归一化为 UTC 零点日期，时间边界比较统一按“日”粒度进行。
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
