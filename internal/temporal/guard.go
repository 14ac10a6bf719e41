package temporal

import (
	"fmt"
	"time"

	"pitsafe/internal/logger"
	"pitsafe/internal/types"
)

// Guard 时间隔离守卫 —— 唯一的边界校验入口。
//
// 数据访问层必须在返回数据前调用本守卫；守卫本身无状态，
// 仅持有注入的审计日志。
type Guard struct {
	audit *AuditLogger
}

func NewGuard(audit *AuditLogger) *Guard {
	return &Guard{audit: audit}
}

// ValidateTimestamp 校验数据时间戳不晚于 ctx.AnalysisDate。
//
// 违规：写入恰好一条不合规审计记录并返回 *TemporalViolationError。
// 合规：不写任何记录（日志只保留违规与显式汇总，保持有界）。
func (g *Guard) ValidateTimestamp(dataTimestamp time.Time, ctx Context, caller string) error {
	dataDate := DateOf(dataTimestamp)
	if !dataDate.After(ctx.AnalysisDate) {
		return nil
	}

	g.log(AuditRecord{
		Timestamp:       time.Now().UTC(),
		SessionID:       ctx.SessionID,
		AnalysisDate:    ctx.AnalysisDate,
		DataSource:      caller,
		DataTimestamp:   dataTimestamp,
		IsCompliant:     false,
		ViolationDetail: fmt.Sprintf("数据时间 %s > 分析日期 %s", dataDate.Format("2006-01-02"), ctx.AnalysisDate.Format("2006-01-02")),
		CallerModule:    caller,
	})
	return &TemporalViolationError{
		DataTimestamp: dataTimestamp,
		AnalysisDate:  ctx.AnalysisDate,
		Caller:        caller,
	}
}

// FilterNews 过滤 published_at 晚于分析日期的新闻。
//
// 返回全新切片，不改动输入；每条被过滤新闻写一条不合规记录，
// 过滤总数大于零时再追加一条合规的汇总记录。
func (g *Guard) FilterNews(news []types.NewsItem, ctx Context) []types.NewsItem {
	compliant := make([]types.NewsItem, 0, len(news))
	for _, item := range news {
		newsDate := DateOf(item.PublishedAt)
		if !newsDate.After(ctx.AnalysisDate) {
			compliant = append(compliant, item)
			continue
		}
		g.log(AuditRecord{
			Timestamp:       time.Now().UTC(),
			SessionID:       ctx.SessionID,
			AnalysisDate:    ctx.AnalysisDate,
			DataSource:      "news:" + item.Source,
			DataTimestamp:   item.PublishedAt,
			IsCompliant:     false,
			ViolationDetail: fmt.Sprintf("新闻时间 %s > 分析日期 %s", newsDate.Format("2006-01-02"), ctx.AnalysisDate.Format("2006-01-02")),
			CallerModule:    "temporal.Guard.FilterNews",
		})
	}

	if filtered := len(news) - len(compliant); filtered > 0 {
		g.log(AuditRecord{
			Timestamp:       time.Now().UTC(),
			SessionID:       ctx.SessionID,
			AnalysisDate:    ctx.AnalysisDate,
			DataSource:      "news_filter",
			DataTimestamp:   time.Now().UTC(),
			IsCompliant:     true,
			ViolationDetail: fmt.Sprintf("过滤 %d 条未来新闻", filtered),
			CallerModule:    "temporal.Guard.FilterNews",
		})
	}
	return compliant
}

// AssertBacktestSafe 实时 API 的唯一阻断点：BACKTEST 模式下调用即报错。
func (g *Guard) AssertBacktestSafe(ctx Context, apiName string) error {
	if ctx.Mode == ModeBacktest {
		return &RealtimeAPIBlockedError{APIName: apiName}
	}
	return nil
}

func (g *Guard) log(rec AuditRecord) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(rec); err != nil {
		logger.Warnf("[temporal] 审计日志写入失败: %v", err)
	}
}
