package data

import (
	"sort"
	"strings"

	"pitsafe/internal/logger"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// FilterStats 三级过滤的逐级计数，恒有
// RawCount ≥ AfterTemporal ≥ AfterRelevance ≥ AfterDedup ≥ 0。
type FilterStats struct {
	RawCount       int `json:"raw_count"`
	AfterTemporal  int `json:"after_temporal"`
	AfterRelevance int `json:"after_relevance"`
	AfterDedup     int `json:"after_dedup"`
}

// TemporalFiltered L1 过滤掉的数量。
func (s FilterStats) TemporalFiltered() int { return s.RawCount - s.AfterTemporal }

// RelevanceFiltered L2 过滤掉的数量。
func (s FilterStats) RelevanceFiltered() int { return s.AfterTemporal - s.AfterRelevance }

// NewsFilter 新闻三级过滤器。
//
//	L1 时间过滤：直接委托 temporal.Guard.FilterNews，不重复实现。
//	L2 相关性过滤：标题+正文 对 symbol+公司名 查询词的 TF-IDF 余弦相似度。
//	L3 余弦去重：相似度超过阈值的对中保留 published_at 最早的一条。
//
// 纯函数设计：不修改输入切片，每次调用返回新切片；
// L2/L3 内部任何异常都被捕获、记日志并跳过该级，管线本身不报错。
type NewsFilter struct {
	guard              *temporal.Guard
	relevanceThreshold float64
	dedupThreshold     float64
}

func NewNewsFilter(guard *temporal.Guard, relevanceThreshold, dedupThreshold float64) *NewsFilter {
	if relevanceThreshold <= 0 {
		relevanceThreshold = 0.05
	}
	if dedupThreshold <= 0 {
		dedupThreshold = 0.85
	}
	return &NewsFilter{
		guard:              guard,
		relevanceThreshold: relevanceThreshold,
		dedupThreshold:     dedupThreshold,
	}
}

// Filter 依次执行三级过滤并返回逐级统计。
func (f *NewsFilter) Filter(news []types.NewsItem, symbol string, ctx temporal.Context, companyName string) ([]types.NewsItem, FilterStats) {
	stats := FilterStats{RawCount: len(news)}

	afterTemporal := f.guard.FilterNews(news, ctx)
	stats.AfterTemporal = len(afterTemporal)

	afterRelevance := f.runStage("L2 相关性过滤", afterTemporal, func(in []types.NewsItem) []types.NewsItem {
		return f.filterByRelevance(in, symbol, companyName)
	})
	stats.AfterRelevance = len(afterRelevance)

	afterDedup := f.runStage("L3 去重", afterRelevance, func(in []types.NewsItem) []types.NewsItem {
		return f.dedupByCosine(in)
	})
	stats.AfterDedup = len(afterDedup)

	return afterDedup, stats
}

// runStage 执行单级过滤；panic 时降级返回上一级结果。
func (f *NewsFilter) runStage(name string, in []types.NewsItem, stage func([]types.NewsItem) []types.NewsItem) (out []types.NewsItem) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[NewsFilter] %s 异常，降级返回上一级结果: %v", name, r)
			out = append([]types.NewsItem(nil), in...)
		}
	}()
	return stage(in)
}

// filterByRelevance L2 相关性过滤。
//
// 语料为空、或全部新闻都低于阈值时静默退化为 no-op（返回输入副本），
// 避免把新闻过滤到一条不剩。
func (f *NewsFilter) filterByRelevance(news []types.NewsItem, symbol, companyName string) []types.NewsItem {
	if len(news) == 0 {
		return []types.NewsItem{}
	}

	texts := make([]string, len(news))
	blank := true
	for i, n := range news {
		texts[i] = n.Title + " " + n.Content
		if strings.TrimSpace(texts[i]) != "" {
			blank = false
		}
	}
	if blank {
		return append([]types.NewsItem(nil), news...)
	}

	query := strings.TrimSpace(symbol + " " + companyName)
	vectors := tfidfVectors(append([]string{query}, texts...))
	queryVec := vectors[0]

	result := make([]types.NewsItem, 0, len(news))
	for i, n := range news {
		if cosineSimilarity(queryVec, vectors[i+1]) >= f.relevanceThreshold {
			result = append(result, n)
		}
	}
	if len(result) == 0 {
		logger.Warnf("[NewsFilter] L2 所有新闻相关性不足（threshold=%.2f），降级返回原列表", f.relevanceThreshold)
		return append([]types.NewsItem(nil), news...)
	}
	return result
}

// dedupByCosine L3 余弦去重。
//
// 按 published_at 升序处理，每条只与已保留项比较，
// 相似度超过阈值视为重复（保留更早的那条）。
func (f *NewsFilter) dedupByCosine(news []types.NewsItem) []types.NewsItem {
	if len(news) <= 1 {
		return append([]types.NewsItem(nil), news...)
	}

	texts := make([]string, len(news))
	for i, n := range news {
		texts[i] = n.Title + " " + n.Content
	}
	vectors := tfidfVectors(texts)

	order := make([]int, len(news))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return news[order[a]].PublishedAt.Before(news[order[b]].PublishedAt)
	})

	kept := make(map[int]struct{}, len(news))
	for _, idx := range order {
		dup := false
		for j := range kept {
			if cosineSimilarity(vectors[idx], vectors[j]) > f.dedupThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept[idx] = struct{}{}
		}
	}

	// 按原始顺序返回
	result := make([]types.NewsItem, 0, len(kept))
	for i, n := range news {
		if _, ok := kept[i]; ok {
			result = append(result, n)
		}
	}
	return result
}
