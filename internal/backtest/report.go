package backtest

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderReport 把一次完成的回测渲染成独立 HTML 报告（净值曲线 + 回撤曲线）。
func RenderReport(result Result) ([]byte, error) {
	if len(result.Snapshots) == 0 {
		return nil, fmt.Errorf("run %s 没有可渲染的快照", result.Run.ID)
	}

	xAxis := make([]string, 0, len(result.Snapshots))
	navData := make([]opts.LineData, 0, len(result.Snapshots))
	ddData := make([]opts.LineData, 0, len(result.Snapshots))
	for _, snap := range result.Snapshots {
		xAxis = append(xAxis, snap.Date.Format("2006-01-02"))
		navData = append(navData, opts.LineData{Value: snap.NAV})
		ddData = append(ddData, opts.LineData{Value: -snap.Drawdown * 100})
	}

	stats := result.Run.Stats
	subtitle := fmt.Sprintf("收益率 %.2f%%  年化 %.2f%%  最大回撤 %.2f%%  夏普 %.2f  胜率 %.2f%%",
		stats.TotalReturn*100, stats.AnnualizedReturn*100, stats.MaxDrawdown*100,
		stats.SharpeRatio, stats.WinRate*100)

	nav := charts.NewLine()
	nav.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1080px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s 净值曲线", result.Run.Symbol),
			Subtitle: subtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	nav.SetXAxis(xAxis)
	nav.AddSeries("NAV", navData,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	drawdown := charts.NewLine()
	drawdown.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1080px", Height: "260px"}),
		charts.WithTitleOpts(opts.Title{Title: "回撤 (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	drawdown.SetXAxis(xAxis)
	drawdown.AddSeries("Drawdown", ddData,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(nav, drawdown)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
