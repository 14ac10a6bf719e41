package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// 上证指数在东财侧的 secid，指数有行情的日期即为交易日。
const sseIndexSecID = "1.000001"

// EastMoneyYearLoader 返回默认的 A股交易日加载器：
// 拉取上证指数全年日线，日线日期集合即该年交易日。
func EastMoneyYearLoader() YearLoader {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	return func(ctx context.Context, year int) ([]time.Time, error) {
		resp, err := client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"secid":   sseIndexSecID,
				"klt":     "101",
				"fqt":     "0",
				"beg":     fmt.Sprintf("%d0101", year),
				"end":     fmt.Sprintf("%d1231", year),
				"fields1": "f1,f2,f3,f4,f5,f6",
				"fields2": "f51,f52,f53,f54,f55,f56",
			}).
			Get("https://push2his.eastmoney.com/api/qt/stock/kline/get")
		if err != nil {
			return nil, fmt.Errorf("拉取指数日线失败: %w", err)
		}

		klines := gjson.Get(resp.String(), "data.klines")
		if !klines.Exists() {
			return nil, fmt.Errorf("指数日线响应缺少 data.klines")
		}
		var days []time.Time
		for _, line := range klines.Array() {
			fields := strings.SplitN(line.String(), ",", 2)
			if len(fields) == 0 {
				continue
			}
			day, err := time.ParseInLocation(dayFormat, fields[0], time.UTC)
			if err != nil {
				continue
			}
			days = append(days, day)
		}
		if len(days) == 0 {
			return nil, fmt.Errorf("%d 年指数日线为空", year)
		}
		return days, nil
	}
}
