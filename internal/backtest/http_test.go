package backtest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"pitsafe/internal/calendar"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	adapter := &stubAdapter{name: "stub", closes: week}
	runner := newTestRunner(t, adapter, buyAndHoldSource())

	cal, err := calendar.New("", func(ctx context.Context, year int) ([]time.Time, error) {
		return nil, fmt.Errorf("not used")
	})
	require.NoError(t, err)

	srv, err := NewHTTPServer(HTTPConfig{Runner: runner, Calendar: cal})
	require.NoError(t, err)
	return srv
}

func doJSON(srv *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPRunLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/api/backtest/runs",
		`{"symbol": "AAPL", "start_date": "2024-03-11", "end_date": "2024-03-15", "initial_cash": 100000}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	runID := gjson.Get(rec.Body.String(), "run.id").String()
	require.NotEmpty(t, runID)

	// 等待后台任务跑完
	deadline := time.Now().Add(5 * time.Second)
	status := ""
	for time.Now().Before(deadline) {
		rec = doJSON(srv, http.MethodGet, "/api/backtest/runs/"+runID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		status = gjson.Get(rec.Body.String(), "run.status").String()
		if status == RunStatusCompleted || status == RunStatusFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, RunStatusCompleted, status)

	rec = doJSON(srv, http.MethodGet, "/api/backtest/runs/"+runID+"/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), gjson.Get(rec.Body.String(), "progress.total_days").Int())
	assert.Equal(t, int64(5), gjson.Get(rec.Body.String(), "progress.done_days").Int())
	assert.InDelta(t, 100.0, gjson.Get(rec.Body.String(), "progress.percent").Float(), 1e-9)

	rec = doJSON(srv, http.MethodGet, "/api/backtest/runs/"+runID+"/snapshots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, gjson.Get(rec.Body.String(), "snapshots").Array(), 5)

	rec = doJSON(srv, http.MethodGet, "/api/backtest/runs/"+runID+"/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, gjson.Get(rec.Body.String(), "trades").Array(), 1)

	rec = doJSON(srv, http.MethodGet, "/api/backtest/runs/"+runID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts", "报告应为 echarts 页面")
}

func TestHTTPRunStartRejects(t *testing.T) {
	srv := newTestServer(t)

	t.Run("缺少必填字段", func(t *testing.T) {
		rec := doJSON(srv, http.MethodPost, "/api/backtest/runs", `{"symbol": "AAPL"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("非法代码", func(t *testing.T) {
		rec := doJSON(srv, http.MethodPost, "/api/backtest/runs",
			`{"symbol": "999999", "start_date": "2024-03-11", "end_date": "2024-03-15"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHTTPNotFoundAndDisabled(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(srv, http.MethodGet, "/api/backtest/runs/nope/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/api/backtest/runs/nope/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(srv, http.MethodGet, "/api/backtest/bars?symbol=AAPL&start=2024-03-11&end=2024-03-15", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "未配置本地行情库")

	rec = doJSON(srv, http.MethodGet, "/api/backtest/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "未配置结果库")
}

func TestHTTPCalendar(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(srv, http.MethodGet, "/api/backtest/calendar?market=US&start=2024-03-11&end=2024-03-17", "")
	require.Equal(t, http.StatusOK, rec.Code)
	days := gjson.Get(rec.Body.String(), "trading_days").Array()
	assert.Len(t, days, 5, "周一到周五")

	rec = doJSON(srv, http.MethodGet, "/api/backtest/calendar?start=bad", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
