package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pitsafe/internal/calendar"
	"pitsafe/internal/data/adapters"
	"pitsafe/internal/types"
)

// HTTPServer 提供 Gin 接口：提交回测、查询进度/结果/报告、查本地行情与交易日历。
type HTTPServer struct {
	addr     string
	runner   *Runner
	results  *ResultStore
	store    *adapters.BarStore
	calendar *calendar.Calendar
	router   *gin.Engine
}

type HTTPConfig struct {
	Addr     string
	Runner   *Runner
	Results  *ResultStore
	Store    *adapters.BarStore
	Calendar *calendar.Calendar
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:     cfg.Addr,
		runner:   cfg.Runner,
		results:  cfg.Results,
		store:    cfg.Store,
		calendar: cfg.Calendar,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.POST("/runs/:id/stop", s.handleRunStop)
	api.GET("/runs/:id/progress", s.handleRunProgress)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.GET("/bars", s.handleBars)
	api.GET("/calendar", s.handleCalendar)
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runner.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	id := c.Param("id")
	if run, ok := s.runner.Get(id); ok {
		c.JSON(http.StatusOK, gin.H{"run": run})
		return
	}
	if s.results != nil {
		if run, err := s.results.GetRun(c.Request.Context(), id); err == nil {
			c.JSON(http.StatusOK, gin.H{"run": run})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
}

func (s *HTTPServer) handleRunStop(c *gin.Context) {
	if err := s.runner.Stop(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"stopped": true})
}

func (s *HTTPServer) handleRunProgress(c *gin.Context) {
	progress, ok := s.runner.Progress(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

func (s *HTTPServer) handleRunSnapshots(c *gin.Context) {
	id := c.Param("id")
	if result, ok := s.runner.Result(id); ok {
		c.JSON(http.StatusOK, gin.H{"snapshots": result.Snapshots})
		return
	}
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "400"))
	snaps, err := s.results.ListSnapshots(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	id := c.Param("id")
	if result, ok := s.runner.Result(id); ok {
		c.JSON(http.StatusOK, gin.H{"trades": result.Trades})
		return
	}
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	trades, err := s.results.ListTrades(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	result, ok := s.runner.Result(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run 未完成或不存在"})
		return
	}
	html, err := RenderReport(result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *HTTPServer) handleBars(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "本地行情库未启用"})
		return
	}
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	start, err1 := time.ParseInLocation("2006-01-02", c.Query("start"), time.UTC)
	end, err2 := time.ParseInLocation("2006-01-02", c.Query("end"), time.UTC)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start/end 需为 YYYY-MM-DD"})
		return
	}
	bars, err := s.store.RangeBars(c.Request.Context(), symbol, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars})
}

func (s *HTTPServer) handleCalendar(c *gin.Context) {
	if s.calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易日历未启用"})
		return
	}
	market := types.MarketType(c.DefaultQuery("market", string(types.MarketUS)))
	start, err1 := time.ParseInLocation("2006-01-02", c.Query("start"), time.UTC)
	end, err2 := time.ParseInLocation("2006-01-02", c.Query("end"), time.UTC)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start/end 需为 YYYY-MM-DD"})
		return
	}
	days, err := s.calendar.GetTradingDays(c.Request.Context(), market, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format("2006-01-02"))
	}
	c.JSON(http.StatusOK, gin.H{"market": market, "trading_days": out})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
