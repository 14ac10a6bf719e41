package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitsafe/internal/calendar"
	"pitsafe/internal/data"
	"pitsafe/internal/data/adapters"
	"pitsafe/internal/decision"
	"pitsafe/internal/logger"
	"pitsafe/internal/portfolio"
	"pitsafe/internal/temporal"
	"pitsafe/internal/types"
)

// 每个模拟日向前取数的行情窗口。
const lookbackDays = 10

// RunnerConfig 运行器依赖与默认参数。
type RunnerConfig struct {
	Router   *data.DataRouter
	Calendar *calendar.Calendar
	Source   decision.Source
	Guard    *temporal.Guard

	// Results 为 nil 时结果只保留在内存。
	Results Recorder
	// Store 为 nil 时预取行情不落本地库。
	Store *adapters.BarStore

	Cost         portfolio.CostModel
	RiskFreeRate float64
	// 请求未指定初始资金时的默认值，默认 1,000,000。
	DefaultInitialCash float64
	// 预取时向前多取的自然日缓冲，默认 30。
	PrefetchBufferDays int
}

// Runner 回测运行器：管理任务生命周期 pending → running → completed/failed。
type Runner struct {
	cfg RunnerConfig

	mu   sync.RWMutex
	runs map[string]*runState
}

type runState struct {
	run      Run
	progress Progress
	report   *data.QualityReport
	result   *Result

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("router 不能为空")
	}
	if cfg.Calendar == nil {
		return nil, fmt.Errorf("calendar 不能为空")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("decision source 不能为空")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("guard 不能为空")
	}
	if cfg.PrefetchBufferDays <= 0 {
		cfg.PrefetchBufferDays = 30
	}
	if cfg.DefaultInitialCash <= 0 {
		cfg.DefaultInitialCash = 1_000_000
	}
	return &Runner{cfg: cfg, runs: make(map[string]*runState)}, nil
}

// StartRun 校验参数并异步启动一次回测。
func (r *Runner) StartRun(req RunRequest) (Run, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if _, err := r.cfg.Router.MarketTypeOf(symbol); err != nil {
		return Run{}, err
	}
	start, err := time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
	if err != nil {
		return Run{}, fmt.Errorf("start_date 非法: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, time.UTC)
	if err != nil {
		return Run{}, fmt.Errorf("end_date 非法: %w", err)
	}
	if end.Before(start) {
		return Run{}, fmt.Errorf("end_date 早于 start_date")
	}
	today := temporal.DateOf(time.Now())
	if !end.Before(today) {
		return Run{}, fmt.Errorf("end_date 必须早于今天（回测不允许触及当日及未来）")
	}

	cost := r.cfg.Cost
	if req.CommissionRate > 0 {
		cost.CommissionRate = req.CommissionRate
	}
	if req.MinCommission > 0 {
		cost.MinCommission = req.MinCommission
	}
	if req.SlippageBps > 0 {
		cost.SlippageBps = req.SlippageBps
	}
	initialCash := req.InitialCash
	if initialCash <= 0 {
		initialCash = r.cfg.DefaultInitialCash
	}

	now := time.Now().UTC()
	run := Run{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Status:      RunStatusPending,
		StartDate:   temporal.DateOf(start),
		EndDate:     temporal.DateOf(end),
		InitialCash: initialCash,
		Config: RunConfig{
			Symbol:         symbol,
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			InitialCash:    initialCash,
			CommissionRate: cost.CommissionRate,
			MinCommission:  cost.MinCommission,
			SlippageBps:    cost.SlippageBps,
			RiskFreeRate:   r.cfg.RiskFreeRate,
			DecisionSource: r.cfg.Source.Name(),
			Notes:          strings.TrimSpace(req.Notes),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	state := &runState{
		run:    run,
		report: data.NewQualityReport(),
		stop:   make(chan struct{}),
		progress: Progress{
			RunID:     run.ID,
			Status:    RunStatusPending,
			UpdatedAt: now,
		},
	}
	r.mu.Lock()
	r.runs[run.ID] = state
	r.mu.Unlock()

	go r.execute(state, cost)
	return run, nil
}

// Stop 请求停止运行中的任务（协作式，当前模拟日处理完后退出）。
func (r *Runner) Stop(id string) error {
	r.mu.RLock()
	state, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run %s 不存在", id)
	}
	state.stopOnce.Do(func() { close(state.stop) })
	return nil
}

// Get 返回任务快照。
func (r *Runner) Get(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return state.run, true
}

// Progress 返回任务进度。
func (r *Runner) Progress(id string) (Progress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[id]
	if !ok {
		return Progress{}, false
	}
	return state.progress, true
}

// Result 返回完整运行产物（仅 completed 后可用）。
func (r *Runner) Result(id string) (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[id]
	if !ok || state.result == nil {
		return Result{}, false
	}
	return *state.result, true
}

func (r *Runner) setStatus(state *runState, status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state.run.Status = status
	state.run.Message = message
	state.run.UpdatedAt = time.Now().UTC()
	state.progress.Status = status
	state.progress.Message = message
	state.progress.UpdatedAt = state.run.UpdatedAt
	if status == RunStatusCompleted || status == RunStatusFailed {
		state.run.CompletedAt = state.run.UpdatedAt
	}
}

func (r *Runner) setProgress(state *runState, done, total int, day time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state.progress.DoneDays = done
	state.progress.TotalDays = total
	if total > 0 {
		state.progress.Percent = float64(done) / float64(total) * 100
	}
	state.progress.CurrentDay = day
	state.progress.UpdatedAt = time.Now().UTC()
}

type dayDecision struct {
	day    time.Time
	action types.Action
	price  float64
}

func (r *Runner) execute(state *runState, cost portfolio.CostModel) {
	ctx := context.Background()
	run := state.run
	symbol := run.Symbol
	market, err := r.cfg.Router.MarketTypeOf(symbol)
	if err != nil {
		r.fail(state, err.Error())
		return
	}

	r.setStatus(state, RunStatusRunning, "")
	logger.Infof("[runner] run=%s %s %s..%s 启动", run.ID, symbol,
		run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))

	days, err := r.cfg.Calendar.GetTradingDays(ctx, market, run.StartDate, run.EndDate)
	if err != nil {
		r.fail(state, fmt.Sprintf("加载交易日历失败: %v", err))
		return
	}
	if len(days) == 0 {
		r.fail(state, "INSUFFICIENT_DATA: 区间内无交易日")
		return
	}
	r.setProgress(state, 0, len(days), time.Time{})

	// 开跑前的批量预取是模拟循环外唯一一次取数：
	// 它在 LIVE 上下文里执行，取数区间以“昨天”为上界，
	// 循环内每个模拟日只从预取序列读取自己当日的价格。
	prices, err := r.prefetch(ctx, symbol, run.StartDate, run.EndDate, state.report)
	if err != nil {
		r.fail(state, fmt.Sprintf("时间边界违规: %v", err))
		return
	}

	fm, err := r.cfg.Router.FallbackChain(symbol, state.report)
	if err != nil {
		r.fail(state, err.Error())
		return
	}

	pf := portfolio.NewVirtualPortfolio(run.InitialCash, cost)
	executor := NewExecutor(cost)

	var (
		snapshots   []Snapshot
		decisions   []dayDecision
		peak        float64
		skipped     int
		substituted int
	)

	for i, day := range days {
		select {
		case <-state.stop:
			r.fail(state, "手动停止")
			return
		default:
		}

		tctx := temporal.ForBacktest(day)
		if state.run.SessionID == "" {
			r.mu.Lock()
			state.run.SessionID = tctx.SessionID
			r.mu.Unlock()
		}

		price := prices[day.Format("2006-01-02")]
		if price <= 0 {
			// 预取序列没有该日价格时才逐日降级取数兜底
			rows, err := fm.GetOHLCV(ctx, symbol, day.AddDate(0, 0, -lookbackDays), day, "1d", tctx)
			if err != nil {
				// 只有时间边界类错误会走到这里，立即终止整轮
				r.fail(state, fmt.Sprintf("时间边界违规: %v", err))
				return
			}
			price = closeOn(rows, day)
		}
		if price <= 0 {
			skipped++
			state.report.AddMissingField("price:" + day.Format("2006-01-02"))
			logger.Warnf("[runner] run=%s %s 缺少 %s 收盘价，跳过该日", run.ID, symbol, day.Format("2006-01-02"))
			r.setProgress(state, i+1, len(days), day)
			continue
		}

		d, err := r.cfg.Source.Propagate(ctx, symbol, day, tctx)
		if err != nil || !validAction(d.Action) {
			reason := "决策源返回无效动作"
			if err != nil {
				reason = err.Error()
				if fatal := isTemporalFatal(err); fatal {
					r.fail(state, fmt.Sprintf("决策源时间边界违规: %v", err))
					return
				}
			}
			d = types.InsufficientDecision(symbol, market, day, reason)
			substituted++
		}
		d.Symbol = symbol
		d.MarketType = market
		d.AnalysisDate = day

		exec, err := executor.Execute(d, pf, price, day)
		if err != nil {
			// 资金/持仓不足：该笔作废，组合未变，继续后续模拟日
			logger.Warnf("[runner] run=%s %s 执行失败: %v", run.ID, day.Format("2006-01-02"), err)
			exec.Note = err.Error()
		}

		nav := pf.RecordNAV(day)
		if nav.NAV > peak {
			peak = nav.NAV
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - nav.NAV) / peak
		}
		snap := Snapshot{
			RunID:          run.ID,
			Date:           day,
			Symbol:         symbol,
			MarketType:     string(market),
			NAV:            nav.NAV,
			Cash:           nav.Cash,
			PositionsValue: nav.PositionsValue,
			PositionsCount: len(pf.Positions()),
			Drawdown:       drawdown,
			Action:         string(d.Action),
			Confidence:     d.Confidence,
			Price:          price,
			Note:           exec.Note,
		}
		if exec.Traded {
			snap.Shares = exec.Trade.Shares
		}
		snapshots = append(snapshots, snap)
		decisions = append(decisions, dayDecision{day: day, action: d.Action, price: price})
		r.setProgress(state, i+1, len(days), day)
	}

	navHistory := pf.NAVHistory()
	if len(navHistory) == 0 {
		r.fail(state, "INSUFFICIENT_DATA: 所有模拟日均无可用价格")
		return
	}

	calc := Calculator{RiskFreeRate: r.cfg.RiskFreeRate}
	metrics := calc.Compute(navHistory, pf.Trades(), buildOutcomes(decisions))

	r.mu.Lock()
	state.run.FinalNAV = navHistory[len(navHistory)-1].NAV
	state.run.Profit = state.run.FinalNAV - run.InitialCash
	state.run.TotalReturn = metrics.TotalReturn
	state.run.Stats = RunStats{
		FinalNAV:           state.run.FinalNAV,
		Profit:             state.run.Profit,
		TotalReturn:        metrics.TotalReturn,
		AnnualizedReturn:   metrics.AnnualizedReturn,
		Volatility:         metrics.Volatility,
		SharpeRatio:        metrics.SharpeRatio,
		CalmarRatio:        metrics.CalmarRatio,
		MaxDrawdown:        metrics.MaxDrawdown,
		WinRate:            metrics.WinRate,
		PredictionAccuracy: metrics.PredictionAccuracy,
		TradingDays:        len(days),
		SkippedDays:        skipped,
		Trades:             len(pf.Trades()),
		RoundTrips:         len(metrics.RoundTrips),
		Wins:               metrics.Wins,
		Losses:             metrics.Losses,
		Substituted:        substituted,
		QualityReport:      state.report,
		FinishedAt:         time.Now().UTC(),
	}
	state.result = &Result{
		Run:       state.run,
		Trades:    pf.Trades(),
		NAV:       navHistory,
		Snapshots: snapshots,
	}
	r.mu.Unlock()

	r.setStatus(state, RunStatusCompleted, "")
	r.persist(ctx, state, snapshots, pf.Trades())
	logger.Infof("[runner] run=%s 完成: 收益率 %.2f%% 最大回撤 %.2f%% 胜率 %.2f%%",
		run.ID, metrics.TotalReturn*100, metrics.MaxDrawdown*100, metrics.WinRate*100)
}

func (r *Runner) fail(state *runState, message string) {
	r.setStatus(state, RunStatusFailed, message)
	r.persist(context.Background(), state, nil, nil)
	logger.Errorf("[runner] run=%s 失败: %s", state.run.ID, message)
}

// persist 结果落库尽力而为，失败只记日志。
func (r *Runner) persist(ctx context.Context, state *runState, snaps []Snapshot, trades []portfolio.Trade) {
	if r.cfg.Results == nil {
		return
	}
	r.mu.RLock()
	run := state.run
	r.mu.RUnlock()
	if err := r.cfg.Results.SaveRun(ctx, run); err != nil {
		logger.Errorf("[runner] run=%s 落库失败: %v", run.ID, err)
	}
	if err := r.cfg.Results.SaveSnapshots(ctx, run.ID, snaps); err != nil {
		logger.Errorf("[runner] run=%s 快照落库失败: %v", run.ID, err)
	}
	if err := r.cfg.Results.SaveTrades(ctx, run.ID, trades); err != nil {
		logger.Errorf("[runner] run=%s 成交落库失败: %v", run.ID, err)
	}
}

// prefetch 在 LIVE 上下文里批量拉取回测区间的行情，返回按日索引的收盘价。
// 取数上界被压到昨天；普通取数失败不阻断回测（循环内逐日降级兜底），
// 时间边界类错误原样上抛。预取序列先过质量守卫，结果并入本轮质量报告。
func (r *Runner) prefetch(ctx context.Context, symbol string, start, end time.Time, report *data.QualityReport) (map[string]float64, error) {
	prices := make(map[string]float64)

	today := temporal.DateOf(time.Now())
	upper := end
	if !upper.Before(today) {
		upper = today.AddDate(0, 0, -1)
	}
	lower := start.AddDate(0, 0, -r.cfg.PrefetchBufferDays)

	tctx := temporal.ForLive(today)
	fm, err := r.cfg.Router.FallbackChain(symbol, report)
	if err != nil {
		return prices, nil
	}
	rows, err := fm.GetOHLCV(ctx, symbol, lower, upper, "1d", tctx)
	if err != nil {
		if isTemporalFatal(err) {
			return nil, err
		}
		logger.Warnf("[runner] %s 预取行情失败: %v", symbol, err)
		return prices, nil
	}
	if len(rows) == 0 {
		logger.Warnf("[runner] %s 预取行情为空", symbol)
		return prices, nil
	}

	check := data.QualityGuard{}.ValidateOHLCV(rows, symbol)
	for _, a := range check.AnomalyAlerts {
		report.AddAnomaly(a)
	}
	for _, f := range check.MissingFields {
		report.AddMissingField(f)
	}

	for _, row := range rows {
		prices[temporal.DateOf(row.Date).Format("2006-01-02")] = row.Close
	}

	if r.cfg.Store != nil {
		if n, err := r.cfg.Store.InsertBars(ctx, symbol, rows); err != nil {
			logger.Warnf("[runner] %s 预取行情写入失败: %v", symbol, err)
		} else {
			logger.Infof("[runner] %s 预取行情 %d 条入库", symbol, n)
		}
	}
	return prices, nil
}

func closeOn(rows []types.OHLCVRecord, day time.Time) float64 {
	for i := len(rows) - 1; i >= 0; i-- {
		if temporal.DateOf(rows[i].Date).Equal(day) {
			return rows[i].Close
		}
	}
	return 0
}

func validAction(a types.Action) bool {
	switch a {
	case types.ActionStrongBuy, types.ActionBuy, types.ActionHold,
		types.ActionSell, types.ActionStrongSell, types.ActionInsufficientData:
		return true
	}
	return false
}

func isTemporalFatal(err error) bool {
	var tv *temporal.TemporalViolationError
	var rb *temporal.RealtimeAPIBlockedError
	return errors.As(err, &tv) || errors.As(err, &rb)
}

func buildOutcomes(decisions []dayDecision) []DecisionOutcome {
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].day.Before(decisions[j].day) })
	outcomes := make([]DecisionOutcome, 0, len(decisions))
	for i := 0; i < len(decisions)-1; i++ {
		outcomes = append(outcomes, DecisionOutcome{
			Action:     decisions[i].action,
			PriceToday: decisions[i].price,
			PriceNext:  decisions[i+1].price,
		})
	}
	return outcomes
}
