package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"pitsafe/internal/backtest"
	"pitsafe/internal/config"
	"pitsafe/internal/data/adapters"
	"pitsafe/internal/decision"
	"pitsafe/internal/logger"
)

// App 应用级编排：加载配置 → 组装依赖 → 启动 HTTP 服务。
type App struct {
	cfg     *config.Config
	http    *backtest.HTTPServer
	store   *adapters.BarStore
	results *backtest.ResultStore
	runner  *backtest.Runner
	watcher *config.Watcher
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config, source decision.Source) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewBuilder(cfg, source).Build()
}

// EnableHotReload 监听配置文件变更，目前只热更新日志级别；
// 其余字段（端口、数据目录等）仍需重启生效。
func (a *App) EnableHotReload(path string) error {
	w, err := config.NewWatcher(path)
	if err != nil {
		return err
	}
	w.OnChange(func(next *config.Config) {
		logger.SetLevel(next.App.LogLevel)
	})
	a.watcher = w
	return nil
}

// Runner 暴露底层运行器（供测试与嵌入场景直接提交任务）。
func (a *App) Runner() *backtest.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

// Run 启动 HTTP 服务，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	logger.Infof("✓ pitsafe 启动（环境=%s，监听=%s）", a.cfg.App.Env, a.cfg.App.HTTPAddr)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 释放底层资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭行情库失败: %v", err)
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("关闭结果库失败: %v", err)
		}
	}
}
