package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ictagent/internal/backtest"
	"ictagent/internal/config"
	"ictagent/internal/logger"
	"ictagent/internal/report"
	"ictagent/internal/visual"
)

// App 负责应用级编排：配置→数据源→回测→报告，可选 HTTP 服务与图表导出。
type App struct {
	cfg     *config.Config
	source  backtest.CandleSource
	cache   *backtest.CandleStore
	results *backtest.ResultStore
	sim     *backtest.Simulator
	httpSrv *backtest.HTTPServer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	source, cache, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	results, err := backtest.NewResultStore(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}
	defaults, err := cfg.RunConfig()
	if err != nil {
		// 没配起止时间也允许启动 HTTP 服务，区间由请求提供。
		defaults = backtest.RunConfig{
			Symbol:         strings.ToUpper(cfg.Data.Symbol),
			Timeframe:      cfg.Data.Timeframe,
			InitialCapital: cfg.Backtest.InitialCapital,
			Commission:     cfg.Backtest.Commission,
			SlippageBps:    cfg.Backtest.SlippageBps,
			Pattern:        cfg.Pattern.Params(),
			Signal:         cfg.Signal.Params(),
			Risk:           cfg.Risk.Params(),
		}
	}
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Source:        source,
		Results:       results,
		Defaults:      defaults,
		Notifier:      logNotifier{},
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, source: source, cache: cache, results: results, sim: sim}
	if cfg.App.HTTPEnabled {
		srv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
			Addr:      cfg.App.HTTPAddr,
			Simulator: sim,
			Results:   results,
		})
		if err != nil {
			return nil, err
		}
		app.httpSrv = srv
	}
	return app, nil
}

// logNotifier 把完成通知落到日志，外部推送渠道不在本仓库范围内。
type logNotifier struct{}

func (logNotifier) SendText(text string) error {
	logger.Infof("[notify] %s", text)
	return nil
}

func buildSource(cfg *config.Config) (backtest.CandleSource, *backtest.CandleStore, error) {
	switch cfg.Data.Source {
	case "csv":
		tf, err := backtest.ParseTimeframe(cfg.Data.Timeframe)
		if err != nil {
			return nil, nil, err
		}
		src := backtest.NewCSVSource(cfg.Data.CSVPath)
		src.Step = tf.Duration.Milliseconds()
		return src, nil, nil
	case "binance":
		remote := backtest.NewBinanceSource(backtest.BinanceConfig{
			BaseURL:     cfg.Data.BinanceBaseURL,
			HTTPTimeout: time.Duration(cfg.Data.TimeoutSeconds) * time.Second,
		})
		cacheDir := strings.TrimSpace(cfg.Data.CacheDir)
		if cacheDir == "" {
			return remote, nil, nil
		}
		cache, err := backtest.NewCandleStore(cacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
		}
		src, err := backtest.NewCachedSource(remote, cache)
		if err != nil {
			_ = cache.Close()
			return nil, nil, err
		}
		return src, cache, nil
	default:
		return nil, nil, fmt.Errorf("unknown data source: %s", cfg.Data.Source)
	}
}

// Run 执行一次配置指定的回测；开启 HTTP 时同时对外提供服务。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.sim.SetContext(ctx)

	if a.httpSrv == nil {
		return a.runOnce(ctx)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.hasRange() {
		group.Go(func() error {
			return a.runOnce(ctx)
		})
	}
	return group.Wait()
}

// Close 释放结果库句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

func (a *App) hasRange() bool {
	return strings.TrimSpace(a.cfg.Data.Start) != "" && strings.TrimSpace(a.cfg.Data.End) != ""
}

// runOnce 同步跑完配置指定区间的回测，打印报告并按需导出图表。
func (a *App) runOnce(ctx context.Context) error {
	if !a.hasRange() {
		return fmt.Errorf("data.start/data.end required for a one-shot backtest")
	}
	cfg, err := a.cfg.RunConfig()
	if err != nil {
		return err
	}
	tf, err := backtest.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return err
	}
	cfg.StartTS, cfg.EndTS = tf.AlignRange(cfg.StartTS, cfg.EndTS)

	run, err := a.sim.StartRun(backtest.RunRequest{
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		InitialCapital: cfg.InitialCapital,
		Commission:     &cfg.Commission,
		SlippageBps:    &cfg.SlippageBps,
	})
	if err != nil {
		return err
	}
	logger.Infof("[app] 回测已提交 run=%s %s %s [%d, %d)", run.ID, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)

	run, err = a.waitForRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if run.Status != backtest.RunStatusDone {
		return fmt.Errorf("回测未完成: status=%s message=%s", run.Status, run.Message)
	}

	trades, err := a.results.ListTrades(ctx, run.ID)
	if err != nil {
		return err
	}
	equity, err := a.results.ListSnapshots(ctx, run.ID)
	if err != nil {
		return err
	}

	rep := report.Build(trades, equity, report.Config{
		InitialCapital: cfg.InitialCapital,
		PeriodsPerYear: tf.PeriodsPerYear(),
		VaRConfidence:  a.cfg.Report.VaRConfidence,
	})
	fmt.Println(rep.Format())

	if a.cfg.Chart.Enabled {
		if err := a.exportChart(ctx, run.ID, cfg, trades, equity); err != nil {
			logger.Warnf("[app] 图表导出失败: %v", err)
		}
	}
	return nil
}

// waitForRun 轮询结果库直到后台回测结束。
func (a *App) waitForRun(ctx context.Context, runID string) (backtest.Run, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return backtest.Run{}, ctx.Err()
		case <-ticker.C:
		}
		run, err := a.results.GetRun(ctx, runID)
		if err != nil {
			return backtest.Run{}, err
		}
		switch run.Status {
		case backtest.RunStatusDone, backtest.RunStatusFailed:
			return run, nil
		}
	}
}

func (a *App) exportChart(ctx context.Context, runID string, cfg backtest.RunConfig, trades []backtest.Trade, equity []backtest.EquityPoint) error {
	tf, err := backtest.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return err
	}
	candles, err := a.source.Fetch(ctx, cfg.Symbol, tf, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return err
	}
	patterns, err := a.results.ListPatterns(ctx, runID)
	if err != nil {
		return err
	}

	input := visual.RunInput{
		Context:   ctx,
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Candles:   candles,
		Patterns:  patterns,
		Trades:    trades,
		Equity:    equity,
	}
	if err := os.MkdirAll(a.cfg.Chart.OutputDir, 0o755); err != nil {
		return err
	}

	html, desc, err := visual.BuildHTML(input)
	if err != nil {
		return err
	}
	htmlPath := filepath.Join(a.cfg.Chart.OutputDir, fmt.Sprintf("%s.html", runID))
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return err
	}
	logger.Infof("[app] 图表已导出 %s (%s)", htmlPath, desc)

	// PNG 需要无头浏览器，缺环境时只保留 HTML。
	img, err := visual.RenderRun(input)
	if err != nil {
		logger.Warnf("[app] PNG 渲染不可用: %v", err)
		return nil
	}
	pngPath := filepath.Join(a.cfg.Chart.OutputDir, img.Filename)
	if err := os.WriteFile(pngPath, img.Bytes, 0o644); err != nil {
		return err
	}
	logger.Infof("[app] 截图已导出 %s", pngPath)
	return nil
}
