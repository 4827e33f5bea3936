package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ictagent/internal/logger"
)

// Notifier 用于运行完成后的推送（Telegram 等），由外层装配。
type Notifier interface {
	SendText(text string) error
}

type SimulatorConfig struct {
	Source        CandleSource
	Results       *ResultStore
	Defaults      RunConfig // 形态/信号/风控参数模板，请求未覆盖的字段取这里
	Notifier      Notifier
	MaxConcurrent int
}

// Simulator 负责把 HTTP/CLI 提交的请求推演成完整回测结果并落库。
// 模拟本身在后台 goroutine 进行，进度通过 run 状态查询。
type Simulator struct {
	source   CandleSource
	results  *ResultStore
	defaults RunConfig
	notifier Notifier

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("candle source 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		source:   cfg.Source,
		results:  cfg.Results,
		defaults: cfg.Defaults,
		notifier: cfg.Notifier,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	tfName := req.Timeframe
	if tfName == "" {
		tfName = s.defaults.Timeframe
	}
	tf, err := ParseTimeframe(tfName)
	if err != nil {
		return Run{}, fmt.Errorf("timeframe 无效: %w", err)
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= start {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	initial := req.InitialCapital
	if initial <= 0 {
		initial = s.defaults.InitialCapital
	}
	if initial <= 0 {
		initial = 10000
	}
	// 费率字段用指针区分“未填”与显式 0，零成本回测是合法请求。
	commission := s.defaults.Commission
	if req.Commission != nil {
		commission = *req.Commission
	}
	slippage := s.defaults.SlippageBps
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}

	cfg := RunConfig{
		Symbol:         strings.ToUpper(req.Symbol),
		Timeframe:      tf.Key,
		StartTS:        start,
		EndTS:          end,
		InitialCapital: initial,
		Commission:     commission,
		SlippageBps:    slippage,
		Pattern:        s.defaults.Pattern,
		Signal:         s.defaults.Signal,
		Risk:           s.defaults.Risk,
	}

	run := Run{
		ID:             uuid.NewString(),
		Symbol:         cfg.Symbol,
		Status:         RunStatusPending,
		StartTS:        start,
		EndTS:          end,
		Timeframe:      tf.Key,
		InitialCapital: initial,
		FinalBalance:   initial,
		Config:         cfg,
		Stats:          RunStats{FinalBalance: initial},
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, cfg, tf)
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig, tf Timeframe) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "拉取历史数据…")

	candles, err := s.source.Fetch(ctx, cfg.Symbol, tf, cfg.StartTS, cfg.EndTS)
	if err != nil {
		s.fail(ctx, runID, fmt.Errorf("拉取数据失败: %w", err))
		return
	}
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning,
		fmt.Sprintf("回放 %d 根 K 线…", len(candles)))

	res, err := NewEngine(cfg).Run(candles)
	if err != nil {
		s.fail(ctx, runID, err)
		return
	}

	if err := s.results.InsertTrades(ctx, runID, res.Trades); err != nil {
		logger.Warnf("[backtest] run %s 写入交易失败: %v", runID, err)
	}
	if err := s.results.InsertSnapshots(ctx, runID, res.Equity); err != nil {
		logger.Warnf("[backtest] run %s 写入资金曲线失败: %v", runID, err)
	}
	if err := s.results.InsertPatterns(ctx, runID, res.Patterns); err != nil {
		logger.Warnf("[backtest] run %s 写入形态失败: %v", runID, err)
	}

	stats := res.Stats
	stats.FinishedAt = time.Now()
	if err := s.results.UpdateRunSummary(ctx, runID, RunStatusDone, stats, "完成"); err != nil {
		logger.Warnf("[backtest] run %s 更新汇总失败: %v", runID, err)
		return
	}
	s.notify(runID, cfg, stats)
}

func (s *Simulator) fail(ctx context.Context, runID string, err error) {
	logger.Warnf("[backtest] run %s 失败: %v", runID, err)
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
}

func (s *Simulator) notify(runID string, cfg RunConfig, stats RunStats) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("*回测完成* ✅\n```\nid      : %s\nsymbol  : %s\npnl     : %.2f (%.2f%%)\nwinrate : %.2f%% (%d/%d)\nmaxDD   : %.2f%%\nfinal   : %.2f\n```\n",
		runID, cfg.Symbol, stats.Profit, stats.ReturnPct*100,
		stats.WinRate*100, stats.Wins, stats.Trades, stats.MaxDrawdownPct*100, stats.FinalBalance)
	if err := s.notifier.SendText(msg); err != nil {
		logger.Warnf("回测通知失败: %v", err)
	}
}
