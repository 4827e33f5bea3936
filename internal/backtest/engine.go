package backtest

import (
	"errors"
	"fmt"
	"math"

	"ictagent/internal/indicator"
	"ictagent/internal/logger"
	"ictagent/internal/market"
	"ictagent/internal/pattern"
	"ictagent/internal/risk"
	"ictagent/internal/signal"
)

// ErrAccountState 账户状态出现非法数值，继续推进会污染交易记录，立即终止。
var ErrAccountState = errors.New("账户状态非法")

// Strategy 每根 K 线给出至多一个候选信号。history 只含截至当前的 K 线，
// 实现不得持有跨调用的未来信息。
type Strategy interface {
	Decide(history []market.Candle) *signal.Signal
}

// ictStrategy 缺省策略：形态检测 + 共振合成。
type ictStrategy struct {
	detector *pattern.Detector
	synth    *signal.Synthesizer
}

func (s *ictStrategy) Decide(history []market.Candle) *signal.Signal {
	if len(history) == 0 {
		return nil
	}
	instances := s.detector.Detect(history)
	last := history[len(history)-1]
	return s.synth.Synthesize(instances, last.Close, last.CloseTime)
}

// pendingEntry 已过风控、等待下一根开盘成交的委托。
// 信号 K 线的收盘只做观察，成交必须落在下一根，避免前视。
type pendingEntry struct {
	direction  pattern.Direction
	decision   risk.Decision
	confidence float64
	kinds      []pattern.Kind
}

// Engine 事件驱动回测引擎：严格按时间单线程推进，
// 同一输入与配置必然产出逐字节一致的交易记录。
type Engine struct {
	cfg      RunConfig
	strategy Strategy
	riskMgr  *risk.Manager
	detector *pattern.Detector
}

// NewEngine 用配置构造引擎与缺省 ICT 策略。
func NewEngine(cfg RunConfig) *Engine {
	det := pattern.NewDetector(cfg.Pattern)
	return &Engine{
		cfg: cfg,
		strategy: &ictStrategy{
			detector: det,
			synth:    signal.NewSynthesizer(cfg.Signal),
		},
		riskMgr:  risk.NewManager(cfg.Risk),
		detector: det,
	}
}

// NewEngineWithStrategy 注入自定义策略（调参、对照实验用）。
func NewEngineWithStrategy(cfg RunConfig, st Strategy) *Engine {
	return &Engine{
		cfg:      cfg,
		strategy: st,
		riskMgr:  risk.NewManager(cfg.Risk),
		detector: pattern.NewDetector(cfg.Pattern),
	}
}

// Run 对整段 K 线执行回测。每根 K 线按固定次序处理：
// 上一根的委托在本根开盘成交 → 持仓出场检查（止损优先）→
// 以截至本根的历史跑策略并风控 → 收盘采样资金曲线。
// 数据跑完后剩余持仓按最后收盘强制平仓。
func (e *Engine) Run(candles []market.Candle) (*Result, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return nil, err
	}
	if e.cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("初始资金非法: %v", e.cfg.InitialCapital)
	}

	acct := newAccountState(e.cfg.InitialCapital)
	atr := indicator.ATRSeries(candles, e.cfg.Pattern.ATRPeriod)

	var (
		trades     []Trade
		rejections []Rejection
		pending    []pendingEntry
	)

	for i, bar := range candles {
		acct.rollDay(bar.OpenTime)

		for _, pe := range pending {
			e.openPosition(acct, pe, bar)
		}
		pending = pending[:0]

		trades = e.checkExits(acct, bar, trades)

		if sig := e.strategy.Decide(candles[:i+1]); sig != nil {
			acct.signals++
			d := e.riskMgr.Evaluate(sig, acct.view(bar.Close), atrAt(atr, i), e.kellyStats(trades))
			if d.Accepted {
				if i < len(candles)-1 {
					pending = append(pending, pendingEntry{
						direction:  sig.Direction,
						decision:   d,
						confidence: sig.Confidence,
						kinds:      sig.Kinds(),
					})
				}
			} else {
				acct.rejections++
				rejections = append(rejections, Rejection{TS: bar.CloseTime, Reason: d.Reason, Dir: sig.Direction})
				logger.Debugf("[backtest] 信号被拒 ts=%d dir=%s reason=%s", bar.CloseTime, sig.Direction, d.Reason)
			}
		}

		acct.markEquity(bar.CloseTime, bar.Close)
		if math.IsNaN(acct.balance) || math.IsInf(acct.balance, 0) {
			return nil, fmt.Errorf("%w: bar %d 余额 %v", ErrAccountState, i, acct.balance)
		}
	}

	last := candles[len(candles)-1]
	for len(acct.positions) > 0 {
		pos := acct.positions[0]
		exit := e.slipped(last.Close, pos.Direction, false)
		trades = append(trades, e.closePosition(acct, pos, exit, last.CloseTime, ExitEndOfData))
	}

	instances := e.detector.Detect(candles)
	stats := acct.statsSummary()
	stats.Patterns = len(instances)

	return &Result{
		Trades:     trades,
		Equity:     acct.equityCurve,
		Patterns:   instances,
		Rejections: rejections,
		Stats:      stats,
	}, nil
}

// slipped 返回叠加滑点后的成交价，方向始终对持仓人不利。
func (e *Engine) slipped(price float64, dir pattern.Direction, opening bool) float64 {
	slip := price * e.cfg.SlippageBps / 10000
	adverse := dir == pattern.DirectionUp
	if !opening {
		adverse = !adverse
	}
	if adverse {
		return price + slip
	}
	return price - slip
}

func (e *Engine) openPosition(acct *accountState, pe pendingEntry, bar market.Candle) {
	price := e.slipped(bar.Open, pe.direction, true)
	if price <= 0 {
		return
	}
	fee := e.cfg.Commission
	if fee > acct.balance {
		logger.Warnf("[backtest] 余额不足以支付手续费，放弃开仓 ts=%d", bar.OpenTime)
		return
	}
	acct.balance -= fee
	acct.addPosition(&Position{
		Direction:  pe.direction,
		EntryPrice: price,
		Size:       pe.decision.Size,
		StopLoss:   pe.decision.StopLoss,
		TakeProfit: pe.decision.TakeProfit,
		EntryTime:  bar.OpenTime,
		RiskAmount: pe.decision.RiskAmount,
		Confidence: pe.confidence,
		Kinds:      pe.kinds,
	})
}

// checkExits 用本根最高/最低扫描止损止盈。同一根内两者都触及时
// 按保守假设先触发止损。
func (e *Engine) checkExits(acct *accountState, bar market.Candle, trades []Trade) []Trade {
	open := make([]*Position, len(acct.positions))
	copy(open, acct.positions)
	for _, pos := range open {
		var (
			level  float64
			reason ExitReason
		)
		if pos.Direction == pattern.DirectionUp {
			switch {
			case pos.StopLoss > 0 && bar.Low <= pos.StopLoss:
				level, reason = pos.StopLoss, ExitStopLoss
			case pos.TakeProfit > 0 && bar.High >= pos.TakeProfit:
				level, reason = pos.TakeProfit, ExitTakeProfit
			default:
				continue
			}
		} else {
			switch {
			case pos.StopLoss > 0 && bar.High >= pos.StopLoss:
				level, reason = pos.StopLoss, ExitStopLoss
			case pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit:
				level, reason = pos.TakeProfit, ExitTakeProfit
			default:
				continue
			}
		}
		exit := e.slipped(level, pos.Direction, false)
		trades = append(trades, e.closePosition(acct, pos, exit, bar.CloseTime, reason))
	}
	return trades
}

func (e *Engine) closePosition(acct *accountState, pos *Position, exitPrice float64, ts int64, reason ExitReason) Trade {
	var gross float64
	if pos.Direction == pattern.DirectionUp {
		gross = (exitPrice - pos.EntryPrice) * pos.Size
	} else {
		gross = (pos.EntryPrice - exitPrice) * pos.Size
	}
	fee := e.cfg.Commission
	acct.balance += gross - fee

	net := gross - 2*fee // 双边手续费
	pnlPct := 0.0
	if notional := pos.EntryPrice * pos.Size; notional > 0 {
		pnlPct = net / notional
	}
	if net >= 0 {
		acct.wins++
	} else {
		acct.losses++
	}
	acct.dailyPnL += net
	acct.removePosition(pos.ID)

	return Trade{
		ID:         pos.ID,
		Direction:  pos.Direction,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		Reason:     reason,
		PnL:        net,
		PnLPct:     pnlPct,
		HoldingMs:  ts - pos.EntryTime,
		Confidence: pos.Confidence,
		Kinds:      pos.Kinds,
	}
}

// kellyStats 把已平仓记录折算成 Kelly 仓位需要的胜负统计。
func (e *Engine) kellyStats(trades []Trade) *risk.TradeStats {
	if !e.cfg.Risk.KellyEnabled || len(trades) == 0 {
		return nil
	}
	var wins, losses int
	var grossWin, grossLoss float64
	for _, t := range trades {
		if t.PnL >= 0 {
			wins++
			grossWin += t.PnL
		} else {
			losses++
			grossLoss += -t.PnL
		}
	}
	stats := &risk.TradeStats{
		WinRate: float64(wins) / float64(len(trades)),
		Samples: len(trades),
	}
	if wins > 0 {
		stats.AvgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = grossLoss / float64(losses)
	}
	return stats
}

func atrAt(atr []float64, i int) float64 {
	if atr == nil || i >= len(atr) {
		return 0
	}
	return atr[i]
}
