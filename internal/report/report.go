package report

import (
	"math"
	"sort"
	"time"

	"ictagent/internal/backtest"
	"ictagent/internal/pattern"
)

// Config 指标聚合参数。
type Config struct {
	InitialCapital float64
	PeriodsPerYear float64 // 年化折算用的周期数（1h → 8760）
	VaRConfidence  float64 // 如 0.95，取亏损侧 5 分位
}

// Summary 交易结果汇总。
type Summary struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	NetProfit    float64
	ReturnPct    float64
	GrossProfit  float64
	GrossLoss    float64 // 正数
	ProfitFactor float64 // 无亏损时为 +Inf 哨兵
	AvgWin       float64
	AvgLoss      float64 // 正数
	Expectancy   float64 // 单笔期望
	BestTrade    float64
	WorstTrade   float64
	AvgHolding   time.Duration
}

// RiskMetrics 风险指标。分母退化时给哨兵值，绝不崩溃。
type RiskMetrics struct {
	Sharpe      float64
	Sortino     float64 // 无下行波动且有收益时为 +Inf
	MaxDrawdown float64
	Volatility  float64 // 年化
	VaR         float64 // 亏损侧分位收益（通常为负）
}

// Streaks 连胜/连亏统计。Current 以符号表示方向（负为连亏）。
type Streaks struct {
	MaxWins   int
	MaxLosses int
	Current   int
}

// PeriodStat 一个分组维度下的交易统计。
type PeriodStat struct {
	Key     string
	Trades  int
	Wins    int
	PnL     float64
	WinRate float64
}

// Report 只读绩效视图，由交易记录与资金曲线派生，不回写输入。
type Report struct {
	Summary     Summary
	Risk        RiskMetrics
	Streaks     Streaks
	Monthly     []PeriodStat // 按 UTC 月份（2024-01）升序
	Hourly      []PeriodStat // 按入场小时（UTC）升序
	Weekday     []PeriodStat // 按入场星期（UTC），周日起
	ByKind      []PeriodStat // 按入场信号的共振形态类别
	ByDirection []PeriodStat
}

// Build 把平仓记录与资金曲线聚合成绩效报告。纯函数，同一输入同一结果。
func Build(trades []backtest.Trade, equity []backtest.EquityPoint, cfg Config) *Report {
	if cfg.VaRConfidence <= 0 || cfg.VaRConfidence >= 1 {
		cfg.VaRConfidence = 0.95
	}
	r := &Report{
		Summary:     buildSummary(trades, cfg.InitialCapital),
		Risk:        buildRiskMetrics(equity, cfg),
		Streaks:     buildStreaks(trades),
		Monthly:     groupTrades(trades, monthKey),
		Hourly:      groupTrades(trades, hourKey),
		Weekday:     sortWeekdays(groupTrades(trades, weekdayKey)),
		ByKind:      groupByKind(trades),
		ByDirection: groupTrades(trades, func(t backtest.Trade) string { return string(t.Direction) }),
	}
	return r
}

func buildSummary(trades []backtest.Trade, initial float64) Summary {
	s := Summary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return s
	}
	var holding time.Duration
	s.BestTrade = math.Inf(-1)
	s.WorstTrade = math.Inf(1)
	for _, t := range trades {
		s.NetProfit += t.PnL
		if t.PnL >= 0 {
			s.Wins++
			s.GrossProfit += t.PnL
		} else {
			s.Losses++
			s.GrossLoss += -t.PnL
		}
		s.BestTrade = math.Max(s.BestTrade, t.PnL)
		s.WorstTrade = math.Min(s.WorstTrade, t.PnL)
		holding += time.Duration(t.HoldingMs) * time.Millisecond
	}
	s.WinRate = float64(s.Wins) / float64(len(trades))
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	} else if s.GrossProfit > 0 {
		s.ProfitFactor = math.Inf(1)
	}
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss / float64(s.Losses)
	}
	s.Expectancy = s.NetProfit / float64(len(trades))
	s.AvgHolding = holding / time.Duration(len(trades))
	if initial > 0 {
		s.ReturnPct = s.NetProfit / initial
	}
	return s
}

// periodReturns 由资金曲线计算逐周期收益率。
func periodReturns(equity []backtest.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, (equity[i].Equity-prev)/prev)
	}
	return out
}

func buildRiskMetrics(equity []backtest.EquityPoint, cfg Config) RiskMetrics {
	var m RiskMetrics
	m.MaxDrawdown = maxDrawdown(equity)

	returns := periodReturns(equity)
	if len(returns) == 0 {
		return m
	}
	mean := meanOf(returns)
	std := stdOf(returns, mean)
	annual := math.Sqrt(cfg.PeriodsPerYear)
	if std > 0 {
		m.Sharpe = mean / std * annual
		m.Volatility = std * annual
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 0 {
		ds := stdOf(downside, meanOf(downside))
		if ds > 0 {
			m.Sortino = mean / ds * annual
		}
	} else if mean > 0 {
		m.Sortino = math.Inf(1)
	}

	m.VaR = percentile(returns, 1-cfg.VaRConfidence)
	return m
}

func maxDrawdown(equity []backtest.EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdOf 总体标准差。
func stdOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// percentile 线性插值分位数，q ∈ [0,1]。
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func buildStreaks(trades []backtest.Trade) Streaks {
	var s Streaks
	var cur int
	for _, t := range trades {
		if t.PnL >= 0 {
			if cur > 0 {
				cur++
			} else {
				cur = 1
			}
			if cur > s.MaxWins {
				s.MaxWins = cur
			}
		} else {
			if cur < 0 {
				cur--
			} else {
				cur = -1
			}
			if -cur > s.MaxLosses {
				s.MaxLosses = -cur
			}
		}
	}
	s.Current = cur
	return s
}

func monthKey(t backtest.Trade) string {
	return time.UnixMilli(t.ExitTime).UTC().Format("2006-01")
}

func hourKey(t backtest.Trade) string {
	return time.UnixMilli(t.EntryTime).UTC().Format("15:00")
}

func weekdayKey(t backtest.Trade) string {
	return time.UnixMilli(t.EntryTime).UTC().Weekday().String()
}

// sortWeekdays 把字典序的星期分组恢复成周日起的自然顺序。
func sortWeekdays(stats []PeriodStat) []PeriodStat {
	rank := make(map[string]int, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		rank[d.String()] = int(d)
	}
	sort.SliceStable(stats, func(i, j int) bool { return rank[stats[i].Key] < rank[stats[j].Key] })
	return stats
}

func groupTrades(trades []backtest.Trade, key func(backtest.Trade) string) []PeriodStat {
	idx := make(map[string]int)
	var out []PeriodStat
	for _, t := range trades {
		k := key(t)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, PeriodStat{Key: k})
		}
		out[i].Trades++
		out[i].PnL += t.PnL
		if t.PnL >= 0 {
			out[i].Wins++
		}
	}
	finishStats(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// groupByKind 一笔交易按其入场信号的每个共振类别各记一次。
func groupByKind(trades []backtest.Trade) []PeriodStat {
	idx := make(map[pattern.Kind]int)
	var out []PeriodStat
	for _, t := range trades {
		for _, k := range t.Kinds {
			i, ok := idx[k]
			if !ok {
				i = len(out)
				idx[k] = i
				out = append(out, PeriodStat{Key: string(k)})
			}
			out[i].Trades++
			out[i].PnL += t.PnL
			if t.PnL >= 0 {
				out[i].Wins++
			}
		}
	}
	finishStats(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func finishStats(stats []PeriodStat) {
	for i := range stats {
		if stats[i].Trades > 0 {
			stats[i].WinRate = float64(stats[i].Wins) / float64(stats[i].Trades)
		}
	}
}
