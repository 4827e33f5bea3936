package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"ictagent/internal/pattern"
	"ictagent/internal/signal"
)

// RejectReason 风控拒绝原因码。被拒不是错误，是正常的可记录结果。
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectInvalidStop   RejectReason = "invalid_stop"
	RejectMaxPositions  RejectReason = "max_positions"
	RejectPortfolioRisk RejectReason = "portfolio_risk"
	RejectDailyLoss     RejectReason = "daily_loss"
	RejectMaxDrawdown   RejectReason = "max_drawdown"
	RejectRewardRisk    RejectReason = "reward_risk"
	RejectZeroSize      RejectReason = "zero_size"
)

// Params 风控参数。风险上限属于安全参数，零值不回退默认，由配置层强校验。
type Params struct {
	RiskPerTrade      float64 `json:"risk_per_trade"`      // 单笔风险占净值比例
	MaxPositions      int     `json:"max_positions"`       // 最大同时持仓数
	PortfolioRiskCap  float64 `json:"portfolio_risk_cap"`  // 组合总在险资金占净值上限
	DailyLossLimit    float64 `json:"daily_loss_limit"`    // 当日已实现亏损阈值（负数，占净值比例）
	MaxDrawdown       float64 `json:"max_drawdown"`        // 距峰值最大回撤比例
	StopATRMultiplier float64 `json:"stop_atr_multiplier"` // 信号未给止损时按 ATR 倍数推算
	TakeProfitRatio   float64 `json:"take_profit_ratio"`   // 止盈距离与止损距离之比
	MinRewardRisk     float64 `json:"min_reward_risk"`     // 可接受的最小盈亏比
	KellyEnabled      bool    `json:"kelly_enabled"`
	MaxKellyFraction  float64 `json:"max_kelly_fraction"` // Kelly 仓位比例的上限
}

// AccountView 风控读取的账户快照。风控只读不改，账户状态归回测引擎独占。
type AccountView struct {
	Equity        float64 // 账户净值
	PeakEquity    float64 // 历史峰值净值
	OpenPositions int     // 当前持仓数
	OpenRisk      float64 // 现有持仓的在险资金合计
	DailyPnL      float64 // 当日已实现盈亏
}

// TradeStats Kelly 仓位所需的历史胜负统计，无样本时退回固定比例。
type TradeStats struct {
	WinRate float64
	AvgWin  float64 // 平均盈利（正数）
	AvgLoss float64 // 平均亏损（正数）
	Samples int
}

// Decision 风控裁决。Accepted 为假时仅 Reason 有意义。
type Decision struct {
	Accepted   bool         `json:"accepted"`
	Reason     RejectReason `json:"reason,omitempty"`
	Size       float64      `json:"size"` // 整数单位数
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	RiskAmount float64      `json:"risk_amount"` // 本笔在险资金
}

// Manager 对候选信号做仓位测算与组合级校验的纯决策函数。
type Manager struct {
	params Params
}

func NewManager(p Params) *Manager {
	return &Manager{params: p}
}

// Params 返回生效的参数快照。
func (m *Manager) Params() Params { return m.params }

// Evaluate 给信号定仓并按固定顺序过闸，第一道不通过即拒绝：
// 持仓数 → 组合在险资金 → 当日亏损 → 回撤 → 盈亏比。
// atr 用于补全信号缺失的止损；stats 可为 nil。
func (m *Manager) Evaluate(sig *signal.Signal, acct AccountView, atr float64, stats *TradeStats) Decision {
	entry := sig.Price
	stop := sig.StopLoss
	if stop == 0 {
		if sig.Direction == pattern.DirectionUp {
			stop = entry - atr*m.params.StopATRMultiplier
		} else {
			stop = entry + atr*m.params.StopATRMultiplier
		}
	}

	// 止损必须位于持仓方向的亏损侧
	dist := entry - stop
	if sig.Direction == pattern.DirectionDown {
		dist = stop - entry
	}
	if dist <= 0 {
		return Decision{Reason: RejectInvalidStop}
	}

	take := sig.TakeProfit
	if take == 0 {
		if sig.Direction == pattern.DirectionUp {
			take = entry + dist*m.params.TakeProfitRatio
		} else {
			take = entry - dist*m.params.TakeProfitRatio
		}
	}

	riskAmount := m.riskAmount(acct.Equity, stats)

	if acct.OpenPositions >= m.params.MaxPositions {
		return Decision{Reason: RejectMaxPositions}
	}
	riskCap := decimal.NewFromFloat(acct.Equity).Mul(decimal.NewFromFloat(m.params.PortfolioRiskCap))
	if decimal.NewFromFloat(acct.OpenRisk + riskAmount).GreaterThan(riskCap) {
		return Decision{Reason: RejectPortfolioRisk}
	}
	lossFloor := decimal.NewFromFloat(acct.Equity).Mul(decimal.NewFromFloat(m.params.DailyLossLimit))
	if decimal.NewFromFloat(acct.DailyPnL).LessThanOrEqual(lossFloor) {
		return Decision{Reason: RejectDailyLoss}
	}
	if acct.PeakEquity > 0 {
		drawdown := (acct.PeakEquity - acct.Equity) / acct.PeakEquity
		if drawdown > m.params.MaxDrawdown {
			return Decision{Reason: RejectMaxDrawdown}
		}
	}
	reward := math.Abs(take-entry) / dist
	if reward < m.params.MinRewardRisk {
		return Decision{Reason: RejectRewardRisk}
	}

	size := decimal.NewFromFloat(riskAmount).
		Div(decimal.NewFromFloat(dist)).
		Floor()
	if size.LessThanOrEqual(decimal.Zero) {
		return Decision{Reason: RejectZeroSize}
	}
	units, _ := size.Float64()
	return Decision{
		Accepted:   true,
		Size:       units,
		StopLoss:   stop,
		TakeProfit: take,
		RiskAmount: units * dist,
	}
}

// riskAmount 计算本笔在险资金。启用 Kelly 且有历史样本时：
// f = 胜率 − (1−胜率)/盈亏比，裁剪到 [0, MaxKellyFraction]。
func (m *Manager) riskAmount(equity float64, stats *TradeStats) float64 {
	fraction := m.params.RiskPerTrade
	if m.params.KellyEnabled && stats != nil && stats.Samples > 0 && stats.AvgLoss > 0 {
		ratio := stats.AvgWin / stats.AvgLoss
		if ratio > 0 {
			f := stats.WinRate - (1-stats.WinRate)/ratio
			f = math.Max(0, math.Min(f, m.params.MaxKellyFraction))
			fraction = f
		}
	}
	return equity * fraction
}
