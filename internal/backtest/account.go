package backtest

import (
	"math"
	"time"

	"ictagent/internal/pattern"
	"ictagent/internal/risk"
)

// accountState 账户状态，由引擎独占持有并单线程推进。
// 其余组件只拿到只读快照（view / 资金曲线副本）。
type accountState struct {
	initialCapital float64
	balance        float64
	positions      []*Position
	equityCurve    []EquityPoint
	peakEquity     float64
	valleyEquity   float64
	maxDrawdown    float64
	dailyPnL       float64
	currentDay     int64 // UTC 天序号，跨天清零当日盈亏
	nextPositionID int64

	wins       int
	losses     int
	signals    int
	rejections int
}

func newAccountState(initialCapital float64) *accountState {
	return &accountState{
		initialCapital: initialCapital,
		balance:        initialCapital,
		peakEquity:     initialCapital,
		valleyEquity:   initialCapital,
	}
}

// rollDay 按 UTC 日界清零当日已实现盈亏。
func (a *accountState) rollDay(ts int64) {
	day := time.UnixMilli(ts).UTC().Unix() / 86400
	if day != a.currentDay {
		a.currentDay = day
		a.dailyPnL = 0
	}
}

func (a *accountState) unrealizedPnL(price float64) float64 {
	var total float64
	for _, p := range a.positions {
		if p.Direction == pattern.DirectionUp {
			total += (price - p.EntryPrice) * p.Size
		} else {
			total += (p.EntryPrice - price) * p.Size
		}
	}
	return total
}

func (a *accountState) equity(price float64) float64 {
	return a.balance + a.unrealizedPnL(price)
}

func (a *accountState) openRisk() float64 {
	var total float64
	for _, p := range a.positions {
		total += p.RiskAmount
	}
	return total
}

// view 返回风控可读的账户快照。净值按当前收盘价盯市。
func (a *accountState) view(price float64) risk.AccountView {
	return risk.AccountView{
		Equity:        a.equity(price),
		PeakEquity:    a.peakEquity,
		OpenPositions: len(a.positions),
		OpenRisk:      a.openRisk(),
		DailyPnL:      a.dailyPnL,
	}
}

func (a *accountState) addPosition(p *Position) {
	a.nextPositionID++
	p.ID = a.nextPositionID
	a.positions = append(a.positions, p)
}

func (a *accountState) removePosition(id int64) {
	for i, p := range a.positions {
		if p.ID == id {
			a.positions = append(a.positions[:i], a.positions[i+1:]...)
			return
		}
	}
}

// markEquity 采样资金曲线并推进峰值/回撤。峰值只增不减。
func (a *accountState) markEquity(ts int64, price float64) {
	equity := a.equity(price)
	a.peakEquity = math.Max(a.peakEquity, equity)
	if equity < a.valleyEquity {
		a.valleyEquity = equity
	}
	if a.peakEquity > 0 {
		drawdown := (a.peakEquity - equity) / a.peakEquity
		if drawdown > a.maxDrawdown {
			a.maxDrawdown = drawdown
		}
	}
	a.equityCurve = append(a.equityCurve, EquityPoint{
		TS:       ts,
		Equity:   equity,
		Balance:  a.balance,
		Drawdown: a.maxDrawdown,
	})
}

func (a *accountState) statsSummary() RunStats {
	total := a.wins + a.losses
	winRate := 0.0
	if total > 0 {
		winRate = float64(a.wins) / float64(total)
	}
	profit := a.balance - a.initialCapital
	returnPct := 0.0
	if a.initialCapital > 0 {
		returnPct = profit / a.initialCapital
	}
	return RunStats{
		FinalBalance:   a.balance,
		Profit:         profit,
		ReturnPct:      returnPct,
		WinRate:        winRate,
		MaxDrawdownPct: a.maxDrawdown,
		Trades:         total,
		Wins:           a.wins,
		Losses:         a.losses,
		Signals:        a.signals,
		Rejections:     a.rejections,
		Snapshots:      len(a.equityCurve),
		EquityPeak:     a.peakEquity,
		EquityValley:   a.valleyEquity,
	}
}
