package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/pattern"
	"ictagent/internal/signal"
)

func testParams() Params {
	return Params{
		RiskPerTrade:      0.02,
		MaxPositions:      3,
		PortfolioRiskCap:  0.06,
		DailyLossLimit:    -0.05,
		MaxDrawdown:       0.2,
		StopATRMultiplier: 1.5,
		TakeProfitRatio:   2,
		MinRewardRisk:     1.5,
		MaxKellyFraction:  0.25,
	}
}

func healthyAccount() AccountView {
	return AccountView{Equity: 10000, PeakEquity: 10000}
}

func TestEvaluateSizing(t *testing.T) {
	sig := &signal.Signal{
		Direction: pattern.DirectionUp,
		Price:     15000,
		StopLoss:  14900,
	}
	d := NewManager(testParams()).Evaluate(sig, healthyAccount(), 0, nil)
	require.True(t, d.Accepted)

	// floor(10000×0.02 / 100) = 2
	assert.Equal(t, 2.0, d.Size)
	assert.Equal(t, 14900.0, d.StopLoss)
	assert.Equal(t, 15200.0, d.TakeProfit) // 止损距离 ×2
	assert.Equal(t, 200.0, d.RiskAmount)
	// 在险资金不超过净值 × 单笔风险比例
	assert.LessOrEqual(t, d.Size*(sig.Price-d.StopLoss), 10000*0.02)
}

func TestEvaluateATRStop(t *testing.T) {
	sig := &signal.Signal{Direction: pattern.DirectionDown, Price: 100}
	d := NewManager(testParams()).Evaluate(sig, healthyAccount(), 2, nil)
	require.True(t, d.Accepted)
	assert.Equal(t, 103.0, d.StopLoss)  // 100 + 2×1.5
	assert.Equal(t, 94.0, d.TakeProfit) // 100 − 3×2
	assert.Equal(t, 66.0, d.Size)       // floor(200/3)
}

func TestEvaluateInvalidStop(t *testing.T) {
	m := NewManager(testParams())
	long := &signal.Signal{Direction: pattern.DirectionUp, Price: 100, StopLoss: 101}
	assert.Equal(t, RejectInvalidStop, m.Evaluate(long, healthyAccount(), 0, nil).Reason)

	short := &signal.Signal{Direction: pattern.DirectionDown, Price: 100, StopLoss: 99}
	assert.Equal(t, RejectInvalidStop, m.Evaluate(short, healthyAccount(), 0, nil).Reason)

	flat := &signal.Signal{Direction: pattern.DirectionUp, Price: 100, StopLoss: 100}
	assert.Equal(t, RejectInvalidStop, m.Evaluate(flat, healthyAccount(), 0, nil).Reason)
}

func TestEvaluateGateOrder(t *testing.T) {
	m := NewManager(testParams())
	sig := &signal.Signal{Direction: pattern.DirectionUp, Price: 100, StopLoss: 99}

	acct := healthyAccount()
	acct.OpenPositions = 3
	acct.OpenRisk = 10000 // 同时超组合风险上限，但持仓数闸在前
	d := m.Evaluate(sig, acct, 0, nil)
	assert.False(t, d.Accepted)
	assert.Equal(t, RejectMaxPositions, d.Reason)

	acct = healthyAccount()
	acct.OpenRisk = 500 // 500 + 200 > 10000×0.06
	assert.Equal(t, RejectPortfolioRisk, m.Evaluate(sig, acct, 0, nil).Reason)

	acct = healthyAccount()
	acct.DailyPnL = -500 // ≤ 10000×(−0.05)
	assert.Equal(t, RejectDailyLoss, m.Evaluate(sig, acct, 0, nil).Reason)

	acct = healthyAccount()
	acct.Equity = 7500
	acct.PeakEquity = 10000 // 回撤 25% > 20%
	assert.Equal(t, RejectMaxDrawdown, m.Evaluate(sig, acct, 0, nil).Reason)

	lowReward := &signal.Signal{Direction: pattern.DirectionUp, Price: 100, StopLoss: 99, TakeProfit: 101}
	assert.Equal(t, RejectRewardRisk, m.Evaluate(lowReward, healthyAccount(), 0, nil).Reason)
}

func TestEvaluateDailyLossBoundary(t *testing.T) {
	m := NewManager(testParams())
	sig := &signal.Signal{Direction: pattern.DirectionUp, Price: 100, StopLoss: 99}

	acct := healthyAccount()
	acct.DailyPnL = -499.99 // 未触及阈值
	assert.True(t, m.Evaluate(sig, acct, 0, nil).Accepted)

	acct.DailyPnL = -500 // 阈值本身即触发
	assert.Equal(t, RejectDailyLoss, m.Evaluate(sig, acct, 0, nil).Reason)
}

func TestEvaluateZeroSize(t *testing.T) {
	sig := &signal.Signal{Direction: pattern.DirectionUp, Price: 100000, StopLoss: 99000}
	acct := AccountView{Equity: 100, PeakEquity: 100}
	// floor(100×0.02 / 1000) = 0
	d := NewManager(testParams()).Evaluate(sig, acct, 0, nil)
	assert.Equal(t, RejectZeroSize, d.Reason)
}

func TestEvaluateKelly(t *testing.T) {
	p := testParams()
	p.KellyEnabled = true
	m := NewManager(p)
	sig := &signal.Signal{Direction: pattern.DirectionUp, Price: 100, StopLoss: 99}

	// f = 0.6 − 0.4/2 = 0.4，裁剪到 0.25 → floor(10000×0.25/1) = 2500
	stats := &TradeStats{WinRate: 0.6, AvgWin: 200, AvgLoss: 100, Samples: 20}
	acct := healthyAccount()
	acct.Equity = 10000
	p2 := p
	p2.PortfolioRiskCap = 1 // 放开组合闸，单测 Kelly 本身
	d := NewManager(p2).Evaluate(sig, acct, 0, stats)
	require.True(t, d.Accepted)
	assert.Equal(t, 2500.0, d.Size)

	// 负期望裁剪到 0 → 拒绝
	bad := &TradeStats{WinRate: 0.3, AvgWin: 100, AvgLoss: 100, Samples: 20}
	d = NewManager(p2).Evaluate(sig, acct, 0, bad)
	assert.Equal(t, RejectZeroSize, d.Reason)

	// 无样本退回固定比例
	d = m.Evaluate(sig, acct, 0, nil)
	require.True(t, d.Accepted)
	assert.Equal(t, 200.0, d.Size)
}
