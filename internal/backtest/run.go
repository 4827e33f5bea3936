package backtest

import (
	"encoding/json"
	"time"

	"ictagent/internal/pattern"
	"ictagent/internal/risk"
	"ictagent/internal/signal"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// ExitReason 平仓原因。
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// RunConfig 记录本次模拟的参数快照，便于重放。
type RunConfig struct {
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	StartTS        int64          `json:"start_ts"`
	EndTS          int64          `json:"end_ts"`
	InitialCapital float64        `json:"initial_capital"`
	Commission     float64        `json:"commission"`   // 每笔固定手续费
	SlippageBps    float64        `json:"slippage_bps"` // 滑点（基点，始终对成交不利）
	Pattern        pattern.Params `json:"pattern"`
	Signal         signal.Params  `json:"signal"`
	Risk           risk.Params    `json:"risk"`
	Notes          string         `json:"notes,omitempty"`
}

// RunStats 汇总收益、风控指标，供前端展示。
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Signals        int       `json:"signals"`
	Rejections     int       `json:"rejections"`
	Patterns       int       `json:"patterns"`
	Snapshots      int       `json:"snapshots"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 表示一次模拟任务。
type Run struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	Timeframe      string    `json:"timeframe"`
	InitialCapital float64   `json:"initial_capital"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// Position 持仓，自成交起存在，归账户状态独占。
type Position struct {
	ID         int64             `json:"id"`
	Direction  pattern.Direction `json:"direction"`
	EntryPrice float64           `json:"entry_price"`
	Size       float64           `json:"size"`
	StopLoss   float64           `json:"stop_loss"`
	TakeProfit float64           `json:"take_profit"`
	EntryTime  int64             `json:"entry_time"`
	RiskAmount float64           `json:"risk_amount"`
	Confidence float64           `json:"confidence"`
	Kinds      []pattern.Kind    `json:"kinds"` // 入场信号的共振形态类别
}

// Trade 已平仓记录，入账后不可变。盈亏已扣除双边手续费与滑点。
type Trade struct {
	ID         int64             `json:"id"`
	RunID      string            `json:"run_id,omitempty"`
	Direction  pattern.Direction `json:"direction"`
	Size       float64           `json:"size"`
	EntryPrice float64           `json:"entry_price"`
	ExitPrice  float64           `json:"exit_price"`
	StopLoss   float64           `json:"stop_loss"`
	TakeProfit float64           `json:"take_profit"`
	EntryTime  int64             `json:"entry_time"`
	ExitTime   int64             `json:"exit_time"`
	Reason     ExitReason        `json:"reason"`
	PnL        float64           `json:"pnl"`
	PnLPct     float64           `json:"pnl_pct"`
	HoldingMs  int64             `json:"holding_ms"`
	Confidence float64           `json:"confidence"`
	Kinds      []pattern.Kind    `json:"kinds"`
}

// EquityPoint 资金曲线采样，每根 K 线一条。
type EquityPoint struct {
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Drawdown float64 `json:"drawdown"` // 截至此刻的最大回撤
}

// Rejection 风控拒绝事件，正常结果而非错误。
type Rejection struct {
	TS     int64             `json:"ts"`
	Reason risk.RejectReason `json:"reason"`
	Dir    pattern.Direction `json:"direction"`
}

// Result 一次完整回测的产出。
type Result struct {
	Trades     []Trade            `json:"trades"`
	Equity     []EquityPoint      `json:"equity"`
	Patterns   []pattern.Instance `json:"patterns"`
	Rejections []Rejection        `json:"rejections"`
	Stats      RunStats           `json:"stats"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	Timeframe      string  `json:"timeframe"`
	StartTS        int64   `json:"start_ts" binding:"required"`
	EndTS          int64   `json:"end_ts" binding:"required"`
	InitialCapital float64  `json:"initial_capital"`
	Commission     *float64 `json:"commission"`
	SlippageBps    *float64 `json:"slippage_bps"`
}
