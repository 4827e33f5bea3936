package report

import (
	"fmt"
	"math"
	"strings"
)

const lineWidth = 58

// Format 渲染固定宽度的文本报告，供终端输出或推送。
func (r *Report) Format() string {
	var b strings.Builder
	top := "╔" + strings.Repeat("═", lineWidth) + "╗\n"
	sep := "╠" + strings.Repeat("═", lineWidth) + "╣\n"
	bottom := "╚" + strings.Repeat("═", lineWidth) + "╝\n"

	b.WriteString(top)
	writeCentered(&b, "BACKTEST PERFORMANCE REPORT")
	b.WriteString(sep)

	s := r.Summary
	writeRow(&b, "Total Trades", fmt.Sprintf("%d (%d W / %d L)", s.TotalTrades, s.Wins, s.Losses))
	writeRow(&b, "Win Rate", fmt.Sprintf("%.2f%%", s.WinRate*100))
	writeRow(&b, "Net Profit", fmt.Sprintf("%.2f (%.2f%%)", s.NetProfit, s.ReturnPct*100))
	writeRow(&b, "Profit Factor", formatRatio(s.ProfitFactor))
	writeRow(&b, "Expectancy", fmt.Sprintf("%.2f", s.Expectancy))
	writeRow(&b, "Avg Win / Avg Loss", fmt.Sprintf("%.2f / %.2f", s.AvgWin, s.AvgLoss))
	writeRow(&b, "Best / Worst", fmt.Sprintf("%.2f / %.2f", s.BestTrade, s.WorstTrade))
	writeRow(&b, "Avg Holding", s.AvgHolding.String())

	b.WriteString(sep)
	writeRow(&b, "Sharpe Ratio", fmt.Sprintf("%.2f", r.Risk.Sharpe))
	writeRow(&b, "Sortino Ratio", formatRatio(r.Risk.Sortino))
	writeRow(&b, "Max Drawdown", fmt.Sprintf("%.2f%%", r.Risk.MaxDrawdown*100))
	writeRow(&b, "Volatility (ann.)", fmt.Sprintf("%.2f%%", r.Risk.Volatility*100))
	writeRow(&b, "VaR", fmt.Sprintf("%.2f%%", r.Risk.VaR*100))

	b.WriteString(sep)
	writeRow(&b, "Max Win Streak", fmt.Sprintf("%d", r.Streaks.MaxWins))
	writeRow(&b, "Max Loss Streak", fmt.Sprintf("%d", r.Streaks.MaxLosses))
	writeRow(&b, "Current Streak", fmt.Sprintf("%+d", r.Streaks.Current))

	writeGroup(&b, sep, "MONTHLY", r.Monthly)
	writeGroup(&b, sep, "BY PATTERN", r.ByKind)
	writeGroup(&b, sep, "BY DIRECTION", r.ByDirection)

	b.WriteString(bottom)
	return b.String()
}

func writeGroup(b *strings.Builder, sep, title string, stats []PeriodStat) {
	if len(stats) == 0 {
		return
	}
	b.WriteString(sep)
	writeCentered(b, title)
	for _, st := range stats {
		writeRow(b, st.Key, fmt.Sprintf("%3d trades  %8.2f  %5.1f%%", st.Trades, st.PnL, st.WinRate*100))
	}
}

func writeRow(b *strings.Builder, label, value string) {
	content := fmt.Sprintf(" %-20s %s", label, value)
	writeLine(b, content)
}

func writeCentered(b *strings.Builder, text string) {
	pad := (lineWidth - len([]rune(text))) / 2
	if pad < 0 {
		pad = 0
	}
	writeLine(b, strings.Repeat(" ", pad)+text)
}

func writeLine(b *strings.Builder, content string) {
	runes := []rune(content)
	if len(runes) > lineWidth {
		runes = runes[:lineWidth]
	}
	b.WriteString("║")
	b.WriteString(string(runes))
	b.WriteString(strings.Repeat(" ", lineWidth-len(runes)))
	b.WriteString("║\n")
}

func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}
