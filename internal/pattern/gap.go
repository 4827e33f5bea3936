package pattern

import (
	"math"

	"ictagent/internal/market"
)

// detectGaps 扫描三根结构的价格真空（Fair Value Gap）。
// 看涨：bar[i-2] 的最高价低于 bar[i] 的最低价，且中间一根收阳；看跌对称。
func (d *Detector) detectGaps(candles []market.Candle) []Instance {
	if len(candles) < 3 {
		return nil
	}
	out := make([]Instance, 0, 4)
	for i := 2; i < len(candles); i++ {
		left := candles[i-2]
		mid := candles[i-1]
		right := candles[i]

		if left.High < right.Low && mid.Bullish() {
			size := (right.Low - left.High) / left.High
			if size >= d.params.GapMinSize {
				out = append(out, Instance{
					Kind:         KindGap,
					Direction:    DirectionUp,
					StartIdx:     i - 2,
					EndIdx:       i,
					PriceLow:     left.High,
					PriceHigh:    right.Low,
					Strength:     d.gapStrength(candles, i, size),
					MitigatedIdx: -1,
					Time:         right.CloseTime,
				})
			}
		} else if left.Low > right.High && mid.Bearish() {
			size := (left.Low - right.High) / right.High
			if size >= d.params.GapMinSize {
				out = append(out, Instance{
					Kind:         KindGap,
					Direction:    DirectionDown,
					StartIdx:     i - 2,
					EndIdx:       i,
					PriceLow:     right.High,
					PriceHigh:    left.Low,
					Strength:     d.gapStrength(candles, i, size),
					MitigatedIdx: -1,
					Time:         right.CloseTime,
				})
			}
		}
	}
	return out
}

// gapStrength 的基线来自缺口相对大小，中间 K 线放量与近期动量各给加成。
func (d *Detector) gapStrength(candles []market.Candle, i int, size float64) float64 {
	strength := math.Min(size*100, 0.5)

	mid := i - 1
	if mid >= d.params.VolumeLookback {
		var sum float64
		for j := mid - d.params.VolumeLookback; j < mid; j++ {
			sum += candles[j].Volume
		}
		avg := sum / float64(d.params.VolumeLookback)
		if avg > 0 && candles[mid].Volume > avg*1.5 {
			strength += 0.2
		}
	}

	if i >= 3 {
		base := candles[i-3].Close
		if base > 0 {
			momentum := (candles[i].Close - base) / base
			strength += math.Abs(momentum) * 5
		}
	}
	return math.Min(strength, 1)
}
