package pattern

import (
	"math"

	"ictagent/internal/market"
)

// detectOrderZones 寻找驱动行情（实体超过 ATR 倍数）之前的最后一段逆向 K 线，
// 作为机构挂单区。区间边界取起源 K 线的最高/最低。
func (d *Detector) detectOrderZones(candles []market.Candle, atr []float64) []Instance {
	if atr == nil || len(candles) < d.params.ATRPeriod+2 {
		return nil
	}
	out := make([]Instance, 0, 4)
	for i := d.params.ATRPeriod + 1; i < len(candles); i++ {
		ref := atr[i-1]
		if ref <= 0 {
			continue
		}
		bar := candles[i]
		ratio := bar.Body() / ref
		if ratio < d.params.DisplacementATR {
			continue
		}
		var dir Direction
		if bar.Bullish() {
			dir = DirectionUp
		} else if bar.Bearish() {
			dir = DirectionDown
		} else {
			continue
		}
		start, low, high, ok := d.originRun(candles, i, dir)
		if !ok {
			continue
		}
		out = append(out, Instance{
			Kind:         KindOrderZone,
			Direction:    dir,
			StartIdx:     start,
			EndIdx:       i,
			PriceLow:     low,
			PriceHigh:    high,
			Strength:     orderZoneStrength(ratio, d.params.DisplacementATR),
			MitigatedIdx: -1,
			Time:         bar.CloseTime,
		})
	}
	return out
}

// originRun 自位移 K 线向前收集逆向 K 线（最多 ZoneMaxBars 根）。
// 紧邻的前一根必须是逆向 K 线，否则不构成订单区。
func (d *Detector) originRun(candles []market.Candle, i int, dir Direction) (start int, low, high float64, ok bool) {
	opposing := func(c market.Candle) bool {
		if dir == DirectionUp {
			return c.Bearish()
		}
		return c.Bullish()
	}
	j := i - 1
	if j < 0 || !opposing(candles[j]) {
		return 0, 0, 0, false
	}
	low, high = candles[j].Low, candles[j].High
	start = j
	for count := 1; count < d.params.ZoneMaxBars; count++ {
		j--
		if j < 0 || !opposing(candles[j]) {
			break
		}
		low = math.Min(low, candles[j].Low)
		high = math.Max(high, candles[j].High)
		start = j
	}
	return start, low, high, true
}

// 基线强度随位移幅度增长；后续触碰在扫尾阶段另行加成。
func orderZoneStrength(ratio, threshold float64) float64 {
	return math.Min(0.4+(ratio-threshold)*0.1, 0.8)
}
