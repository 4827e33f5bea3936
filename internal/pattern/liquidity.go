package pattern

import (
	"ictagent/internal/market"
)

// pivotHighs 返回左侧不低于、右侧严格高于的摆动高点下标。
// 左侧允许相等，等高序列取首个，便于把等高挂单簇归并为一个水平。
func pivotHighs(candles []market.Candle, w int) []int {
	var out []int
	for i := w; i < len(candles)-w; i++ {
		h := candles[i].High
		ok := true
		for j := i - w; j < i && ok; j++ {
			if candles[j].High > h {
				ok = false
			}
		}
		for j := i + 1; j <= i+w && ok; j++ {
			if candles[j].High >= h {
				ok = false
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// pivotLows 与 pivotHighs 对称。
func pivotLows(candles []market.Candle, w int) []int {
	var out []int
	for i := w; i < len(candles)-w; i++ {
		l := candles[i].Low
		ok := true
		for j := i - w; j < i && ok; j++ {
			if candles[j].Low < l {
				ok = false
			}
		}
		for j := i + 1; j <= i+w && ok; j++ {
			if candles[j].Low <= l {
				ok = false
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// detectLiquidityLevels 把摆动高/低点登记为候选流动性水平。
// 触碰计数与失效判定在扫尾阶段完成，Touches 不足的候选在那里被剔除。
// 同向且价位落在容差内的邻近水平只保留最早的一个。
func (d *Detector) detectLiquidityLevels(candles []market.Candle) []Instance {
	w := d.params.PivotLookback
	if len(candles) < 2*w+1 {
		return nil
	}
	out := make([]Instance, 0, 8)
	appendLevel := func(idx int, level float64, dir Direction) {
		for _, existing := range out {
			if existing.Direction != dir {
				continue
			}
			ref := existing.Level()
			if ref > 0 && abs(level-ref)/ref <= d.params.LiquidityTolerance {
				return
			}
		}
		out = append(out, Instance{
			Kind:      KindLiquidityLevel,
			Direction: dir,
			StartIdx:  idx,
			EndIdx:    idx + w, // 右侧窗口确认后才存在
			PriceLow:  level,
			PriceHigh: level,
			// 强度由触碰次数决定，在扫尾阶段回填
			MitigatedIdx: -1,
			Time:         candles[idx+w].CloseTime,
		})
	}
	for _, i := range pivotHighs(candles, w) {
		appendLevel(i, candles[i].High, DirectionDown)
	}
	for _, i := range pivotLows(candles, w) {
		appendLevel(i, candles[i].Low, DirectionUp)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
