package pattern

import (
	"math"

	"ictagent/internal/market"
)

type swingRef struct {
	idx   int
	price float64
}

// detectStructureBreaks 维护滚动确认的摆动高/低点，收盘越过顺势摆动记为
// BOS，越过逆势摆动记为 CHoCH 并翻转趋势。摆动点在右侧窗口走完后才参与
// 判定，避免前视。
func (d *Detector) detectStructureBreaks(candles []market.Candle) []Instance {
	w := d.params.PivotLookback
	if len(candles) < 2*w+2 {
		return nil
	}

	confirmHigh := make(map[int]swingRef) // confirmIdx -> swing
	confirmLow := make(map[int]swingRef)
	for _, i := range pivotHighs(candles, w) {
		confirmHigh[i+w] = swingRef{idx: i, price: candles[i].High}
	}
	for _, i := range pivotLows(candles, w) {
		confirmLow[i+w] = swingRef{idx: i, price: candles[i].Low}
	}

	var (
		out        []Instance
		curHigh    swingRef
		curLow     swingRef
		hasHigh    bool
		hasLow     bool
		brokenHigh bool
		brokenLow  bool
		trend      Direction // 零值表示尚无趋势
	)

	for t := 0; t < len(candles); t++ {
		if s, ok := confirmHigh[t]; ok {
			curHigh, hasHigh, brokenHigh = s, true, false
		}
		if s, ok := confirmLow[t]; ok {
			curLow, hasLow, brokenLow = s, true, false
		}
		close := candles[t].Close

		if hasHigh && !brokenHigh && close > curHigh.price {
			choch := trend == DirectionDown
			out = append(out, Instance{
				Kind:              KindStructureBreak,
				Direction:         DirectionUp,
				StartIdx:          curHigh.idx,
				EndIdx:            t,
				PriceLow:          curHigh.price,
				PriceHigh:         curHigh.price,
				Strength:          breakStrength(close, curHigh.price, choch),
				ChangeOfCharacter: choch,
				MitigatedIdx:      -1,
				Time:              candles[t].CloseTime,
			})
			brokenHigh = true
			trend = DirectionUp
		}
		if hasLow && !brokenLow && close < curLow.price {
			choch := trend == DirectionUp
			out = append(out, Instance{
				Kind:              KindStructureBreak,
				Direction:         DirectionDown,
				StartIdx:          curLow.idx,
				EndIdx:            t,
				PriceLow:          curLow.price,
				PriceHigh:         curLow.price,
				Strength:          breakStrength(close, curLow.price, choch),
				ChangeOfCharacter: choch,
				MitigatedIdx:      -1,
				Time:              candles[t].CloseTime,
			})
			brokenLow = true
			trend = DirectionDown
		}
	}
	return out
}

func breakStrength(close, level float64, choch bool) float64 {
	base := 0.5
	if choch {
		base = 0.6
	}
	if level <= 0 {
		return base
	}
	magnitude := math.Abs(close-level) / level
	return math.Min(base+magnitude*10, 1)
}
