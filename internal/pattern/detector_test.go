package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/market"
)

func bar(i int, o, h, l, c, v float64) market.Candle {
	return market.Candle{
		OpenTime:  int64(i) * 60_000,
		CloseTime: int64(i+1)*60_000 - 1,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		Trades:    10,
	}
}

func TestDetectBullishGap(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 101, 99, 100, 1000),
		bar(1, 100, 106, 100, 106, 1000),
		bar(2, 105, 107, 103, 106, 1000),
	}
	got := NewDetector(Params{}).Detect(candles)
	require.Len(t, got, 1)

	in := got[0]
	assert.Equal(t, KindGap, in.Kind)
	assert.Equal(t, DirectionUp, in.Direction)
	assert.Equal(t, 0, in.StartIdx)
	assert.Equal(t, 2, in.EndIdx)
	assert.Equal(t, 101.0, in.PriceLow)
	assert.Equal(t, 103.0, in.PriceHigh)
	assert.Greater(t, in.Strength, 0.0)
	assert.LessOrEqual(t, in.Strength, 1.0)
	assert.False(t, in.Mitigated)
	assert.Equal(t, -1, in.MitigatedIdx)
}

func TestDetectGapBelowMinSize(t *testing.T) {
	// 缺口相对宽度 0.0005，低于缺省阈值 0.001
	candles := []market.Candle{
		bar(0, 100, 100, 99, 100, 1000),
		bar(1, 100, 100.2, 100, 100.2, 1000),
		bar(2, 100.1, 100.3, 100.05, 100.2, 1000),
	}
	got := NewDetector(Params{}).Detect(candles)
	assert.Empty(t, got)
}

func TestGapTouchThenMitigation(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 101, 99, 100, 1000),
		bar(1, 100, 106, 100, 106, 1000),
		bar(2, 105, 107, 103, 106, 1000),
		bar(3, 106, 106.5, 102, 105, 1000), // 回踩区间上沿，收盘未破
		bar(4, 105, 105, 94, 95, 1000),     // 收盘跌穿区间下沿
	}
	d := NewDetector(Params{})

	got := d.Detect(candles)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Touches)
	assert.True(t, got[0].Mitigated)
	assert.Equal(t, 4, got[0].MitigatedIdx)

	// 只看前 4 根时同一实例尚未失效：失效状态单调且不前视
	prefix := d.Detect(candles[:4])
	require.Len(t, prefix, 1)
	assert.Equal(t, got[0].StartIdx, prefix[0].StartIdx)
	assert.Equal(t, got[0].EndIdx, prefix[0].EndIdx)
	assert.Equal(t, 1, prefix[0].Touches)
	assert.False(t, prefix[0].Mitigated)
}

func TestDetectDeterministic(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 101, 99, 100, 1000),
		bar(1, 100, 106, 100, 106, 1500),
		bar(2, 105, 107, 103, 106, 1200),
		bar(3, 106, 106.5, 102, 105, 900),
	}
	d := NewDetector(Params{})
	first := d.Detect(candles)
	second := d.Detect(candles)
	assert.Equal(t, first, second)
}

func TestDetectLiquidityLevelTouches(t *testing.T) {
	highs := []float64{100, 101, 110, 102, 101, 109.9, 103, 109.8, 101, 100, 100}
	lows := []float64{99, 96, 90, 95, 94, 93, 96, 95, 97, 94, 95}
	candles := make([]market.Candle, len(highs))
	for i := range highs {
		mid := (highs[i] + lows[i]) / 2
		candles[i] = bar(i, mid, highs[i], lows[i], mid, 1000)
	}
	got := NewDetector(Params{PivotLookback: 2, MinTouches: 2}).Detect(candles)

	var levels []Instance
	for _, in := range got {
		if in.Kind == KindLiquidityLevel {
			levels = append(levels, in)
		}
	}
	require.Len(t, levels, 1)

	lvl := levels[0]
	assert.Equal(t, DirectionDown, lvl.Direction)
	assert.Equal(t, 110.0, lvl.Level())
	assert.Equal(t, 2, lvl.Touches)
	assert.InDelta(t, 0.2, lvl.Strength, 1e-9)
	assert.False(t, lvl.Mitigated)
}

func TestDetectStructureBreaks(t *testing.T) {
	highs := []float64{100, 101, 105, 102, 101, 107, 106, 105, 104, 95}
	lows := []float64{98, 99, 100, 99, 95, 101, 102, 94, 93, 90}
	closes := []float64{99, 100, 104, 100, 99, 106, 103, 94, 93, 92}
	opens := []float64{99.5, 99.5, 101, 101, 100, 106.9, 104, 95, 94, 93}
	candles := make([]market.Candle, len(highs))
	for i := range highs {
		candles[i] = bar(i, opens[i], highs[i], lows[i], closes[i], 1000)
	}
	got := NewDetector(Params{PivotLookback: 2}).Detect(candles)

	var breaks []Instance
	for _, in := range got {
		if in.Kind == KindStructureBreak {
			breaks = append(breaks, in)
		}
	}
	require.Len(t, breaks, 2)

	up := breaks[0]
	assert.Equal(t, DirectionUp, up.Direction)
	assert.Equal(t, 5, up.EndIdx)
	assert.Equal(t, 105.0, up.Level())
	assert.False(t, up.ChangeOfCharacter) // 此前无趋势，不算转势

	down := breaks[1]
	assert.Equal(t, DirectionDown, down.Direction)
	assert.Equal(t, 7, down.EndIdx)
	assert.Equal(t, 95.0, down.Level())
	assert.True(t, down.ChangeOfCharacter) // 上升趋势中跌破摆动低点
	assert.Greater(t, down.Strength, up.Strength)
}

func TestDetectOrderZone(t *testing.T) {
	candles := make([]market.Candle, 0, 20)
	for i := 0; i < 17; i++ {
		if i%2 == 0 {
			candles = append(candles, bar(i, 99.8, 100.5, 99.5, 100.2, 1000))
		} else {
			candles = append(candles, bar(i, 100.2, 100.5, 99.5, 99.8, 1000))
		}
	}
	candles = append(candles, bar(17, 100.5, 100.8, 99.8, 100, 1000)) // 起源 K 线（收阴）
	candles = append(candles, bar(18, 100, 104.2, 99.9, 104, 3000))   // 位移 K 线
	candles = append(candles, bar(19, 104, 104.3, 103.5, 103.8, 800))

	got := NewDetector(Params{}).Detect(candles)

	var zones []Instance
	for _, in := range got {
		if in.Kind == KindOrderZone {
			zones = append(zones, in)
		}
	}
	require.Len(t, zones, 1)

	z := zones[0]
	assert.Equal(t, DirectionUp, z.Direction)
	assert.Equal(t, 17, z.StartIdx)
	assert.Equal(t, 18, z.EndIdx)
	assert.Equal(t, 99.8, z.PriceLow)
	assert.Equal(t, 100.8, z.PriceHigh)
	assert.GreaterOrEqual(t, z.Strength, 0.4)
	assert.LessOrEqual(t, z.Strength, 0.8)
	assert.False(t, z.Mitigated)
}

func TestDetectShortSeries(t *testing.T) {
	d := NewDetector(Params{})
	assert.Empty(t, d.Detect(nil))
	assert.Empty(t, d.Detect([]market.Candle{bar(0, 100, 101, 99, 100, 1000)}))
}

func TestActive(t *testing.T) {
	instances := []Instance{
		{Kind: KindGap, Direction: DirectionUp, PriceLow: 99, PriceHigh: 101},
		{Kind: KindGap, Direction: DirectionUp, PriceLow: 99, PriceHigh: 101, Mitigated: true},
		{Kind: KindLiquidityLevel, Direction: DirectionDown, PriceLow: 150, PriceHigh: 150},
	}
	got := Active(instances, 100, 0.02)
	require.Len(t, got, 1)
	assert.Equal(t, KindGap, got[0].Kind)
}
