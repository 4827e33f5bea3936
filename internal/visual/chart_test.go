package visual

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/backtest"
	"ictagent/internal/market"
	"ictagent/internal/pattern"
)

func testCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	base := int64(1700000000000)
	for i := range candles {
		price := 100 + float64(i)
		candles[i] = market.Candle{
			OpenTime:  base + int64(i)*3600_000,
			CloseTime: base + int64(i+1)*3600_000 - 1,
			Open:      price,
			High:      price + 2,
			Low:       price - 2,
			Close:     price + 1,
			Volume:    10,
		}
	}
	return candles
}

func TestBuildHTMLContainsSeries(t *testing.T) {
	candles := testCandles(10)
	input := RunInput{
		Symbol:    "btcusdt",
		Timeframe: "1h",
		Candles:   candles,
		Patterns: []pattern.Instance{
			{Kind: pattern.KindGap, Direction: pattern.DirectionUp, StartIdx: 1, EndIdx: 3, PriceLow: 99, PriceHigh: 101},
			{Kind: pattern.KindOrderZone, Direction: pattern.DirectionDown, StartIdx: 2, EndIdx: 4, PriceLow: 104, PriceHigh: 106, Mitigated: true, MitigatedIdx: 7},
		},
		Trades: []backtest.Trade{
			{Direction: pattern.DirectionUp, EntryPrice: 102, ExitPrice: 108, EntryTime: candles[2].OpenTime, ExitTime: candles[8].OpenTime},
		},
		Equity: []backtest.EquityPoint{
			{TS: candles[0].CloseTime, Equity: 10000, Balance: 10000},
			{TS: candles[9].CloseTime, Equity: 10240, Balance: 10240},
		},
	}

	html, desc, err := BuildHTML(input)
	require.NoError(t, err)

	body := string(html)
	assert.Contains(t, body, "BTCUSDT 1h")
	assert.Contains(t, body, "gap")
	assert.Contains(t, body, "order_zone")
	assert.Contains(t, body, "Equity")
	assert.Contains(t, body, "Entry")
	assert.Contains(t, desc, "2 个形态")
	assert.Contains(t, desc, "收益 2.40%")
}

func TestBuildHTMLRequiresCandles(t *testing.T) {
	_, _, err := BuildHTML(RunInput{Symbol: "BTCUSDT"})
	require.Error(t, err)

	_, _, err = BuildHTML(RunInput{Candles: testCandles(3)})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "symbol"))
}

func TestRecentZones(t *testing.T) {
	instances := make([]pattern.Instance, 5)
	for i := range instances {
		instances[i] = pattern.Instance{Kind: pattern.KindGap, EndIdx: i}
	}
	assert.Len(t, recentZones(instances, 3), 3)
	assert.Equal(t, 2, recentZones(instances, 3)[0].EndIdx)
	assert.Len(t, recentZones(instances, 10), 5)
	assert.Nil(t, recentZones(nil, 3))
}

func TestBarIndexAt(t *testing.T) {
	candles := testCandles(4)
	i, ok := barIndexAt(candles, candles[2].OpenTime+5)
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = barIndexAt(candles, candles[3].CloseTime+10)
	assert.False(t, ok)
}

func TestBuildHTMLOverlaysEMALines(t *testing.T) {
	// 60 根足够 EMA21/EMA50 预热，EMA200 不足时应自动省略。
	input := RunInput{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Candles:   testCandles(60),
	}

	html, _, err := BuildHTML(input)
	require.NoError(t, err)

	body := string(html)
	assert.Contains(t, body, "EMA21")
	assert.Contains(t, body, "EMA50")
	assert.NotContains(t, body, "EMA200")
}

func TestBuildHTMLShortSeriesSkipsEMA(t *testing.T) {
	input := RunInput{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Candles:   testCandles(10),
	}

	html, _, err := BuildHTML(input)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "EMA21")
}

func TestToLineDataPadsWarmup(t *testing.T) {
	data := toLineData([]float64{0, 0, 1.23456, 2.5}, 4)
	require.Len(t, data, 4)
	assert.Nil(t, data[0].Value)
	assert.Nil(t, data[1].Value)
	assert.Equal(t, 1.2346, data[2].Value)
	assert.Equal(t, 2.5, data[3].Value)
}
