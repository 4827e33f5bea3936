package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/market"
)

func trendingCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 3600_000,
			CloseTime: int64(i+2)*3600_000 - 1,
			Open:      price,
			High:      price + step + 0.5,
			Low:       price - 0.5,
			Close:     price + step,
			Volume:    1000,
		}
		price += step
	}
	return out
}

func TestComputeAllEmpty(t *testing.T) {
	_, err := ComputeAll(nil, Settings{})
	assert.Error(t, err)
}

func TestComputeAllShortSeriesDegrades(t *testing.T) {
	rep, err := ComputeAll(trendingCandles(5, 100, 1), Settings{})
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Warnings)
	assert.Zero(t, rep.Get("ema_slow").Latest)
}

func TestComputeAllTrending(t *testing.T) {
	candles := trendingCandles(250, 100, 1)
	rep, err := ComputeAll(candles, Settings{})
	require.NoError(t, err)

	last := candles[len(candles)-1].Close
	emaFast := rep.Get("ema_fast").Latest
	emaSlow := rep.Get("ema_slow").Latest
	require.NotZero(t, emaFast)
	require.NotZero(t, emaSlow)
	// 持续上涨时快线贴近价格且高于慢线
	assert.Greater(t, emaFast, emaSlow)
	assert.Less(t, math.Abs(last-emaFast), math.Abs(last-emaSlow))

	rsi := rep.Get("rsi").Latest
	assert.Greater(t, rsi, 50.0)
	assert.LessOrEqual(t, rsi, 100.0)

	atr := rep.Get("atr").Latest
	assert.Greater(t, atr, 0.0)

	assert.Greater(t, rep.Get("bb_upper").Latest, rep.Get("bb_lower").Latest)
	assert.InDelta(t, 1000, rep.Get("volume_sma").Latest, 1e-6)
}

func TestATRSeriesInsufficient(t *testing.T) {
	assert.Nil(t, ATRSeries(trendingCandles(10, 100, 1), 14))
}
