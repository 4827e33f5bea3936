package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkCandle(ts int64, o, h, l, c float64) Candle {
	return Candle{OpenTime: ts, CloseTime: ts + 3599999, Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func TestValidateSeries(t *testing.T) {
	valid := []Candle{
		mkCandle(1000, 100, 105, 99, 104),
		mkCandle(2000, 104, 108, 103, 107),
		mkCandle(3000, 107, 110, 106, 109),
	}
	require.NoError(t, ValidateSeries(valid))

	assert.ErrorIs(t, ValidateSeries(nil), ErrEmptySeries)

	outOfOrder := []Candle{
		mkCandle(2000, 100, 105, 99, 104),
		mkCandle(1000, 104, 108, 103, 107),
	}
	assert.ErrorIs(t, ValidateSeries(outOfOrder), ErrSeriesOrder)

	duplicated := []Candle{
		mkCandle(1000, 100, 105, 99, 104),
		mkCandle(1000, 104, 108, 103, 107),
	}
	assert.ErrorIs(t, ValidateSeries(duplicated), ErrSeriesOrder)

	badEnvelope := []Candle{
		{OpenTime: 1000, Open: 100, High: 99, Low: 98, Close: 100},
	}
	assert.ErrorIs(t, ValidateSeries(badEnvelope), ErrBadCandle)
}

func TestSeriesExtraction(t *testing.T) {
	candles := []Candle{
		mkCandle(1000, 100, 105, 99, 104),
		mkCandle(2000, 104, 108, 103, 107),
	}
	assert.Equal(t, []float64{104, 107}, Closes(candles))
	assert.Equal(t, []float64{105, 108}, Highs(candles))
	assert.Equal(t, []float64{99, 103}, Lows(candles))
	assert.Equal(t, []float64{100, 100}, Volumes(candles))
}

func TestCandleHelpers(t *testing.T) {
	bull := mkCandle(1000, 100, 106, 99, 105)
	assert.True(t, bull.Bullish())
	assert.False(t, bull.Bearish())
	assert.InDelta(t, 7.0, bull.Range(), 1e-9)
	assert.InDelta(t, 5.0, bull.Body(), 1e-9)

	bear := mkCandle(2000, 105, 106, 99, 100)
	assert.True(t, bear.Bearish())
	assert.InDelta(t, 5.0, bear.Body(), 1e-9)
}
