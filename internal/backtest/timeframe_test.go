package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, int64(3_600_000), tf.durationMillis())

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	start, end := tf.AlignRange(3_700_000, 11_000_000)
	assert.Equal(t, int64(3_600_000), start)
	assert.Equal(t, int64(10_800_000), end)

	// 顺序颠倒时自动交换
	start, end = tf.AlignRange(11_000_000, 3_700_000)
	assert.Equal(t, int64(3_600_000), start)
	assert.Equal(t, int64(10_800_000), end)
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tf.ExpectedCandles(0, 2*3_600_000))
	assert.Equal(t, int64(0), tf.ExpectedCandles(10, 0))
}

func TestPeriodsPerYear(t *testing.T) {
	day, err := ParseTimeframe("1d")
	require.NoError(t, err)
	assert.InDelta(t, 365, day.PeriodsPerYear(), 1e-9)

	hour, err := ParseTimeframe("1h")
	require.NoError(t, err)
	assert.InDelta(t, 8760, hour.PeriodsPerYear(), 1e-9)
}
