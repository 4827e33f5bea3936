package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/market"
)

func newTestCandleStore(t *testing.T) *CandleStore {
	t.Helper()
	store, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func hourCandles(start int64, n int) []market.Candle {
	const step = int64(3_600_000)
	out := make([]market.Candle, n)
	for i := range out {
		ts := start + int64(i)*step
		price := 100 + float64(i)
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts + step - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    10,
			Trades:    5,
		}
	}
	return out
}

func TestCandleStoreRoundtrip(t *testing.T) {
	store := newTestCandleStore(t)
	ctx := context.Background()
	candles := hourCandles(3_600_000, 6)

	n, err := store.InsertCandles(ctx, "btcusdt", "1h", candles)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", candles[0].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, candles, got)

	m, err := store.Manifest(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, int64(6), m.Rows)
	assert.Equal(t, candles[0].OpenTime, m.MinTime)
	assert.Equal(t, candles[5].OpenTime, m.MaxTime)
}

func TestCandleStoreUpsertOverwrites(t *testing.T) {
	store := newTestCandleStore(t)
	ctx := context.Background()
	candles := hourCandles(3_600_000, 2)

	_, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	revised := candles[1]
	revised.Close = 999
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", []market.Candle{revised})
	require.NoError(t, err)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", candles[0].OpenTime, candles[1].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(999), got[1].Close)

	m, err := store.Manifest(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Rows)
}

func TestCheckIntegrityReportsGaps(t *testing.T) {
	store := newTestCandleStore(t)
	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	candles := hourCandles(3_600_000, 8)
	// 只写入第 0、1、4、7 根，留出 [2,3] 与 [5,6] 两个缺口。
	partial := []market.Candle{candles[0], candles[1], candles[4], candles[7]}
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", partial)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", tf, candles[0].OpenTime, candles[7].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, int64(8), report.Expected)
	assert.Equal(t, int64(4), report.Present)
	assert.False(t, report.Complete())
	require.Len(t, report.Gaps, 2)
	assert.Equal(t, Gap{From: candles[2].OpenTime, To: candles[3].OpenTime}, report.Gaps[0])
	assert.Equal(t, Gap{From: candles[5].OpenTime, To: candles[6].OpenTime}, report.Gaps[1])
}

func TestCheckIntegrityComplete(t *testing.T) {
	store := newTestCandleStore(t)
	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	candles := hourCandles(3_600_000, 4)
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", tf, candles[0].OpenTime, candles[3].OpenTime)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, report.Expected, report.Present)
}

// countingSource 记录每次被请求的区间，返回自身数据集中落在区间内的 K 线。
type countingSource struct {
	data  []market.Candle
	calls []Gap
}

func (s *countingSource) Fetch(ctx context.Context, symbol string, tf Timeframe, start, end int64) ([]market.Candle, error) {
	s.calls = append(s.calls, Gap{From: start, To: end})
	var out []market.Candle
	for _, c := range s.data {
		if c.OpenTime >= start && c.OpenTime <= end {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestCachedSourceFetchesOnceThenServesFromCache(t *testing.T) {
	store := newTestCandleStore(t)
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	candles := hourCandles(3_600_000, 6)
	inner := &countingSource{data: candles}
	src, err := NewCachedSource(inner, store)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := src.Fetch(ctx, "BTCUSDT", tf, candles[0].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, candles, first)
	assert.Len(t, inner.calls, 1)

	second, err := src.Fetch(ctx, "BTCUSDT", tf, candles[0].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// 区间已完整，第二次不再访问远端。
	assert.Len(t, inner.calls, 1)
}

func TestCachedSourceFillsOnlyGaps(t *testing.T) {
	store := newTestCandleStore(t)
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	candles := hourCandles(3_600_000, 6)
	ctx := context.Background()
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", candles[:3])
	require.NoError(t, err)

	inner := &countingSource{data: candles}
	src, err := NewCachedSource(inner, store)
	require.NoError(t, err)

	got, err := src.Fetch(ctx, "BTCUSDT", tf, candles[0].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, candles, got)
	require.Len(t, inner.calls, 1)
	assert.Equal(t, Gap{From: candles[3].OpenTime, To: candles[5].OpenTime}, inner.calls[0])
}

func TestCachedSourceSubRangeAfterFullFetch(t *testing.T) {
	store := newTestCandleStore(t)
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	candles := hourCandles(3_600_000, 6)
	inner := &countingSource{data: candles}
	src, err := NewCachedSource(inner, store)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = src.Fetch(ctx, "BTCUSDT", tf, candles[0].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)

	sub, err := src.Fetch(ctx, "BTCUSDT", tf, candles[1].OpenTime, candles[3].OpenTime)
	require.NoError(t, err)
	assert.Equal(t, candles[1:4], sub)
	assert.Len(t, inner.calls, 1)
}
