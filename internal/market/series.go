package market

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySeries 表示输入序列为空。
	ErrEmptySeries = errors.New("candle series is empty")
	// ErrSeriesOrder 表示时间戳未严格递增。
	ErrSeriesOrder = errors.New("candle timestamps are not strictly increasing")
	// ErrBadCandle 表示单根 K 线违反 low<=open/close<=high 约束。
	ErrBadCandle = errors.New("candle violates OHLC envelope")
)

// ValidateSeries 校验整条序列的数据契约：非空、时间严格递增、OHLC 包络成立。
// 校验失败属于输入错误，调用方应当中止本次运行。
func ValidateSeries(candles []Candle) error {
	if len(candles) == 0 {
		return ErrEmptySeries
	}
	var prev int64
	for i, c := range candles {
		if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close || c.Low > c.High {
			return fmt.Errorf("%w: index=%d open=%.8f high=%.8f low=%.8f close=%.8f",
				ErrBadCandle, i, c.Open, c.High, c.Low, c.Close)
		}
		if i > 0 && c.OpenTime <= prev {
			return fmt.Errorf("%w: index=%d open_time=%d prev=%d", ErrSeriesOrder, i, c.OpenTime, prev)
		}
		prev = c.OpenTime
	}
	return nil
}
