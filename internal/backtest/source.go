package backtest

import (
	"context"

	"ictagent/internal/market"
)

// CandleSource 历史 K 线提供方。实现负责返回 [start,end] 内按
// OpenTime 升序的已收盘 K 线；范围内无数据返回空切片而非错误。
type CandleSource interface {
	Fetch(ctx context.Context, symbol string, tf Timeframe, start, end int64) ([]market.Candle, error)
}
