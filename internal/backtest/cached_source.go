package backtest

import (
	"context"
	"fmt"
	"strings"

	"ictagent/internal/logger"
	"ictagent/internal/market"
)

// CachedSource 在远端数据源前加一层本地 sqlite 缓存：
// 区间完整直接读库，有缺口只补缺口，同一区间不会重复拉取。
type CachedSource struct {
	inner CandleSource
	store *CandleStore
}

func NewCachedSource(inner CandleSource, store *CandleStore) (*CachedSource, error) {
	if inner == nil {
		return nil, fmt.Errorf("candle source 不能为空")
	}
	if store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	return &CachedSource{inner: inner, store: store}, nil
}

func (s *CachedSource) Fetch(ctx context.Context, symbol string, tf Timeframe, start, end int64) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	report, err := s.store.CheckIntegrity(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	if !report.Complete() {
		logger.Debugf("[cache] %s %s 缺口 %d 个（%d/%d）", symbol, tf.Key, len(report.Gaps), report.Present, report.Expected)
	}
	for _, gap := range report.Gaps {
		data, err := s.inner.Fetch(ctx, symbol, tf, gap.From, gap.To)
		if err != nil {
			return nil, fmt.Errorf("补缺口 [%d,%d] 失败: %w", gap.From, gap.To, err)
		}
		if len(data) == 0 {
			// 远端没有这段数据（例如尚未收盘），留待下次再补。
			logger.Warnf("[cache] %s %s 缺口 [%d,%d] 拉取为空", symbol, tf.Key, gap.From, gap.To)
			continue
		}
		if _, err := s.store.InsertCandles(ctx, symbol, tf.Key, data); err != nil {
			return nil, fmt.Errorf("写入缓存失败: %w", err)
		}
	}
	return s.store.RangeCandles(ctx, symbol, tf.Key, start, end)
}
