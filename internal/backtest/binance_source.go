package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"ictagent/internal/logger"
	"ictagent/internal/market"
)

const binancePageLimit = 1500

// BinanceSource 基于 go-binance 合约 REST 接口分页拉取历史 K 线。
// 只读行情接口，无需鉴权。
type BinanceSource struct {
	client *futures.Client
}

type BinanceConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

// Fetch 按周期分页拉取 [start,end] 的已收盘 K 线。
func (s *BinanceSource) Fetch(ctx context.Context, symbol string, tf Timeframe, start, end int64) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if end < start {
		start, end = end, start
	}
	step := tf.durationMillis()
	out := make([]market.Candle, 0, tf.ExpectedCandles(start, end))
	cursor := start
	for cursor <= end {
		kls, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(tf.SourceInterval).
			StartTime(cursor).
			EndTime(end).
			Limit(binancePageLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("拉取 %s %s K 线失败: %w", symbol, tf.Key, err)
		}
		if len(kls) == 0 {
			break
		}
		for _, kl := range kls {
			if kl == nil || kl.OpenTime < cursor {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
				Trades:    kl.TradeNum,
			})
		}
		last := kls[len(kls)-1].OpenTime
		next := last + step
		if next <= cursor {
			break
		}
		cursor = next
		if len(kls) < binancePageLimit {
			break
		}
	}
	out = dropUnclosed(out, time.Now().UnixMilli())
	logger.Debugf("[binance] %s %s 拉取 %d 条", symbol, tf.Key, len(out))
	return out, nil
}

// dropUnclosed 丢弃尚未收盘的最后一根。
func dropUnclosed(candles []market.Candle, nowMs int64) []market.Candle {
	for len(candles) > 0 && candles[len(candles)-1].CloseTime >= nowMs {
		candles = candles[:len(candles)-1]
	}
	return candles
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
