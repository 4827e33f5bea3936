package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"ictagent/internal/market"
)

// CSVSource 从本地 CSV 加载 K 线，离线回测用。
// 列格式：open_time_ms,open,high,low,close,volume（允许首行表头）。
type CSVSource struct {
	Path string
	Step int64 // 可选：行内无收盘时间时按周期推算
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Fetch 读取文件并过滤到 [start,end]。symbol 仅用于日志语义，不参与过滤。
func (s *CSVSource) Fetch(_ context.Context, _ string, tf Timeframe, start, end int64) ([]market.Candle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()

	step := s.Step
	if step <= 0 {
		step = tf.durationMillis()
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out []market.Candle
	for line := 0; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 CSV 第 %d 行失败: %w", line+1, err)
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("CSV 第 %d 行列数不足: %d", line+1, len(rec))
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 0 {
				continue // 表头
			}
			return nil, fmt.Errorf("CSV 第 %d 行时间戳非法: %w", line+1, err)
		}
		if ts < start || ts > end {
			continue
		}
		c := market.Candle{
			OpenTime:  ts,
			CloseTime: ts + step - 1,
			Open:      parseFloat(rec[1]),
			High:      parseFloat(rec[2]),
			Low:       parseFloat(rec[3]),
			Close:     parseFloat(rec[4]),
			Volume:    parseFloat(rec[5]),
		}
		out = append(out, c)
	}
	return out, nil
}
