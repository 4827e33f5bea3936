package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"ictagent/internal/market"
)

// Settings 描述计算指标所需的最小配置，零值字段按常用缺省补齐。
type Settings struct {
	EMA       EMASettings
	RSIPeriod int
	ATRPeriod int
	BBands    BBandSettings
	VolumeSMA int
}

// EMASettings 描述 EMA 指标参数。
type EMASettings struct {
	Fast int `json:"fast,omitempty"`
	Mid  int `json:"mid,omitempty"`
	Slow int `json:"slow,omitempty"`
}

// BBandSettings 描述布林带参数。
type BBandSettings struct {
	Period int     `json:"period,omitempty"`
	StdDev float64 `json:"std_dev,omitempty"`
}

// Value 保存单个指标的最新值与序列。
type Value struct {
	Latest float64   `json:"latest"`
	Series []float64 `json:"series,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// Report 汇总一段 K 线的指标输出，供形态扫描与信号合成读取。
type Report struct {
	Count    int              `json:"count"`
	Values   map[string]Value `json:"values"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Get 返回指定键的指标值，不存在时返回零值。
func (r Report) Get(key string) Value {
	if r.Values == nil {
		return Value{}
	}
	return r.Values[key]
}

func (s *Settings) applyDefaults() {
	if s.EMA.Fast <= 0 {
		s.EMA.Fast = 21
	}
	if s.EMA.Mid <= 0 {
		s.EMA.Mid = 50
	}
	if s.EMA.Slow <= 0 {
		s.EMA.Slow = 200
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.BBands.Period <= 0 {
		s.BBands.Period = 20
	}
	if s.BBands.StdDev <= 0 {
		s.BBands.StdDev = 2
	}
	if s.VolumeSMA <= 0 {
		s.VolumeSMA = 20
	}
}

// ComputeAll 计算常用指标并返回结构化报告。序列不足的指标记入 Warnings，
// 不视为错误（由上层决定是否可交易）。
func ComputeAll(candles []market.Candle, cfg Settings) (Report, error) {
	rep := Report{Count: len(candles), Values: make(map[string]Value)}
	if len(candles) == 0 {
		return rep, fmt.Errorf("no candles")
	}
	cfg.applyDefaults()

	closes := market.Closes(candles)
	volumes := market.Volumes(candles)

	emaDefs := []struct {
		key    string
		period int
	}{
		{"ema_fast", cfg.EMA.Fast},
		{"ema_mid", cfg.EMA.Mid},
		{"ema_slow", cfg.EMA.Slow},
	}
	for _, def := range emaDefs {
		if len(closes) < def.period {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: 需要 %d 根，仅有 %d 根", def.key, def.period, len(closes)))
			continue
		}
		series := sanitizeSeries(talib.Ema(closes, def.period))
		rep.Values[def.key] = Value{
			Latest: lastValid(series),
			Series: series,
			Note:   fmt.Sprintf("EMA%d", def.period),
		}
	}

	if len(closes) > cfg.RSIPeriod {
		series := sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod))
		rep.Values["rsi"] = Value{
			Latest: lastValid(series),
			Series: series,
			Note:   fmt.Sprintf("RSI%d", cfg.RSIPeriod),
		}
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("rsi: 需要 >%d 根，仅有 %d 根", cfg.RSIPeriod, len(closes)))
	}

	if atr := ATRSeries(candles, cfg.ATRPeriod); atr != nil {
		rep.Values["atr"] = Value{
			Latest: lastValid(atr),
			Series: atr,
			Note:   fmt.Sprintf("ATR%d", cfg.ATRPeriod),
		}
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("atr: 需要 >%d 根，仅有 %d 根", cfg.ATRPeriod, len(candles)))
	}

	if len(closes) >= cfg.BBands.Period {
		upper, middle, lower := talib.BBands(closes, cfg.BBands.Period, cfg.BBands.StdDev, cfg.BBands.StdDev, talib.SMA)
		rep.Values["bb_upper"] = Value{Latest: lastValid(sanitizeSeries(upper)), Series: sanitizeSeries(upper)}
		rep.Values["bb_middle"] = Value{Latest: lastValid(sanitizeSeries(middle)), Series: sanitizeSeries(middle)}
		rep.Values["bb_lower"] = Value{Latest: lastValid(sanitizeSeries(lower)), Series: sanitizeSeries(lower)}
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("bbands: 需要 %d 根，仅有 %d 根", cfg.BBands.Period, len(closes)))
	}

	if len(volumes) >= cfg.VolumeSMA {
		series := sanitizeSeries(talib.Sma(volumes, cfg.VolumeSMA))
		rep.Values["volume_sma"] = Value{
			Latest: lastValid(series),
			Series: series,
			Note:   fmt.Sprintf("VOL SMA%d", cfg.VolumeSMA),
		}
	}

	return rep, nil
}

// ATRSeries 返回 ATR 序列；数据不足返回 nil。形态与风控共用同一实现，
// 保证两边看到同一条 ATR。
func ATRSeries(candles []market.Candle, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	if len(candles) <= period {
		return nil
	}
	return sanitizeSeries(talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), period))
}

func sanitizeSeries(series []float64) []float64 {
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			series[i] = 0
		}
	}
	return series
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != 0 {
			return series[i]
		}
	}
	return 0
}
