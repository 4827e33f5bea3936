package config

import (
	"fmt"
	"strings"
	"time"

	"ictagent/internal/backtest"
	"ictagent/internal/pattern"
	"ictagent/internal/risk"
	"ictagent/internal/signal"
)

// Config 是 ictagent 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Pattern  PatternConfig  `toml:"pattern"`
	Signal   SignalConfig   `toml:"signal"`
	Risk     RiskConfig     `toml:"risk"`
	Backtest BacktestConfig `toml:"backtest"`
	Report   ReportConfig   `toml:"report"`
	Chart    ChartConfig    `toml:"chart"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	LogPath     string `toml:"log_path"`
	HTTPEnabled bool   `toml:"http_enabled"`
	HTTPAddr    string `toml:"http_addr"`
	DBPath      string `toml:"db_path"`
}

// DataConfig 描述 K 线来源。source 取 binance 或 csv。
type DataConfig struct {
	Source         string `toml:"source"`
	Symbol         string `toml:"symbol"`
	Timeframe      string `toml:"timeframe"`
	Start          string `toml:"start"` // RFC3339 或 2006-01-02
	End            string `toml:"end"`
	CSVPath        string `toml:"csv_path"`
	BinanceBaseURL string `toml:"binance_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// CacheDir 为远端 K 线的本地缓存目录，显式置空可关闭缓存。
	CacheDir string `toml:"cache_dir"`
}

// Range 解析起止时间为毫秒时间戳。
func (d DataConfig) Range() (startTS, endTS int64, err error) {
	start, err := parseTimeValue(d.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("data.start invalid: %w", err)
	}
	end, err := parseTimeValue(d.End)
	if err != nil {
		return 0, 0, fmt.Errorf("data.end invalid: %w", err)
	}
	return start.UnixMilli(), end.UnixMilli(), nil
}

func parseTimeValue(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

type PatternConfig struct {
	GapMinSize         float64 `toml:"gap_min_size"`
	DisplacementATR    float64 `toml:"displacement_atr"`
	ZoneMaxBars        int     `toml:"zone_max_bars"`
	LiquidityTolerance float64 `toml:"liquidity_tolerance"`
	NoiseThreshold     float64 `toml:"noise_threshold"`
	PivotLookback      int     `toml:"pivot_lookback"`
	MinTouches         int     `toml:"min_touches"`
	VolumeLookback     int     `toml:"volume_lookback"`
	ATRPeriod          int     `toml:"atr_period"`
}

// Params 零值字段由检测器按缺省补齐。
func (p PatternConfig) Params() pattern.Params {
	return pattern.Params{
		GapMinSize:         p.GapMinSize,
		DisplacementATR:    p.DisplacementATR,
		ZoneMaxBars:        p.ZoneMaxBars,
		LiquidityTolerance: p.LiquidityTolerance,
		NoiseThreshold:     p.NoiseThreshold,
		PivotLookback:      p.PivotLookback,
		MinTouches:         p.MinTouches,
		VolumeLookback:     p.VolumeLookback,
		ATRPeriod:          p.ATRPeriod,
	}
}

type SignalConfig struct {
	Proximity   float64            `toml:"proximity"`
	MinKinds    int                `toml:"min_kinds"`
	KindWeights map[string]float64 `toml:"kind_weights"`
}

func (s SignalConfig) Params() signal.Params {
	var weights map[pattern.Kind]float64
	if len(s.KindWeights) > 0 {
		weights = make(map[pattern.Kind]float64, len(s.KindWeights))
		for k, w := range s.KindWeights {
			weights[pattern.Kind(strings.ToLower(strings.TrimSpace(k)))] = w
		}
	}
	return signal.Params{
		Proximity:   s.Proximity,
		MinKinds:    s.MinKinds,
		KindWeights: weights,
	}
}

// RiskConfig 风险上限属于安全参数，零值不回退默认，由 validate 强校验。
type RiskConfig struct {
	RiskPerTrade      float64 `toml:"risk_per_trade"`
	MaxPositions      int     `toml:"max_positions"`
	PortfolioRiskCap  float64 `toml:"portfolio_risk_cap"`
	DailyLossLimit    float64 `toml:"daily_loss_limit"`
	MaxDrawdown       float64 `toml:"max_drawdown"`
	StopATRMultiplier float64 `toml:"stop_atr_multiplier"`
	TakeProfitRatio   float64 `toml:"take_profit_ratio"`
	MinRewardRisk     float64 `toml:"min_reward_risk"`
	KellyEnabled      bool    `toml:"kelly_enabled"`
	MaxKellyFraction  float64 `toml:"max_kelly_fraction"`
}

func (r RiskConfig) Params() risk.Params {
	return risk.Params{
		RiskPerTrade:      r.RiskPerTrade,
		MaxPositions:      r.MaxPositions,
		PortfolioRiskCap:  r.PortfolioRiskCap,
		DailyLossLimit:    r.DailyLossLimit,
		MaxDrawdown:       r.MaxDrawdown,
		StopATRMultiplier: r.StopATRMultiplier,
		TakeProfitRatio:   r.TakeProfitRatio,
		MinRewardRisk:     r.MinRewardRisk,
		KellyEnabled:      r.KellyEnabled,
		MaxKellyFraction:  r.MaxKellyFraction,
	}
}

type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
	Commission     float64 `toml:"commission"`
	SlippageBps    float64 `toml:"slippage_bps"`
	MaxConcurrent  int     `toml:"max_concurrent"`
	Notes          string  `toml:"notes"`
}

type ReportConfig struct {
	VaRConfidence float64 `toml:"var_confidence"`
}

type ChartConfig struct {
	Enabled   bool   `toml:"enabled"`
	OutputDir string `toml:"output_dir"`
}

// RunConfig 拼装一份完整的回测配置。
func (c *Config) RunConfig() (backtest.RunConfig, error) {
	startTS, endTS, err := c.Data.Range()
	if err != nil {
		return backtest.RunConfig{}, err
	}
	return backtest.RunConfig{
		Symbol:         strings.ToUpper(strings.TrimSpace(c.Data.Symbol)),
		Timeframe:      c.Data.Timeframe,
		StartTS:        startTS,
		EndTS:          endTS,
		InitialCapital: c.Backtest.InitialCapital,
		Commission:     c.Backtest.Commission,
		SlippageBps:    c.Backtest.SlippageBps,
		Pattern:        c.Pattern.Params(),
		Signal:         c.Signal.Params(),
		Risk:           c.Risk.Params(),
		Notes:          c.Backtest.Notes,
	}, nil
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
