package config

import "strings"

// 默认值常量。风险上限类参数没有默认值，必须显式配置。
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "data/logs/ictagent.log"
	defaultAppDBPath   = "data/db"

	defaultDataSource    = "binance"
	defaultDataSymbol    = "BTCUSDT"
	defaultDataTimeframe = "1h"
	defaultDataTimeout   = 15
	defaultDataCacheDir  = "data/cache"

	defaultBacktestCapital    = 10000
	defaultBacktestConcurrent = 2

	defaultRiskStopATR  = 1.5
	defaultRiskTPRatio  = 2.0
	defaultRiskMinRR    = 1.0
	defaultRiskMaxKelly = 0.25

	defaultReportVaR = 0.95

	defaultChartOutputDir = "data/charts"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Report.applyDefaults(keys)
	c.Chart.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.db_path", &a.DBPath, defaultAppDBPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.symbol", &d.Symbol, defaultDataSymbol),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultDataTimeframe),
		stringFieldDefault("data.cache_dir", &d.CacheDir, defaultDataCacheDir),
		fieldDefault{
			key:   "data.timeout_seconds",
			need:  func() bool { return d.TimeoutSeconds <= 0 },
			apply: func() { d.TimeoutSeconds = defaultDataTimeout },
		},
	)
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
}

// applyDefaults 只补非安全参数，仓位与回撤上限留给 validate 把关。
func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.stop_atr_multiplier",
			need:  func() bool { return r.StopATRMultiplier <= 0 },
			apply: func() { r.StopATRMultiplier = defaultRiskStopATR },
		},
		fieldDefault{
			key:   "risk.take_profit_ratio",
			need:  func() bool { return r.TakeProfitRatio <= 0 },
			apply: func() { r.TakeProfitRatio = defaultRiskTPRatio },
		},
		fieldDefault{
			key:   "risk.min_reward_risk",
			need:  func() bool { return r.MinRewardRisk <= 0 },
			apply: func() { r.MinRewardRisk = defaultRiskMinRR },
		},
		fieldDefault{
			key:   "risk.max_kelly_fraction",
			need:  func() bool { return r.MaxKellyFraction <= 0 },
			apply: func() { r.MaxKellyFraction = defaultRiskMaxKelly },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_capital",
			need:  func() bool { return b.InitialCapital <= 0 },
			apply: func() { b.InitialCapital = defaultBacktestCapital },
		},
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultBacktestConcurrent },
		},
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "report.var_confidence",
			need:  func() bool { return r.VaRConfidence <= 0 },
			apply: func() { r.VaRConfidence = defaultReportVaR },
		},
	)
}

func (c *ChartConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("chart.output_dir", &c.OutputDir, defaultChartOutputDir),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
