package config

import (
	"fmt"
	"strings"

	"ictagent/internal/backtest"
	"ictagent/internal/pattern"
)

// validate 对配置进行基础校验，风险上限缺失或越界直接报错。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Pattern.validate(); err != nil {
		return err
	}
	if err := c.Signal.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Report.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	switch d.Source {
	case "binance", "csv":
	default:
		return fmt.Errorf("data.source only supports 'binance' or 'csv', got %s", d.Source)
	}
	if d.Source == "csv" && strings.TrimSpace(d.CSVPath) == "" {
		return fmt.Errorf("data.csv_path cannot be empty when data.source=csv")
	}
	if strings.TrimSpace(d.Symbol) == "" {
		return fmt.Errorf("data.symbol cannot be empty")
	}
	if _, err := backtest.ParseTimeframe(d.Timeframe); err != nil {
		return fmt.Errorf("data.timeframe invalid: %w", err)
	}
	if strings.TrimSpace(d.Start) != "" || strings.TrimSpace(d.End) != "" {
		startTS, endTS, err := d.Range()
		if err != nil {
			return err
		}
		if startTS >= endTS {
			return fmt.Errorf("data.start must be before data.end")
		}
	}
	return nil
}

// PatternConfig 的零值由检测器补缺省，这里只拦截负数。
func (p *PatternConfig) validate() error {
	if p.GapMinSize < 0 {
		return fmt.Errorf("pattern.gap_min_size must be >= 0")
	}
	if p.DisplacementATR < 0 {
		return fmt.Errorf("pattern.displacement_atr must be >= 0")
	}
	if p.ZoneMaxBars < 0 {
		return fmt.Errorf("pattern.zone_max_bars must be >= 0")
	}
	if p.LiquidityTolerance < 0 {
		return fmt.Errorf("pattern.liquidity_tolerance must be >= 0")
	}
	if p.NoiseThreshold < 0 {
		return fmt.Errorf("pattern.noise_threshold must be >= 0")
	}
	if p.PivotLookback < 0 {
		return fmt.Errorf("pattern.pivot_lookback must be >= 0")
	}
	if p.MinTouches < 0 {
		return fmt.Errorf("pattern.min_touches must be >= 0")
	}
	if p.VolumeLookback < 0 {
		return fmt.Errorf("pattern.volume_lookback must be >= 0")
	}
	if p.ATRPeriod < 0 {
		return fmt.Errorf("pattern.atr_period must be >= 0")
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if s.Proximity < 0 {
		return fmt.Errorf("signal.proximity must be >= 0")
	}
	if s.MinKinds < 0 {
		return fmt.Errorf("signal.min_kinds must be >= 0")
	}
	known := map[string]struct{}{
		string(pattern.KindGap):            {},
		string(pattern.KindOrderZone):      {},
		string(pattern.KindLiquidityLevel): {},
		string(pattern.KindStructureBreak): {},
	}
	for k, w := range s.KindWeights {
		name := strings.ToLower(strings.TrimSpace(k))
		if _, ok := known[name]; !ok {
			return fmt.Errorf("signal.kind_weights contains unknown kind: %s", k)
		}
		if w < 0 {
			return fmt.Errorf("signal.kind_weights.%s must be >= 0", name)
		}
	}
	return nil
}

// validate 是安全参数的唯一关口：没配或配错就拒绝启动，不做静默兜底。
func (r *RiskConfig) validate() error {
	if r.RiskPerTrade <= 0 || r.RiskPerTrade > 1 {
		return fmt.Errorf("risk.risk_per_trade must be in (0, 1]")
	}
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if r.PortfolioRiskCap <= 0 || r.PortfolioRiskCap > 1 {
		return fmt.Errorf("risk.portfolio_risk_cap must be in (0, 1]")
	}
	if r.PortfolioRiskCap < r.RiskPerTrade {
		return fmt.Errorf("risk.portfolio_risk_cap must be >= risk.risk_per_trade")
	}
	if r.DailyLossLimit >= 0 || r.DailyLossLimit < -1 {
		return fmt.Errorf("risk.daily_loss_limit must be a loss fraction in [-1, 0)")
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown > 1 {
		return fmt.Errorf("risk.max_drawdown must be in (0, 1]")
	}
	if r.StopATRMultiplier <= 0 {
		return fmt.Errorf("risk.stop_atr_multiplier must be > 0")
	}
	if r.TakeProfitRatio <= 0 {
		return fmt.Errorf("risk.take_profit_ratio must be > 0")
	}
	if r.MinRewardRisk <= 0 {
		return fmt.Errorf("risk.min_reward_risk must be > 0")
	}
	if r.KellyEnabled && (r.MaxKellyFraction <= 0 || r.MaxKellyFraction > 1) {
		return fmt.Errorf("risk.max_kelly_fraction must be in (0, 1] when kelly is enabled")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if b.Commission < 0 {
		return fmt.Errorf("backtest.commission must be >= 0")
	}
	if b.SlippageBps < 0 {
		return fmt.Errorf("backtest.slippage_bps must be >= 0")
	}
	if b.MaxConcurrent <= 0 {
		return fmt.Errorf("backtest.max_concurrent must be > 0")
	}
	return nil
}

func (r *ReportConfig) validate() error {
	if r.VaRConfidence <= 0 || r.VaRConfidence >= 1 {
		return fmt.Errorf("report.var_confidence must be in (0, 1)")
	}
	return nil
}
