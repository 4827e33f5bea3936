package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictagent/internal/pattern"
)

const validRiskYAML = `
risk:
  risk_per_trade: 0.02
  max_positions: 3
  portfolio_risk_cap: 0.06
  daily_loss_limit: -0.05
  max_drawdown: 0.2
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", validRiskYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Data.Source)
	assert.Equal(t, "BTCUSDT", cfg.Data.Symbol)
	assert.Equal(t, "1h", cfg.Data.Timeframe)
	assert.Equal(t, float64(10000), cfg.Backtest.InitialCapital)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 1.5, cfg.Risk.StopATRMultiplier)
	assert.Equal(t, 2.0, cfg.Risk.TakeProfitRatio)
	assert.Equal(t, 0.95, cfg.Report.VaRConfidence)
}

func TestLoadMissingRiskSectionFails(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
app:
  log_level: debug
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk.risk_per_trade")
}

func TestLoadRejectsInvalidRisk(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "positive daily loss limit",
			yaml: `
risk:
  risk_per_trade: 0.02
  max_positions: 3
  portfolio_risk_cap: 0.06
  daily_loss_limit: 0.05
  max_drawdown: 0.2
`,
			want: "risk.daily_loss_limit",
		},
		{
			name: "cap below per trade",
			yaml: `
risk:
  risk_per_trade: 0.1
  max_positions: 3
  portfolio_risk_cap: 0.05
  daily_loss_limit: -0.05
  max_drawdown: 0.2
`,
			want: "risk.portfolio_risk_cap",
		},
		{
			name: "kelly without fraction bound",
			yaml: `
risk:
  risk_per_trade: 0.02
  max_positions: 3
  portfolio_risk_cap: 0.06
  daily_loss_limit: -0.05
  max_drawdown: 0.2
  kelly_enabled: true
  max_kelly_fraction: 1.5
`,
			want: "risk.max_kelly_fraction",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadExplicitValuesSurviveDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", validRiskYAML+`
data:
  source: csv
  csv_path: data/btc_1h.csv
  symbol: ethusdt
  timeframe: 4h
  start: 2024-01-01
  end: 2024-06-30
backtest:
  initial_capital: 50000
  commission: 0.5
  slippage_bps: 5
signal:
  min_kinds: 3
  kind_weights:
    gap: 0.5
    structure_break: 1.2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "csv", cfg.Data.Source)
	assert.Equal(t, float64(50000), cfg.Backtest.InitialCapital)

	run, err := cfg.RunConfig()
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", run.Symbol)
	assert.Equal(t, "4h", run.Timeframe)
	assert.Less(t, run.StartTS, run.EndTS)
	assert.Equal(t, 3, run.Signal.MinKinds)
	assert.Equal(t, 0.5, run.Signal.KindWeights[pattern.KindGap])
	assert.Equal(t, 1.2, run.Signal.KindWeights[pattern.KindStructureBreak])
	assert.Equal(t, 0.5, run.Commission)
	assert.Equal(t, float64(5), run.SlippageBps)
}

func TestLoadRejectsUnknownKindWeight(t *testing.T) {
	path := writeConfig(t, "config.yaml", validRiskYAML+`
signal:
  kind_weights:
    fair_value: 0.4
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte(validRiskYAML+`
app:
  log_level: debug
`), 0o644))
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(main, []byte(`
include:
  - base.yaml
app:
  log_level: warn
`), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	// 主文件后读，覆盖被包含文件。
	assert.Equal(t, "warn", cfg.App.LogLevel)
	assert.Equal(t, 0.02, cfg.Risk.RiskPerTrade)
}

func TestLoadCSVSourceRequiresPath(t *testing.T) {
	path := writeConfig(t, "config.yaml", validRiskYAML+`
data:
  source: csv
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.csv_path")
}

func TestDataRangeParsing(t *testing.T) {
	d := DataConfig{Start: "2024-01-02", End: "2024-01-03T12:00:00Z"}
	start, end, err := d.Range()
	require.NoError(t, err)
	assert.Equal(t, int64(1704153600000), start)
	assert.Equal(t, int64(1704283200000), end)

	_, _, err = DataConfig{Start: "soon", End: "2024-01-03"}.Range()
	require.Error(t, err)
}
