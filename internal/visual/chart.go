package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"ictagent/internal/backtest"
	"ictagent/internal/indicator"
	"ictagent/internal/market"
	"ictagent/internal/pattern"
)

// ImageResult 渲染产物，Base64 便于直接嵌入接口响应。
type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// RunInput 单次回测的可视化素材。
type RunInput struct {
	Context   context.Context
	Symbol    string
	Timeframe string
	Candles   []market.Candle
	Patterns  []pattern.Instance
	Trades    []backtest.Trade
	Equity    []backtest.EquityPoint
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorGap           = "#fbbf24"
	colorOrderZone     = "#a78bfa"
	colorLiquidity     = "#22d3ee"
	colorStructure     = "#f472b6"
	colorEquity        = "#3b82f6"
	colorBalance       = "#fb7185"
	colorEmaFast       = "#3b82f6"
	colorEmaMid        = "#fbbf24"
	colorEmaSlow       = "#f472b6"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 320

	// 区间线过多图面会糊掉，只保留最近形成的若干个。
	maxZonesOnChart = 18
)

// RenderRun 生成 K 线 + 形态区间 + 资金曲线的合成截图。
func RenderRun(input RunInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(input.Context); err != nil {
		return ImageResult{}, err
	}
	html, desc, err := BuildHTML(input)
	if err != nil {
		return ImageResult{}, err
	}
	height := klineHeightPx + equityHeightPx
	png, err := renderHTMLToPNG(input.Context, html, chartWidthPx, height)
	if err != nil {
		return ImageResult{}, err
	}
	img := ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_%s_run.png", strings.ToLower(input.Symbol), input.Timeframe),
		Description: desc,
	}
	return img, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测无头浏览器是否可用，进程内只探测一次。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// BuildHTML 只生成图表 HTML，不依赖无头浏览器，便于单测与直接落盘。
func BuildHTML(input RunInput) ([]byte, string, error) {
	if input.Symbol == "" {
		return nil, "", fmt.Errorf("symbol required for run render")
	}
	if len(input.Candles) == 0 {
		return nil, "", fmt.Errorf("no candles to render for %s", input.Symbol)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(input.Candles)
	page.AddCharts(buildKlineChart(input, xAxis))
	if len(input.Equity) > 0 {
		page.AddCharts(buildEquityChart(input.Equity))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), describeRun(input), nil
}

func buildKlineChart(input RunInput, xAxis []string) *charts.Kline {
	candles := input.Candles
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(input.Symbol), input.Timeframe),
			Subtitle:      describeRun(input),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	if emas := buildIndicatorLines(candles, xAxis); emas != nil {
		kline.Overlap(emas)
	}
	if zones := buildZoneLines(candles, input.Patterns, xAxis); zones != nil {
		kline.Overlap(zones)
	}
	if marks := buildTradeMarks(candles, input.Trades, xAxis); marks != nil {
		kline.Overlap(marks)
	}
	return kline
}

// buildIndicatorLines 叠加三条 EMA 均线，预热期不足的点留空。
func buildIndicatorLines(candles []market.Candle, xAxis []string) *charts.Line {
	rep, err := indicator.ComputeAll(candles, indicator.Settings{})
	if err != nil {
		return nil
	}
	overlays := []struct {
		key   string
		color string
	}{
		{"ema_fast", colorEmaFast},
		{"ema_mid", colorEmaMid},
		{"ema_slow", colorEmaSlow},
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	added := 0
	for _, ov := range overlays {
		v := rep.Get(ov.key)
		if len(v.Series) == 0 {
			continue
		}
		line.AddSeries(v.Note, toLineData(v.Series, len(candles)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: ov.color, Width: 1.2, Opacity: opts.Float(0.9)}))
		added++
	}
	if added == 0 {
		return nil
	}
	return line
}

// toLineData 把指标序列对齐到 K 线下标，前端把 nil 视为断点不连线。
func toLineData(series []float64, length int) []opts.LineData {
	data := make([]opts.LineData, 0, length)
	offset := length - len(series)
	for i := 0; i < length; i++ {
		j := i - offset
		if j < 0 || series[j] == 0 || math.IsNaN(series[j]) {
			data = append(data, opts.LineData{Value: nil})
			continue
		}
		data = append(data, opts.LineData{Value: round(series[j], 4)})
	}
	return data
}

// buildZoneLines 用上下边界两条横线画出形态区间，已回补的在回补位截断。
func buildZoneLines(candles []market.Candle, instances []pattern.Instance, xAxis []string) *charts.Line {
	zones := recentZones(instances, maxZonesOnChart)
	if len(zones) == 0 {
		return nil
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	for _, in := range zones {
		end := len(candles) - 1
		opacity := 0.9
		if in.Mitigated {
			end = in.MitigatedIdx
			opacity = 0.35
		}
		if end >= len(candles) {
			end = len(candles) - 1
		}
		style := charts.WithLineStyleOpts(opts.LineStyle{
			Color:   kindColor(in.Kind),
			Width:   1.5,
			Type:    "dashed",
			Opacity: opts.Float(float32(opacity)),
		})
		// 同名系列共享一个图例条目，避免每个区间各占一行。
		line.AddSeries(string(in.Kind), levelSegment(in.StartIdx, end, in.PriceLow, len(candles)), style)
		line.AddSeries(string(in.Kind), levelSegment(in.StartIdx, end, in.PriceHigh, len(candles)), style)
	}
	return line
}

// buildTradeMarks 在入场与离场的 K 线上打点。
func buildTradeMarks(candles []market.Candle, trades []backtest.Trade, xAxis []string) *charts.Line {
	if len(trades) == 0 {
		return nil
	}
	entries := make([]opts.LineData, len(candles))
	exits := make([]opts.LineData, len(candles))
	for i := range candles {
		entries[i] = opts.LineData{Value: nil}
		exits[i] = opts.LineData{Value: nil}
	}
	marked := false
	for _, tr := range trades {
		if i, ok := barIndexAt(candles, tr.EntryTime); ok {
			entries[i] = opts.LineData{Value: round(tr.EntryPrice, 4), Symbol: "triangle", SymbolSize: 12}
			marked = true
		}
		if i, ok := barIndexAt(candles, tr.ExitTime); ok {
			exits[i] = opts.LineData{Value: round(tr.ExitPrice, 4), Symbol: "diamond", SymbolSize: 12}
			marked = true
		}
	}
	if !marked {
		return nil
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Entry", entries, charts.WithLineStyleOpts(opts.LineStyle{Opacity: opts.Float(0)}), charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	line.AddSeries("Exit", exits, charts.WithLineStyleOpts(opts.LineStyle{Opacity: opts.Float(0)}), charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	return line
}

func buildEquityChart(points []backtest.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	x := make([]string, len(points))
	equity := make([]opts.LineData, len(points))
	balance := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = time.UnixMilli(p.TS).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: round(p.Equity, 2)}
		balance[i] = opts.LineData{Value: round(p.Balance, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Balance", balance, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBalance, Width: 1.5, Type: "dashed"}))
	return line
}

func describeRun(input RunInput) string {
	active := 0
	for _, in := range input.Patterns {
		if !in.Mitigated {
			active++
		}
	}
	desc := fmt.Sprintf("%d 根K线 | %d 个形态(未回补 %d) | %d 笔交易",
		len(input.Candles), len(input.Patterns), active, len(input.Trades))
	if len(input.Equity) > 1 {
		first := input.Equity[0].Equity
		last := input.Equity[len(input.Equity)-1].Equity
		if first > 0 {
			desc = fmt.Sprintf("%s | 收益 %.2f%%", desc, (last-first)/first*100)
		}
	}
	return desc
}

// recentZones 按形成先后取末尾 keep 个（输入已按 EndIdx 升序）。
func recentZones(instances []pattern.Instance, keep int) []pattern.Instance {
	if keep <= 0 || len(instances) == 0 {
		return nil
	}
	if len(instances) <= keep {
		return instances
	}
	return instances[len(instances)-keep:]
}

func levelSegment(start, end int, level float64, length int) []opts.LineData {
	data := make([]opts.LineData, length)
	for i := 0; i < length; i++ {
		if i >= start && i <= end {
			data[i] = opts.LineData{Value: round(level, 4)}
		} else {
			data[i] = opts.LineData{Value: nil}
		}
	}
	return data
}

func barIndexAt(candles []market.Candle, ts int64) (int, bool) {
	for i, c := range candles {
		if ts >= c.OpenTime && ts <= c.CloseTime {
			return i, true
		}
	}
	return 0, false
}

func kindColor(kind pattern.Kind) string {
	switch kind {
	case pattern.KindGap:
		return colorGap
	case pattern.KindOrderZone:
		return colorOrderZone
	case pattern.KindLiquidityLevel:
		return colorLiquidity
	case pattern.KindStructureBreak:
		return colorStructure
	default:
		return colorTextSecondary
	}
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
	}
	return x
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
