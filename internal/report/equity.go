// Package report samples the engine while a replay runs and renders the
// result as an HTML chart.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/feeds"
	"github.com/web3guy0/qqqbot/types"
)

const (
	colorBenchmark = "#3b82f6"
	colorSMA       = "#fbbf24"
	colorEquity    = "#34d399"

	chartWidthPx  = 1400
	chartHeightPx = 420
)

// StatusProvider exposes the engine snapshot
type StatusProvider interface {
	Status() types.Status
}

// Point is one sample
type Point struct {
	Time      time.Time
	Benchmark decimal.Decimal
	SMA       decimal.Decimal
	Equity    decimal.Decimal
	Position  string
}

// Recorder wraps the tick handler and samples the status after each tick.
// Every Nth tick is kept, plus every tick where the position changed.
type Recorder struct {
	Handler feeds.TickHandler
	Status  StatusProvider
	Every   int

	n      int
	points []Point
}

// OnTick forwards to the wrapped handler, then samples
func (r *Recorder) OnTick(ctx context.Context, price decimal.Decimal, now time.Time) error {
	err := r.Handler.OnTick(ctx, price, now)

	st := r.Status.Status()
	r.n++
	every := r.Every
	if every <= 0 {
		every = 1
	}
	changed := len(r.points) > 0 && r.points[len(r.points)-1].Position != st.Position
	if r.n%every == 1 || every == 1 || changed {
		r.points = append(r.points, Point{
			Time:      now,
			Benchmark: st.Benchmark,
			SMA:       st.SMA,
			Equity:    st.Equity,
			Position:  st.Position,
		})
	}
	return err
}

// Points returns the kept samples
func (r *Recorder) Points() []Point { return r.points }

// Render writes an HTML page with the benchmark/SMA and equity charts
func (r *Recorder) Render(w io.Writer, title string) error {
	if len(r.points) == 0 {
		return fmt.Errorf("no samples recorded")
	}

	xAxis := make([]string, len(r.points))
	bench := make([]opts.LineData, len(r.points))
	sma := make([]opts.LineData, len(r.points))
	equity := make([]opts.LineData, len(r.points))
	for i, p := range r.points {
		xAxis[i] = p.Time.UTC().Format("01-02 15:04:05")
		bench[i] = opts.LineData{Value: p.Benchmark.InexactFloat64()}
		sma[i] = opts.LineData{Value: p.SMA.InexactFloat64()}
		equity[i] = opts.LineData{Value: p.Equity.InexactFloat64(), Name: p.Position}
	}

	price := newLine(title, "benchmark vs SMA")
	price.SetXAxis(xAxis)
	price.AddSeries("Benchmark", bench, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBenchmark, Width: 1}))
	price.AddSeries("SMA", sma, charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMA, Width: 2}))

	eq := newLine("Equity", "cash + leftover + position at the last quote")
	eq.SetXAxis(xAxis)
	eq.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))

	page := components.NewPage()
	page.PageTitle = title
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(price, eq)
	return page.Render(w)
}

func newLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", chartHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}
