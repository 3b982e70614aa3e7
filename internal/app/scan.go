package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"arbwatch/internal/opportunity"
)

// ScanOptions configure a bounded detection run.
type ScanOptions struct {
	Cycles    int
	Interval  time.Duration
	Limit     int
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// Scan connects the configured sources, runs a fixed number of detection
// cycles, prints each cycle's opportunities and optionally exports the history.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	if opts.Cycles <= 0 {
		return errors.New("cycles must be greater than zero")
	}
	if opts.Interval <= 0 {
		opts.Interval = a.Config.Detection.Interval
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	a.connect(ctx, reg)
	engine := a.newEngine(reg)

	for i := 0; i < opts.Cycles; i++ {
		if i > 0 {
			timer := time.NewTimer(opts.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		opps := engine.DetectOpportunities(ctx)
		fmt.Fprintf(a.Out, "cycle %d/%d: %d opportunities\n", i+1, opts.Cycles, len(opps))
		writeOpportunityTable(a.Out, opps, opts.Limit)
	}

	analytics := engine.Analytics()
	fmt.Fprintf(a.Out, "total=%d avg_spread=%.4f%% max_spread=%.4f%% avg_detection=%s\n",
		analytics.Historical.TotalOpportunities,
		analytics.Historical.AvgSpreadPercent,
		analytics.Historical.MaxSpreadPercent,
		analytics.Detection.AvgDetectionTime,
	)

	history := downsample(engine.History(), opts.MaxPoints)
	if opts.CSVPath != "" {
		if err := writeOpportunitiesCSV(opts.CSVPath, history); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("rows", len(history)).Msg("csv written")
	}
	if opts.PNGPath != "" {
		if err := writeSpreadPNG(opts.PNGPath, history); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.PNGPath).Msg("chart written")
	}
	return nil
}

func writeOpportunityTable(out io.Writer, opps []opportunity.Opportunity, limit int) {
	if len(opps) == 0 {
		return
	}
	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Instrument\tBuy\tSell\tBuy Px\tSell Px\tSpread%\tProfit\tConfidence\tRisk\tWindow\tFreq")
	for _, o := range opps {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%.1fs\t%.2f\n",
			o.Instrument,
			o.BuySource,
			o.SellSource,
			formatFloat(o.BuyPrice, 6),
			formatFloat(o.SellPrice, 6),
			formatFloat(o.SpreadPercent, 3),
			formatFloat(o.ProfitPotential, 2),
			o.ConfidenceScore,
			o.RiskTier,
			o.ExecutionTimeEstimate,
			o.HistoricalFrequency,
		)
	}
	writer.Flush()
}

func downsample(opps []opportunity.Opportunity, max int) []opportunity.Opportunity {
	if max <= 1 || len(opps) <= max {
		return opps
	}

	result := make([]opportunity.Opportunity, 0, max)
	step := float64(len(opps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(opps) {
			idx = len(opps) - 1
		}
		result = append(result, opps[idx])
	}
	return result
}

func writeOpportunitiesCSV(path string, opps []opportunity.Opportunity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "id", "instrument", "buy_source", "sell_source", "buy_price", "sell_price", "spread", "spread_percent", "profit_potential", "confidence_score", "risk_tier", "execution_time_estimate", "historical_frequency"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, o := range opps {
		record := []string{
			o.Timestamp.UTC().Format(time.RFC3339Nano),
			o.ID,
			o.Instrument,
			o.BuySource,
			o.SellSource,
			formatFloat(o.BuyPrice, 8),
			formatFloat(o.SellPrice, 8),
			formatFloat(o.Spread, 8),
			formatFloat(o.SpreadPercent, 4),
			formatFloat(o.ProfitPotential, 4),
			strconv.FormatFloat(o.ConfidenceScore, 'f', 4, 64),
			o.RiskTier.String(),
			strconv.FormatFloat(o.ExecutionTimeEstimate, 'f', 2, 64),
			strconv.FormatFloat(o.HistoricalFrequency, 'f', 4, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSpreadPNG charts the best spread per cycle for each instrument.
func writeSpreadPNG(path string, opps []opportunity.Opportunity) error {
	series := bestSpreadSeries(opps)
	if len(series) == 0 {
		return errors.New("need at least 2 cycles with opportunities to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Spread (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// bestSpreadSeries keeps instruments observed in at least 2 cycles.
func bestSpreadSeries(opps []opportunity.Opportunity) []chart.Series {
	best := make(map[string]map[time.Time]float64)
	for _, o := range opps {
		byCycle, ok := best[o.Instrument]
		if !ok {
			byCycle = make(map[time.Time]float64)
			best[o.Instrument] = byCycle
		}
		if o.SpreadPercent > byCycle[o.Timestamp] {
			byCycle[o.Timestamp] = o.SpreadPercent
		}
	}

	instruments := make([]string, 0, len(best))
	for instrument, byCycle := range best {
		if len(byCycle) >= 2 {
			instruments = append(instruments, instrument)
		}
	}
	sort.Strings(instruments)

	series := make([]chart.Series, 0, len(instruments))
	for _, instrument := range instruments {
		byCycle := best[instrument]
		x := make([]time.Time, 0, len(byCycle))
		for ts := range byCycle {
			x = append(x, ts)
		}
		sort.Slice(x, func(i, j int) bool { return x[i].Before(x[j]) })
		y := make([]float64, len(x))
		for i, ts := range x {
			y[i] = byCycle[ts]
		}
		series = append(series, chart.TimeSeries{Name: instrument, XValues: x, YValues: y})
	}
	return series
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
