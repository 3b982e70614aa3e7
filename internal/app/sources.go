package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// SourcesOptions configure the sources command.
type SourcesOptions struct {
	Summary bool
}

// Sources connects every configured source, fetches one snapshot and prints
// per-source health and, optionally, the cross-source market summary.
func (a *App) Sources(ctx context.Context, opts SourcesOptions) error {
	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	a.connect(ctx, reg)
	reg.FetchAllQuotes(ctx)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tConnected\tHealth\tErrors\tAvg Latency\tLast Update\tInstruments")
	for _, st := range reg.Statuses() {
		last := "-"
		if !st.LastUpdate.IsZero() {
			last = st.LastUpdate.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%t\t%.2f\t%d\t%s\t%s\t%d\n",
			st.Name,
			st.Connected,
			st.HealthScore,
			st.ErrorCount,
			st.AvgResponseTime.Round(time.Millisecond),
			last,
			len(st.Instruments),
		)
	}
	writer.Flush()

	if !opts.Summary {
		return nil
	}

	summary, ok := reg.MarketSummary()
	if !ok {
		fmt.Fprintln(a.Out, "no market data")
		return nil
	}

	fmt.Fprintf(a.Out, "\nconnected %d/%d sources, %d instruments\n", summary.ConnectedSources, summary.TotalSources, summary.TotalInstruments)
	instruments := make([]string, 0, len(summary.Instruments))
	for instrument := range summary.Instruments {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)

	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Instrument\tSources\tMin Mid\tMax Mid\tAvg Mid\tStdDev\tQuoted By")
	for _, instrument := range instruments {
		s := summary.Instruments[instrument]
		names := make([]string, 0, len(s.Prices))
		for name := range s.Prices {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			instrument,
			s.SourceCount,
			formatFloat(s.MinMid, 6),
			formatFloat(s.MaxMid, 6),
			formatFloat(s.AvgMid, 6),
			formatFloat(s.MidStdDev, 6),
			strings.Join(names, ","),
		)
	}
	writer.Flush()
	return nil
}
