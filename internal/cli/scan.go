package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var (
	scanCycles    int
	scanInterval  time.Duration
	scanLimit     int
	scanPNGPath   string
	scanCSVPath   string
	scanMaxPoints int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a fixed number of detection cycles and print or export the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanCycles <= 0 {
			return fmt.Errorf("--cycles must be greater than zero")
		}

		opts := app.ScanOptions{
			Cycles:    scanCycles,
			Interval:  scanInterval,
			Limit:     scanLimit,
			PNGPath:   scanPNGPath,
			CSVPath:   scanCSVPath,
			MaxPoints: scanMaxPoints,
		}
		return getApp().Scan(cmd.Context(), opts)
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanCycles, "cycles", 1, "Number of detection cycles")
	scanCmd.Flags().DurationVar(&scanInterval, "interval", 0, "Pause between cycles (defaults to detection.interval)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 10, "Opportunities printed per cycle (0 for all)")
	scanCmd.Flags().StringVar(&scanPNGPath, "png", "", "Path to write a spread chart")
	scanCmd.Flags().StringVar(&scanCSVPath, "csv", "", "Path to write opportunity history as CSV")
	scanCmd.Flags().IntVar(&scanMaxPoints, "max-points", 0, "Maximum rows to export (defaults to config)")
}
