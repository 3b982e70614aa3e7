package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var (
	simulateInstrument string
	simulateBuy        float64
	simulateSell       float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次跨交易所价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBuy <= 0 || simulateSell <= 0 {
			return errors.New("--buy 与 --sell 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Instrument: simulateInstrument,
			BuyPrice:   simulateBuy,
			SellPrice:  simulateSell,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInstrument, "instrument", "BTC/USD", "交易对")
	simulateCmd.Flags().Float64Var(&simulateBuy, "buy", 0, "买入交易所的卖一价")
	simulateCmd.Flags().Float64Var(&simulateSell, "sell", 0, "卖出交易所的买一价")
}
