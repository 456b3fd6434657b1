package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAsset    string
	simulatePrices   []float64
	simulateCoverage float64
	simulateAmount   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Exercise the engines against synthetic input",
}

var simulateRoundCmd = &cobra.Command{
	Use:   "round",
	Short: "Run one consensus round over the given prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulatePrices) == 0 {
			return errors.New("--price must be provided at least once")
		}

		prices := make([]decimal.Decimal, 0, len(simulatePrices))
		for _, p := range simulatePrices {
			if p <= 0 {
				return fmt.Errorf("price %v must be greater than zero", p)
			}
			prices = append(prices, decimal.NewFromFloat(p))
		}

		return getApp().SimulateRound(cmd.Context(), simulateAsset, prices)
	},
}

var simulateClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Walk one claim through its full lifecycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCoverage <= 0 {
			return errors.New("--coverage must be greater than zero")
		}
		if simulateAmount <= 0 {
			return errors.New("--amount must be greater than zero")
		}

		coverage := decimal.NewFromFloat(simulateCoverage)
		amount := decimal.NewFromFloat(simulateAmount)
		return getApp().SimulateClaim(cmd.Context(), coverage, amount)
	},
}

func init() {
	simulateRoundCmd.Flags().StringVar(&simulateAsset, "asset", "USDC", "Asset identifier")
	simulateRoundCmd.Flags().Float64SliceVar(&simulatePrices, "price", nil, "Submitted price (repeatable)")

	simulateClaimCmd.Flags().Float64Var(&simulateCoverage, "coverage", 1000, "Policy coverage amount")
	simulateClaimCmd.Flags().Float64Var(&simulateAmount, "amount", 250, "Claimed amount")

	simulateCmd.AddCommand(simulateRoundCmd)
	simulateCmd.AddCommand(simulateClaimCmd)
}
