package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"pool-liquidity-alerts/internal/app"
)

var (
	simulateFrom   float64
	simulateTo     float64
	simulateToken0 string
	simulateToken1 string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic price move through the configured alert channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFrom <= 0 || simulateTo <= 0 {
			return errors.New("--from and --to must be greater than zero")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			FromPrice: simulateFrom,
			ToPrice:   simulateTo,
			Token0:    simulateToken0,
			Token1:    simulateToken1,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateFrom, "from", 1.0, "Baseline price (token0 per token1)")
	simulateCmd.Flags().Float64Var(&simulateTo, "to", 1.06, "Current price (token0 per token1)")
	simulateCmd.Flags().StringVar(&simulateToken0, "token0", "TOKEN0", "Symbol shown for token0")
	simulateCmd.Flags().StringVar(&simulateToken1, "token1", "TOKEN1", "Symbol shown for token1")
}
