package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pool-liquidity-alerts/internal/app"
)

var (
	showPool   string
	showLimit  int
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent pool samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Pool:   showPool,
			Limit:  showLimit,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showPool, "pool", "", "Pool address (defaults to every configured pool)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of samples per pool to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Also list recent alerts")
}
