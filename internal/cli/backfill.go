package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pool-liquidity-alerts/internal/app"
)

var (
	backfillPool   string
	backfillBlocks uint64
	backfillStep   uint64
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill sample history from an archive node",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillBlocks == 0 || backfillStep == 0 {
			return fmt.Errorf("--blocks and --step must be greater than zero")
		}
		if backfillStep > backfillBlocks {
			return fmt.Errorf("--step must not exceed --blocks")
		}

		opts := app.BackfillOptions{
			Pool:   backfillPool,
			Blocks: backfillBlocks,
			Step:   backfillStep,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPool, "pool", "", "Pool address (defaults to every configured pool)")
	backfillCmd.Flags().Uint64Var(&backfillBlocks, "blocks", 7200, "How many blocks back from the head to cover")
	backfillCmd.Flags().Uint64Var(&backfillStep, "step", 5, "Block distance between samples")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Read reserves without writing to storage")
}
