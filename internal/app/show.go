package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"pool-liquidity-alerts/internal/storage"
)

// Show prints recent samples per pool and, optionally, the alert audit trail.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	pools, err := a.resolvePools(opts.Pool)
	if err != nil {
		return err
	}

	backend, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	return a.show(ctx, os.Stdout, backend, pools, opts)
}

func (a *App) show(ctx context.Context, out io.Writer, backend storage.Backend, pools []string, opts ShowOptions) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPool\tPair\tPrice\tLiquidity")

	total := 0
	for _, pool := range pools {
		samples, err := backend.RecentSamples(ctx, pool, opts.Limit)
		if err != nil {
			return err
		}
		total += len(samples)
		for _, s := range samples {
			fmt.Fprintf(writer, "%s\t%s\t%s/%s\t%s\t%s\n",
				s.Timestamp.UTC().Format(time.RFC3339),
				s.PoolID,
				s.Token0Symbol, s.Token1Symbol,
				s.Price.StringFixed(8),
				s.Liquidity.StringFixed(4),
			)
		}
	}
	if total == 0 {
		fmt.Fprintln(writer, "no samples found")
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if !opts.Alerts {
		return nil
	}

	alerts, err := backend.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tPool\tMetric\tKind\tDirection\tChange%\tThreshold%\tValue")
	for _, al := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			al.FiredAt.UTC().Format(time.RFC3339),
			al.PoolID,
			al.Metric,
			al.Kind,
			al.Direction,
			al.ChangePct.StringFixed(2),
			al.ThresholdPct.String(),
			al.Value.String(),
		)
	}
	if len(alerts) == 0 {
		fmt.Fprintln(writer, "no alerts recorded")
	}
	return writer.Flush()
}
