package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent archived consensus points for one asset.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Asset == "" {
		return errors.New("asset must be provided")
	}

	store, closeStore, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show consensus points")
	}
	if closeStore != nil {
		defer closeStore()
	}

	points, err := store.ListRecentPoints(ctx, opts.Asset, opts.Limit)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stdout, "no consensus points found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice\tSources\tDeviationBps\tAnomaly")

	for _, point := range points {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%t\n",
			point.ObservedAt.UTC().Format(time.RFC3339),
			formatDecimal(point.Price, 6),
			point.Sources,
			formatDecimal(point.DeviationBps, 0),
			point.Anomaly,
		)
	}

	writer.Flush()
	return nil
}
