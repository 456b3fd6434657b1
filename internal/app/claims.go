package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Claims prints the recent claim audit trail.
func (a *App) Claims(ctx context.Context, opts ClaimsOptions) error {
	store, closeStore, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show claim audit trail")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListRecentClaimAudit(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no claim events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tClaim\tPolicy\tClaimant\tAmount\tStatus")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%s\t%s\t%s\n",
			row.OccurredAt.UTC().Format(time.RFC3339),
			row.ClaimID,
			row.PolicyID,
			row.Claimant,
			formatDecimal(row.Amount, 2),
			sanitizeInline(row.Status),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
