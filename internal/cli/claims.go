package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"insured-core/internal/app"
)

var (
	claimsLimit int
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Display the recent claim audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if claimsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ClaimsOptions{
			Limit: claimsLimit,
		}

		return getApp().Claims(cmd.Context(), opts)
	},
}

func init() {
	claimsCmd.Flags().IntVar(&claimsLimit, "limit", 20, "Number of claim events to display")
}
