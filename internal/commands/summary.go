package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gastos/internal/cli"
	"gastos/internal/core"
)

func newSummaryCommand(opts Options) *cobra.Command {
	var year, month int

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show a month total with its alert tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if month < 0 || month > 12 {
				return fmt.Errorf("invalid month %d: must be between 1 and 12", month)
			}
			if year < 0 {
				return fmt.Errorf("invalid year %d", year)
			}
			return withApp(cmd, opts, func(ctx context.Context, app *cli.App) error {
				now := time.Now().In(app.Expenses.Location())
				if year == 0 {
					year = now.Year()
				}
				if month == 0 {
					month = int(now.Month())
				}
				return runSummary(ctx, app, cmd.OutOrStdout(), year, month)
			})
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "year (default current)")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12 (default current)")

	return cmd
}

func runSummary(ctx context.Context, app *cli.App, w io.Writer, year, month int) error {
	ov, err := app.Expenses.MonthSummary(ctx, year, month)
	if err != nil {
		return fmt.Errorf("month summary: %w", err)
	}

	fmt.Fprintf(w, "%s %d: %s (%s), %d expenses\n",
		time.Month(month), year, core.FormatEuros(ov.Total), ov.Tier, ov.Count)
	if len(ov.ByCategory) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range ov.ByCategory {
		name := c.Name
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(tw, "  %s\t%s\n", name, core.FormatEuros(c.Amount))
	}
	return tw.Flush()
}
