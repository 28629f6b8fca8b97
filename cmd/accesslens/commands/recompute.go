package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Re-run the risk rules for the tenant (admins only)",
		Long: `Re-run every risk rule against the tenant's current facts. Open and
in-review findings are replaced; escalated and closed findings are kept.
Only one recompute per tenant runs at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, done, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := b.Recompute(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(out) {
				return printJSON(out, res)
			}

			fmt.Fprintf(out, "%s: %d finding(s) in %s\n", res.TenantID, res.Inserted,
				time.Duration(res.DurationNS).Round(time.Millisecond))
			if res.Inserted == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, sev := range []string{"critical", "high", "medium", "low"} {
				if n := res.BySeverity[sev]; n > 0 {
					fmt.Fprintf(tw, "  %s\t%d\n", severityString(sev), n)
				}
			}
			types := make([]string, 0, len(res.ByType))
			for t := range res.ByType {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Fprintf(tw, "  %s\t%d\n", t, res.ByType[t])
			}
			return tw.Flush()
		},
	}
}
