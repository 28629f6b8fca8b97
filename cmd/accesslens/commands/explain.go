package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <finding-id>",
		Short: "Print the explanation for a finding, generating it on first use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, done, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			d, err := b.GetFinding(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(out) {
				return printJSON(out, map[string]any{
					"finding_id":     d.ID,
					"explanation":    d.Explanation,
					"confidence":     d.Confidence,
					"recommendation": d.Recommendation,
					"rationale":      d.Rationale,
				})
			}

			fmt.Fprintln(out, deref(d.Explanation))
			if d.Confidence != nil {
				fmt.Fprintf(out, "\nconfidence:     %.2f\n", *d.Confidence)
			}
			fmt.Fprintf(out, "recommendation: %s\n", color.New(color.Bold).Sprint(d.Recommendation))
			for _, r := range d.Rationale {
				fmt.Fprintf(out, "  - %s\n", r)
			}
			return nil
		},
	}
}
