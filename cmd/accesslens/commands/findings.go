package commands

import (
	"github.com/spf13/cobra"

	"github.com/accesslens/accesslens/sdk"
)

func newFindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "findings",
		Aliases: []string{"f"},
		Short:   "List and inspect risk findings",
	}
	cmd.AddCommand(newFindingsListCmd(), newFindingsShowCmd())
	return cmd
}

func newFindingsListCmd() *cobra.Command {
	var opts sdk.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List findings, highest score first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, done, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			list, err := b.ListFindings(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(out) {
				return printJSON(out, list)
			}
			printFindings(out, list)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (open, in_review, resolved, ...)")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "filter by severity (low, medium, high, critical)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by finding type")
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "filter by identity id")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "filter by assignee")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of findings (server default when 0)")
	return cmd
}

func newFindingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <finding-id>",
		Short: "Show one finding with its explanation and review trail",
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
				return printJSON(out, d)
			}
			printDetail(out, d)
			return nil
		},
	}
}
