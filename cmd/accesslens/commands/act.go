package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accesslens/accesslens/sdk"
)

// clearable lists the action fields --clear may null out.
var clearable = map[string]bool{
	"assignedTo":  true,
	"priority":    true,
	"dueAt":       true,
	"disposition": true,
	"note":        true,
}

func newActCmd() *cobra.Command {
	var (
		status      string
		assignTo    string
		priority    string
		dueAt       string
		disposition string
		note        string
		clears      []string
	)

	cmd := &cobra.Command{
		Use:   "act <finding-id>",
		Short: "Record a review action on a finding",
		Long: `Record a review action. Only the flags you pass are sent; use --clear
to set a field back to empty. Every call writes one audit row, even when
nothing changes.

Closing a finding (RESOLVED, SUPPRESSED, FALSE_POSITIVE) requires a note
and, for some finding types, a matching disposition.`,
		Example: `  accesslens act 7b1e... --status IN_REVIEW --assign <profile-id>
  accesslens act 7b1e... --status RESOLVED --disposition revoked_entitlement --note "removed approve_payment"
  accesslens act 7b1e... --clear assignedTo --clear dueAt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := sdk.Action{}
			set := func(flag, key, value string) {
				if cmd.Flags().Changed(flag) {
					action[key] = value
				}
			}
			set("status", "status", status)
			set("assign", "assignedTo", assignTo)
			set("priority", "priority", priority)
			set("due", "dueAt", dueAt)
			set("disposition", "disposition", disposition)
			set("note", "note", note)
			for _, k := range clears {
				if !clearable[k] {
					return fmt.Errorf("cannot clear %q (allowed: assignedTo, priority, dueAt, disposition, note)", k)
				}
				if _, ok := action[k]; ok {
					return fmt.Errorf("%s is both set and cleared", k)
				}
				action[k] = nil
			}
			if len(action) == 0 {
				return errors.New("nothing to do: pass at least one of --status, --assign, --priority, --due, --disposition, --note or --clear")
			}

			b, done, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := b.ApplyAction(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(out) {
				return printJSON(out, res)
			}
			printActionResult(out, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "new status: OPEN, IN_REVIEW, ESCALATED, RESOLVED, SUPPRESSED, FALSE_POSITIVE")
	cmd.Flags().StringVar(&assignTo, "assign", "", "assignee profile id")
	cmd.Flags().StringVar(&priority, "priority", "", "priority: low, medium, high, critical")
	cmd.Flags().StringVar(&dueAt, "due", "", "due date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&disposition, "disposition", "", "disposition recorded when closing")
	cmd.Flags().StringVar(&note, "note", "", "reviewer note")
	cmd.Flags().StringArrayVar(&clears, "clear", nil, "field to clear (repeatable)")
	return cmd
}
