package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/accesslens/accesslens/sdk"
)

// wantJSON reports whether output should be machine readable: always
// when --json is set or stdout is not a terminal.
func wantJSON(w io.Writer) bool {
	if jsonOut {
		return true
	}
	f, ok := w.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("12")).
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1)

func banner(lines ...string) string {
	return bannerStyle.Render(strings.Join(lines, "\n"))
}

func severityString(s string) string {
	switch s {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case "high":
		return color.RedString(s)
	case "medium":
		return color.YellowString(s)
	case "low":
		return color.BlueString(s)
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}

func printFindings(w io.Writer, list []sdk.Finding) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No findings match the filters.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tSCORE\tTYPE\tIDENTITY\tSTATUS\tASSIGNEE")
	for _, f := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			f.ID, severityString(f.Severity), f.Score, f.TypeLabel, f.IdentityID, f.StatusLabel, deref(f.AssignedTo))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d finding(s)\n", len(list))
}

func printDetail(w io.Writer, d *sdk.FindingDetail) {
	title := color.New(color.Bold).Sprint(d.TypeLabel)
	fmt.Fprintf(w, "%s  %s  score %d\n", title, severityString(d.Severity), d.Score)
	fmt.Fprintf(w, "  id:          %s\n", d.ID)
	fmt.Fprintf(w, "  identity:    %s (%s)\n", d.IdentityName, d.IdentityID)
	if d.ApplicationName != nil {
		fmt.Fprintf(w, "  application: %s\n", *d.ApplicationName)
	}
	fmt.Fprintf(w, "  status:      %s\n", d.StatusLabel)
	fmt.Fprintf(w, "  assignee:    %s\n", deref(d.AssignedTo))
	fmt.Fprintf(w, "  priority:    %s\n", deref(d.Priority))
	fmt.Fprintf(w, "  due:         %s\n", deref(d.DueAt))
	fmt.Fprintf(w, "  disposition: %s\n", deref(d.Disposition))
	if len(d.NextStatuses) > 0 {
		fmt.Fprintf(w, "  next:        %s\n", strings.Join(d.NextStatuses, ", "))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, color.New(color.Bold).Sprint("Guidance"))
	fmt.Fprintf(w, "  %s\n", d.Guidance)
	if d.Explanation != nil {
		fmt.Fprintln(w, color.New(color.Bold).Sprint("Explanation"))
		fmt.Fprintf(w, "  %s\n", *d.Explanation)
		fmt.Fprintf(w, "  recommendation: %s\n", d.Recommendation)
		for _, r := range d.Rationale {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}

	if len(d.Evidence) > 0 {
		fmt.Fprintln(w, color.New(color.Bold).Sprint("Evidence"))
		data, _ := json.MarshalIndent(d.Evidence, "  ", "  ")
		fmt.Fprintf(w, "  %s\n", data)
	}

	if len(d.ReviewActions) > 0 {
		fmt.Fprintln(w, color.New(color.Bold).Sprint("Review trail"))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, ra := range d.ReviewActions {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s -> %s\t%s\n",
				ra.CreatedAt.Format("2006-01-02 15:04:05"), ra.ActorUserID, ra.Action,
				deref(ra.PrevStatus), deref(ra.NewStatus), deref(ra.Note))
		}
		_ = tw.Flush()
	}
}

func printActionResult(w io.Writer, res *sdk.ActionResult) {
	if res.PreviousStatus != res.NewStatus {
		fmt.Fprintf(w, "%s: %s -> %s\n", res.Finding.ID, res.PreviousStatus, color.GreenString(res.NewStatus))
	} else {
		fmt.Fprintf(w, "%s: %s\n", res.Finding.ID, res.NewStatus)
	}
	if len(res.Changes) == 0 {
		fmt.Fprintln(w, "  no field changed; note recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for field, c := range res.Changes {
		fmt.Fprintf(tw, "  %s\t%v\t->\t%v\n", field, orDash(c.Previous), orDash(c.Next))
	}
	_ = tw.Flush()
}

func orDash(v any) any {
	if v == nil {
		return "-"
	}
	return v
}
