package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/waybill/waybill/internal/dashboard"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"sess"},
		Short:   "Inspect intake sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsStatsCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List intake sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath, status, user)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&user, "user", "", "filter by requester user id")
	return cmd
}

func runSessionsList(cmd *cobra.Command, configPath, status, user string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	result, err := dashboard.SessionList(gormDB, status, user)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(result.Sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREQUESTER\tSTATUS\tSTEP\tCLASS\tTICKET\tLAST ACTIVITY")
	for _, s := range result.Sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, truncate(s.UserName, 24), s.Status, dashOr(s.CurrentStep),
			dashOr(s.Classification), dashOr(s.TicketID),
			s.LastActivity.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func newSessionsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show session details",
		Long:  "Displays the full state of one intake session including gathered fields and follow-up answers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runSessionsShow(cmd *cobra.Command, configPath, rawID string) error {
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		return fmt.Errorf("sessions: invalid session id %q", rawID)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	detail, err := dashboard.SessionDetailByID(gormDB, uint(id))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:             %d\n", detail.ID)
	fmt.Fprintf(out, "Platform:       %s\n", detail.Platform)
	fmt.Fprintf(out, "Requester:      %s", detail.UserName)
	if detail.UserTitle != "" {
		fmt.Fprintf(out, " (%s)", detail.UserTitle)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Thread:         %s / %s\n", detail.ChannelID, detail.ThreadID)
	fmt.Fprintf(out, "Status:         %s\n", detail.Status)
	if detail.CurrentStep != "" {
		fmt.Fprintf(out, "Current step:   %s\n", detail.CurrentStep)
	}
	if detail.Classification != "" {
		fmt.Fprintf(out, "Classification: %s\n", detail.Classification)
	}
	if detail.TicketID != "" {
		fmt.Fprintf(out, "Ticket:         %s", detail.TicketID)
		if detail.TicketURL != "" {
			fmt.Fprintf(out, " (%s)", detail.TicketURL)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Last activity:  %s\n", detail.LastActivity.Format("2006-01-02 15:04:05"))
	if detail.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:      %s\n", detail.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	if len(detail.Fields) > 0 {
		fmt.Fprintln(out, "\nFields:")
		keys := make([]string, 0, len(detail.Fields))
		for k := range detail.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range detail.Fields[k] {
				fmt.Fprintf(out, "  %-14s %s\n", k+":", v)
			}
		}
	}

	if len(detail.Extras) > 0 {
		fmt.Fprintln(out, "\nAdditional details:")
		keys := make([]string, 0, len(detail.Extras))
		for k := range detail.Extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %-14s %s\n", k+":", detail.Extras[k])
		}
	}

	return nil
}

func newSessionsStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show session counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runSessionsStats(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	stats, err := dashboard.Overview(gormDB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", s, stats.ByStatus[s])
	}
	w.Flush()

	fmt.Fprintf(out, "\nOpen sessions:    %d\n", stats.OpenSessions)
	fmt.Fprintf(out, "Submitted today:  %d\n", stats.SubmittedToday)
	fmt.Fprintf(out, "Ledger size:      %d\n", stats.LedgerSize)
	return nil
}

func dashOr(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
