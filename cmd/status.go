package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/otrace/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the otrace daemon for its overall status.

Shows: version, uptime, number of live sessions and the active reporters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), newClient(), cmd.OutOrStdout(), resolveFormat(outputFormat))
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the otrace daemon for per-session statistics.

Shows: bytes decoded, events, completed spans, anomalies, dropped packets and
reporter deliveries for every live session, plus their total.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), newClient(), cmd.OutOrStdout(), resolveFormat(outputFormat))
	},
}

func runStatus(ctx context.Context, client ControlClient, out io.Writer, format string) error {
	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query daemon status: %w", err)
	}
	return printResult(out, format, status, func(w io.Writer) {
		fmt.Fprintf(w, "VERSION\t%s\n", status.Version)
		fmt.Fprintf(w, "UPTIME\t%s\n", time.Duration(status.UptimeSec)*time.Second)
		fmt.Fprintf(w, "SESSIONS\t%d\n", status.SessionCount)
		fmt.Fprintf(w, "REPORTERS\t%s\n", strings.Join(status.Reporters, ", "))
	})
}

func runStats(ctx context.Context, client ControlClient, out io.Writer, format string) error {
	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	return printResult(out, format, stats, func(w io.Writer) {
		fmt.Fprintln(w, "SESSION\tBYTES\tEVENTS\tSPANS\tANOMALIES\tDROPPED\tREPORTED\tERRORS")
		ids := make([]string, 0, len(stats.Sessions))
		for id := range stats.Sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		row := func(name string, s command.SessionStats) {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
				name, s.Bytes, s.Events, s.Spans, s.Anomalies, s.DroppedPackets, s.Reported, s.ReportErrors)
		}
		for _, id := range ids {
			row(id, stats.Sessions[id])
		}
		row("TOTAL", stats.Total)
		fmt.Fprintf(w, "\nRejected connections: %d\n", stats.RejectedConnections)
	})
}
