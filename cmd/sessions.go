package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List live producer sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions(cmd.Context(), newClient(), cmd.OutOrStdout(), resolveFormat(outputFormat))
	},
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Disconnect a producer session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionClose(cmd.Context(), newClient(), cmd.OutOrStdout(), args[0])
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture [session-id]",
	Short: "Ask producers to capture their next frame",
	Long: `Send a capture-frame command back to a producer.

Without a session ID the command goes to every live session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return runCapture(cmd.Context(), newClient(), cmd.OutOrStdout(), id)
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsCloseCmd)
}

func runSessions(ctx context.Context, client ControlClient, out io.Writer, format string) error {
	sessions, err := client.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return printResult(out, format, sessions, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tREMOTE\tAGE\tBYTES\tEVENTS\tSPANS\tDROPPED\tCATALOG\tRECORDING")
		for _, s := range sessions {
			catalog := "-"
			if s.Handshake {
				catalog = fmt.Sprintf("%d/%d/%d", s.Modules, s.Libraries, s.Symbols)
			}
			recording := s.Recording
			if recording == "" {
				recording = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
				s.ID, s.Remote, time.Since(s.StartedAt).Truncate(time.Second),
				s.Offset, s.Stats.Events, s.Stats.Spans, s.Stats.DroppedPackets, catalog, recording)
		}
	})
}

func runSessionClose(ctx context.Context, client ControlClient, out io.Writer, id string) error {
	if err := client.CloseSession(ctx, id); err != nil {
		return fmt.Errorf("failed to close session %s: %w", id, err)
	}
	fmt.Fprintf(out, "Session %s closing\n", id)
	return nil
}

func runCapture(ctx context.Context, client ControlClient, out io.Writer, id string) error {
	sent, err := client.Capture(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to request capture: %w", err)
	}
	if len(sent) == 0 {
		fmt.Fprintln(out, "No live sessions")
		return nil
	}
	fmt.Fprintf(out, "Capture requested for %d session(s): %s\n", len(sent), strings.Join(sent, ", "))
	return nil
}
