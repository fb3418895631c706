package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the otrace daemon",
	Long: `Stop the otrace daemon gracefully.

The shutdown request goes over the Unix Domain Socket. The daemon stops accepting
producers, ends live sessions, drains reporters and exits. When the socket is gone
the process named by the PID file receives SIGTERM instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newClient(), cmd.OutOrStdout(), stopPIDFile, stopTimeout)
	},
}

var (
	stopPIDFile string
	stopTimeout time.Duration
)

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "/var/run/otrace.pid",
		"PID file used when the control socket is unavailable")
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 15*time.Second,
		"how long to wait for the process to exit after SIGTERM")
}

// stopByPID is replaced in tests.
var stopByPID = daemon.StopByPID

func runStop(ctx context.Context, client ControlClient, out io.Writer, pidFile string, timeout time.Duration) error {
	err := client.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "Shutdown requested")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) || pidFile == "" {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	if err := stopByPID(pidFile, timeout); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "Daemon stopped")
	return nil
}
