package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/otrace/internal/core/decoder"
	"firestige.xyz/otrace/internal/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a synthetic trace producer",
	Long: `Connect to a daemon and stream a synthetic trace session.

Each frame emits a nested span tree per thread followed by a counters update.
Capture commands sent by the daemon are logged and mark the next frame.

Examples:
  otrace simulate --addr 127.0.0.1:9876 --threads 4 --depth 5 --frames 600`,
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := decoder.ParseByteOrder(simByteOrder)
		if err != nil {
			return err
		}
		if err := initCommandLogging("info"); err != nil {
			return err
		}
		return runSimulate(cmd.Context(), simAddr, simulator.Config{
			Threads:    simThreads,
			Depth:      simDepth,
			Frames:     simFrames,
			Interval:   simInterval,
			ExtraEvery: simExtraEvery,
			ExtraBytes: simExtraBytes,
			ByteOrder:  order,
		}, cmd.OutOrStdout())
	},
}

var (
	simAddr       string
	simThreads    int
	simDepth      int
	simFrames     int
	simInterval   time.Duration
	simExtraEvery int
	simExtraBytes int
	simByteOrder  string
)

func init() {
	f := simulateCmd.Flags()
	f.StringVarP(&simAddr, "addr", "a", "127.0.0.1:9876", "daemon trace listen address")
	f.IntVar(&simThreads, "threads", 2, "producer threads")
	f.IntVar(&simDepth, "depth", 3, "span nesting depth per frame")
	f.IntVar(&simFrames, "frames", 0, "frames to send (0 = until interrupted)")
	f.DurationVar(&simInterval, "interval", 16*time.Millisecond, "pause between frames")
	f.IntVar(&simExtraEvery, "extra-every", 0, "attach extra data to every n-th frame (0 = never)")
	f.IntVar(&simExtraBytes, "extra-bytes", 64, "extra data size in bytes")
	f.StringVar(&simByteOrder, "byte-order", "little", "byte order: little or big")
}

func runSimulate(ctx context.Context, addr string, cfg simulator.Config, out io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	slog.Info("simulating producer", "addr", addr, "threads", cfg.Threads, "frames", cfg.Frames)
	sim := simulator.New(cfg)
	err = sim.Run(ctx, conn)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := sim.Stats()
	fmt.Fprintf(out, "Sent %d frames, %d events; %d capture request(s) received\n",
		stats.Frames, stats.Events, stats.Captures)
	return err
}
