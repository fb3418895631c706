package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/otrace/internal/config"
	"firestige.xyz/otrace/internal/core/decoder"
	"firestige.xyz/otrace/internal/pipeline"
	"firestige.xyz/otrace/internal/recorder"
	"firestige.xyz/otrace/internal/reporter"
)

var replayCmd = &cobra.Command{
	Use:   "replay <recording>...",
	Short: "Decode recorded sessions offline",
	Long: `Decode one or more recordings through the configured pipeline and reporters.

Recordings are the raw streams written by the daemon when the recorder is enabled.
Compression is taken from the file extension (.otr, .otr.zst, .otr.lz4).

Examples:
  otrace replay /var/lib/otrace/recordings/20260101T120000-1.otr.zst
  otrace replay -c config.yml --byte-order big capture.otr`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if replayByteOrder != "" {
			cfg.Decoder.ByteOrder = replayByteOrder
		}
		if err := initCommandLogging(cfg.Log.Level); err != nil {
			return err
		}
		return runReplay(cmd.Context(), cfg, args, cmd.OutOrStdout())
	},
}

var replayByteOrder string

func init() {
	replayCmd.Flags().StringVar(&replayByteOrder, "byte-order", "",
		"producer byte order: little or big (overrides decoder.byte_order)")
}

// runReplay decodes every file in order. A failing file does not stop the others.
func runReplay(ctx context.Context, cfg *config.GlobalConfig, files []string, out io.Writer) error {
	order, err := decoder.ParseByteOrder(cfg.Decoder.ByteOrder)
	if err != nil {
		return err
	}
	opts := decoder.Options{
		ByteOrder: order,
		Limits: decoder.Limits{
			MaxStringBytes: cfg.Decoder.MaxStringBytes,
			MaxExtraBytes:  cfg.Decoder.MaxExtraBytes,
		},
	}

	reporterCfgs := cfg.Reporters
	if len(reporterCfgs) == 0 {
		reporterCfgs = []config.ReporterConfig{{Name: "console"}}
	}
	mgr, err := reporter.NewManager(reporterCfgs)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	var errs []error
	for _, path := range files {
		stats, offset, err := replayFile(ctx, path, opts, cfg.Correlate, mgr)
		status := "ok"
		if err != nil {
			status = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		fmt.Fprintf(out, "%s: %d bytes, %d events, %d spans, %d anomalies, %d dropped packets: %s\n",
			filepath.Base(path), offset, stats.Events, stats.Spans, stats.Anomalies, stats.DroppedPackets, status)
		if ctx.Err() != nil {
			break
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := mgr.Stop(stopCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func replayFile(ctx context.Context, path string, opts decoder.Options, corr config.CorrelateConfig, mgr *reporter.Manager) (pipeline.Stats, int64, error) {
	src, err := recorder.Open(path)
	if err != nil {
		return pipeline.Stats{}, 0, err
	}
	defer src.Close()

	id := strings.TrimSuffix(filepath.Base(path), recorder.CompressionFromPath(path).Ext())
	p := pipeline.NewBuilder().
		WithSessionID(id).
		WithRemote("replay:" + path).
		WithReporters(mgr.Reporters()...).
		WithCorrelation(corr.Enabled, corr.MaxDepth).
		WithEvents(corr.EmitEvents).
		Build(context.WithoutCancel(ctx))

	session := decoder.NewSession(src, p, opts)
	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		p.Flush()
	}
	return p.Stats(), session.Offset(), err
}
