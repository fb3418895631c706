// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"firestige.xyz/otrace/internal/command"
	"firestige.xyz/otrace/internal/config"
	logpkg "firestige.xyz/otrace/internal/log"
	_ "firestige.xyz/otrace/plugins" // built-in reporters
)

var (
	// Global flags
	configFile   string
	socketPath   string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "otrace",
	Short: "otrace - streaming decoder for binary execution traces",
	Long: `otrace receives execution traces from instrumented producers over TCP.

Each connection carries a session handshake, a catalog of modules, libraries and
symbols, and then a stream of span and counter events. otrace decodes the stream,
pairs span starts with their ends and hands the results to reporters
(console, log, file, kafka, udp).

The daemon is controlled locally over a Unix Domain Socket and optionally through
a Kafka command topic.`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/otrace.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "",
		"output format: table, json or yaml (default table on a terminal, json otherwise)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(simulateCmd)
}

// stdoutIsTerminal reports whether results go to an interactive terminal.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// initCommandLogging sends logs of client-side commands to stderr: text on a
// terminal, JSON when piped.
func initCommandLogging(level string) error {
	return logpkg.InitWithWriter(config.LogConfig{Level: level, Format: logpkg.FormatAuto}, os.Stderr)
}
