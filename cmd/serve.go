package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/otrace/internal/daemon"
)

// serveCmd runs the daemon in the foreground.
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon"},
	Short:   "Run the otrace daemon in foreground",
	Long: `Run the otrace daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Start the configured reporters
  4. Accept producer connections on the trace listener
  5. Start UDS server for CLI control and the Kafka command consumer (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := daemon.Overrides{Listen: serveListen, PIDFile: servePIDFile}
		if cmd.Flag("socket").Changed {
			overrides.Socket = socketPath
		}
		return runServe(overrides)
	},
}

var (
	serveListen  string
	servePIDFile string
)

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "",
		"trace listen address (overrides server.listen)")
	serveCmd.Flags().StringVarP(&servePIDFile, "pidfile", "p", "",
		"PID file path (overrides control.pid_file)")
}

func runServe(overrides daemon.Overrides) error {
	d, err := daemon.New(configFile, overrides)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	// Blocks until shutdown
	return d.Run()
}
