package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/otrace/internal/config"
	"firestige.xyz/otrace/pkg/plugin"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the daemon.

Examples:
  otrace validate -c /etc/otrace/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile)
	},
}

func runValidate(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	var errs []error
	for i, rc := range cfg.Reporters {
		if _, err := plugin.GetReporterFactory(rc.Name); err != nil {
			errs = append(errs, fmt.Errorf("reporters[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	source := path
	if source == "" {
		source = "(defaults)"
	}
	names := make([]string, len(cfg.Reporters))
	for i, rc := range cfg.Reporters {
		names[i] = rc.Name
	}
	fmt.Fprintf(out, "VALID: %s: listen %s, byte order %s, correlate %t, %d reporter(s) %v\n",
		source, cfg.Server.Listen, cfg.Decoder.ByteOrder, cfg.Correlate.Enabled, len(names), names)
	return nil
}
