package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// resolveFormat picks the output format: the flag when set, table on a terminal, json otherwise.
func resolveFormat(flag string) string {
	if flag != "" {
		return flag
	}
	if stdoutIsTerminal() {
		return "table"
	}
	return "json"
}

// printResult writes v as json, yaml or, through table, as aligned columns.
// A nil table falls back to yaml.
func printResult(out io.Writer, format string, v any, table func(w io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		if table == nil {
			return printResult(out, "yaml", v, nil)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q (want table, json or yaml)", format)
	}
}
