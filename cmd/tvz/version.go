package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type versionPayload struct {
	Tool    string `json:"tool"`
	Version string `json:"version"`
	Go      string `json:"go"`
}

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := versionPayload{Tool: "tvz", Version: Version, Go: runtime.Version()}
		switch versionFormat {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		case "pretty", "":
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", p.Tool, p.Version, p.Go)
			return err
		default:
			return errors.Newf("unknown format %q (expected: pretty|json)", versionFormat)
		}
	},
}
