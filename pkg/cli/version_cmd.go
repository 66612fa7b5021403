package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"sqlgate/pkg/cli/client"
)

type buildInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

// currentBuild describes this binary. When commit was not stamped with
// -ldflags, the VCS revision recorded by the toolchain is used instead.
func currentBuild() buildInfo {
	b := buildInfo{
		Version:  version,
		Commit:   commit,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if b.Commit != "none" {
		return b
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				b.Commit = s.Value
			}
		}
	}
	return b
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := currentBuild()
			if getOutputFormat(cmd) == outputJSON {
				return client.PrintJSON(cmd.OutOrStdout(), b)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sqlgate %s (commit %s, %s %s)\n", b.Version, b.Commit, b.Go, b.Platform)
			return nil
		},
	}
}
