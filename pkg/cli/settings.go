package cli

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// getOutputFormat returns the effective --output value after PersistentPreRunE
// has resolved it.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	switch output {
	case "", outputTable, outputJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format %q: use %q or %q", output, outputTable, outputJSON)
}

// normalizeHost checks that host is a bare http(s) gateway URL and returns it
// without a trailing slash.
func normalizeHost(host string) (string, error) {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return "", fmt.Errorf("invalid host: gateway URL cannot be empty")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", trimmed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid host %q: scheme must be http or https", trimmed)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid host %q: missing host", trimmed)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("invalid host %q: gateway endpoints live at the root, drop the path", trimmed)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid host %q: host must not include query or fragment", trimmed)
	}
	if u.User != nil {
		return "", fmt.Errorf("invalid host %q: pass credentials with --api-key or --token", trimmed)
	}
	return strings.TrimSuffix(trimmed, "/"), nil
}

// resolve fills dst from the environment or the profile unless the flag was
// set explicitly.
func resolve(changed bool, dst *string, envKey, profileValue string) {
	if changed {
		return
	}
	if v := os.Getenv(envKey); v != "" {
		*dst = v
	} else if profileValue != "" {
		*dst = profileValue
	}
}
