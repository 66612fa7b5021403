// Package cli implements the sqlgate command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sqlgate/pkg/cli/client"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultHost = "http://localhost:8000"

// exitError ends the process with code after the command already reported
// the failure itself.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{"error": err.Error()}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["code"] = apiErr.Code
			}
			_ = client.PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host    string
		apiKey  string
		token   string
		output  string
		profile string
		active  Profile
	)

	rootCmd := &cobra.Command{
		Use:           "sqlgate",
		Short:         "Guarded SQL gateway CLI",
		Long:          "Command-line interface for the sqlgate server, plus offline policy and statement checks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", defaultHost, "Gateway URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT bearer token for authentication")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")

	c := client.NewClient(host, apiKey, token)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadUserConfigOrEmpty()
		if err != nil {
			return err
		}
		p, err := cfg.ActiveProfile(profile)
		if err != nil {
			return err
		}
		active = p

		// flag > env > profile > default
		flags := cmd.Flags()
		resolve(flags.Changed("host"), &host, "SQLGATE_HOST", p.Host)
		resolve(flags.Changed("api-key"), &apiKey, "SQLGATE_API_KEY", p.APIKey)
		resolve(flags.Changed("token"), &token, "SQLGATE_TOKEN", p.Token)
		resolve(flags.Changed("output"), &output, "SQLGATE_OUTPUT", p.Output)

		if err := validateOutputFormat(output); err != nil {
			return err
		}
		if host, err = normalizeHost(host); err != nil {
			return err
		}
		// Keep the persistent flag in sync so getOutputFormat sees env/profile values.
		_ = cmd.Root().PersistentFlags().Set("output", output)

		c.BaseURL = host
		c.APIKey = apiKey
		c.Token = token
		return nil
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())

	// Offline checks
	rootCmd.AddCommand(newValidateCmd(&active))
	rootCmd.AddCommand(newPolicyCmd(&active))

	// Gateway calls
	rootCmd.AddCommand(newExecCmd(c))
	rootCmd.AddCommand(newExplainCmd(c))
	rootCmd.AddCommand(newPoliciesCmd(c))
	rootCmd.AddCommand(newMetaCmd(c))
	rootCmd.AddCommand(newReloadCmd(c))
	rootCmd.AddCommand(newHealthCmd(c))

	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
