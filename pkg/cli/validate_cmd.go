package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sqlgate/internal/gateway"
	"sqlgate/internal/policy"
	"sqlgate/internal/validator"
	"sqlgate/pkg/cli/client"
)

// policyFlags are shared by the offline commands.
type policyFlags struct {
	path   string
	strict bool
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "policy", "", "Policy file (default $SQLGATE_POLICY, $POLICY_FILE, profile, or policies.yaml)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Reject unknown policy keys")
}

// resolvePath applies flag > env > profile > default.
func (f *policyFlags) resolvePath(active *Profile) string {
	if f.path != "" {
		return f.path
	}
	for _, key := range []string{"SQLGATE_POLICY", "POLICY_FILE"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if active != nil && active.Policy != "" {
		return active.Policy
	}
	return "policies.yaml"
}

func (f *policyFlags) load(active *Profile) (*policy.Policy, error) {
	return policy.LoadFile(f.resolvePath(active), policy.LoadOptions{Strict: f.strict})
}

// readStatement joins args, or reads stdin when there are none or the only
// argument is "-".
func readStatement(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read statement: %w", err)
		}
		args = []string{string(data)}
	}
	sql := gateway.Normalize(strings.Join(args, " "))
	if sql == "" {
		return "", fmt.Errorf("no SQL statement given")
	}
	return sql, nil
}

type validateOutput struct {
	Valid         bool     `json:"is_valid"`
	Violations    []string `json:"violations"`
	Rules         []string `json:"rules"`
	Policy        string   `json:"policy"`
	PolicyVersion int64    `json:"policy_version"`
}

func newValidateCmd(active *Profile) *cobra.Command {
	var pf policyFlags

	cmd := &cobra.Command{
		Use:   "validate [SQL | -]",
		Short: "Check a statement against a policy file offline",
		Long: "Parses the statement and checks it against the policy without contacting a server. " +
			"Exits with status 1 when the statement would be rejected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readStatement(cmd, args)
			if err != nil {
				return err
			}
			p, err := pf.load(active)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			v := validator.New(policy.NewStaticStore(p), logger)
			verdict := v.Validate(cmd.Context(), sql)

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				rules := verdict.Rules
				if rules == nil {
					rules = []string{}
				}
				if err := client.PrintJSON(out, validateOutput{
					Valid:         verdict.IsValid,
					Violations:    verdict.Violations,
					Rules:         rules,
					Policy:        p.Source(),
					PolicyVersion: v.Policy().Version(),
				}); err != nil {
					return err
				}
			} else if verdict.IsValid {
				_, _ = fmt.Fprintln(out, "Statement is allowed.")
			} else {
				_, _ = fmt.Fprintf(out, "Statement rejected with %d violation(s):\n", len(verdict.Violations))
				for i, msg := range verdict.Violations {
					_, _ = fmt.Fprintf(out, "  - [%s] %s\n", verdict.Rules[i], msg)
				}
			}

			if !verdict.IsValid {
				return &exitError{code: 1, msg: "statement rejected"}
			}
			return nil
		},
	}
	pf.register(cmd)

	return cmd
}
