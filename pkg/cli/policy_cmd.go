package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sqlgate/internal/policy"
	"sqlgate/pkg/cli/client"
)

var numbers = message.NewPrinter(language.English)

func newPolicyCmd(active *Profile) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect policy files offline",
	}

	cmd.AddCommand(newPolicyShowCmd(active))
	cmd.AddCommand(newPolicyCheckCmd(active))

	return cmd
}

func newPolicyShowCmd(active *Profile) *cobra.Command {
	var pf policyFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy, with budget defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := pf.load(active)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(out, p.Snapshot())
			}
			printPolicy(cmd, p.Snapshot(), p.Enumerables())
			return nil
		},
	}
	pf.register(cmd)

	return cmd
}

func newPolicyCheckCmd(active *Profile) *cobra.Command {
	var pf policyFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load a policy file and report whether it is well formed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := pf.load(active)
			if err != nil {
				return err
			}
			snap := p.Snapshot()
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(out, map[string]any{
					"valid":           true,
					"policy":          p.Source(),
					"allow_tables":    len(snap.AllowTables),
					"deny_columns":    len(snap.DenyColumns),
					"allow_functions": len(snap.AllowFunctions),
					"enumerables":     len(p.Enumerables()),
					"glossary":        len(snap.Glossary),
				})
			}
			_, _ = fmt.Fprintf(out, "Policy %s is valid: %d table(s), %d denied column(s), %d function(s), %d enumerable(s), %d glossary term(s).\n",
				p.Source(), len(snap.AllowTables), len(snap.DenyColumns), len(snap.AllowFunctions), len(p.Enumerables()), len(snap.Glossary))
			return nil
		},
	}
	pf.register(cmd)

	return cmd
}

func printPolicy(cmd *cobra.Command, snap policy.Snapshot, enums []policy.Enumerable) {
	out := cmd.OutOrStdout()
	functions := "(unrestricted)"
	if len(snap.AllowFunctions) > 0 {
		functions = strings.Join(snap.AllowFunctions, ", ")
	}
	enumNames := make([]string, len(enums))
	for i, e := range enums {
		enumNames[i] = e.String()
	}
	client.PrintDetail(out, map[string]any{
		"allow_tables":      strings.Join(snap.AllowTables, ", "),
		"deny_columns":      strings.Join(snap.DenyColumns, ", "),
		"allow_functions":   functions,
		"enumerables":       strings.Join(enumNames, ", "),
		"max_cost":          numbers.Sprintf("%.0f", snap.Limits.MaxCost),
		"max_bytes_scanned": numbers.Sprintf("%d", snap.Limits.MaxBytesScanned),
		"max_est_rows":      numbers.Sprintf("%d", snap.Limits.MaxEstRows),
	})

	if len(snap.JoinGraph) > 0 {
		_, _ = fmt.Fprintln(out)
		rows := make([][]string, len(snap.JoinGraph))
		for i, e := range snap.JoinGraph {
			rows[i] = []string{e.LeftTable, e.RightTable, e.JoinKey}
		}
		client.PrintTable(out, []string{"left_table", "right_table", "join_key"}, rows)
	}

	if len(snap.Glossary) > 0 {
		_, _ = fmt.Fprintln(out)
		terms := make([]string, 0, len(snap.Glossary))
		for term := range snap.Glossary {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		rows := make([][]string, len(terms))
		for i, term := range terms {
			m := snap.Glossary[term]
			filter := ""
			if m.Filter != nil {
				filter = *m.Filter
			}
			rows[i] = []string{term, m.Formula, strings.Join(m.Tables, ", "), strings.Join(m.Grain, ", "), filter}
		}
		client.PrintTable(out, []string{"term", "formula", "tables", "grain", "filter"}, rows)
	}
}
