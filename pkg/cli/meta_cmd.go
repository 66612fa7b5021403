package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"sqlgate/internal/gateway"
	"sqlgate/pkg/cli/client"
)

func newPoliciesCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Show the policy the server is enforcing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res gateway.PolicyInfo
			if err := c.DoJSON(http.MethodGet, "/getPolicies", nil, &res); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if err := client.PrintJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else if res.Success {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Policy version %d\n\n", res.Version)
				printPolicy(cmd, res.Policies, nil)
			}
			if !res.Success {
				return rejected(cmd, res.Error)
			}
			return nil
		},
	}
}

func newMetaCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Show database, table and enumerable metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res gateway.MetaInfo
			if err := c.DoJSON(http.MethodGet, "/getMetainfo", nil, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				if err := client.PrintJSON(out, res); err != nil {
					return err
				}
			} else if res.Success {
				client.PrintDetail(out, res.DatabaseInfo)

				_, _ = fmt.Fprintln(out)
				rows := make([][]string, 0, len(res.Tables))
				for _, t := range res.Tables {
					cols := make([]string, len(t.Columns))
					for i, col := range t.Columns {
						cols[i] = col.Name + " " + col.Type
					}
					rows = append(rows, []string{t.Schema, t.Name, t.Owner, strings.Join(cols, ", ")})
				}
				client.PrintTable(out, []string{"schema", "table", "owner", "columns"}, rows)

				if len(res.Enumerables) > 0 {
					_, _ = fmt.Fprintln(out)
					rows = rows[:0]
					for _, e := range res.Enumerables {
						vals := make([]string, len(e.Values))
						for i, v := range e.Values {
							vals[i] = client.FormatValue(v)
						}
						rows = append(rows, []string{e.Table, e.Column, strings.Join(vals, ", ")})
					}
					client.PrintTable(out, []string{"table", "column", "values"}, rows)
				}
			}
			if !res.Success {
				return rejected(cmd, res.Error)
			}
			return nil
		},
	}
}

func newReloadCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the server to re-read its policy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res gateway.ReloadResult
			if err := c.DoJSON(http.MethodPost, "/reloadPolicies", nil, &res); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if err := client.PrintJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else if res.Success {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Policy reloaded, now at version %d\n", res.Version)
			}
			if !res.Success {
				return rejected(cmd, res.Error)
			}
			return nil
		},
	}
}

func newHealthCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res struct {
				Status        string `json:"status"`
				PolicyVersion int64  `json:"policy_version"`
			}
			if err := c.DoJSON(http.MethodGet, "/healthz", nil, &res); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(cmd.OutOrStdout(), res)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (policy version %d)\n", res.Status, res.PolicyVersion)
			return nil
		},
	}
}
