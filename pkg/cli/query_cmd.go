package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"sqlgate/internal/gateway"
	"sqlgate/pkg/cli/client"
)

type queryRequest struct {
	Query string `json:"query"`
}

// rejected reports a gateway failure that was already printed.
func rejected(cmd *cobra.Command, msg *string) error {
	text := "request failed"
	if msg != nil {
		text = *msg
	}
	if getOutputFormat(cmd) != "json" {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", text)
	}
	return &exitError{code: 1, msg: text}
}

func newExecCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [SQL | -]",
		Short: "Execute a statement through the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readStatement(cmd, args)
			if err != nil {
				return err
			}
			var res gateway.QueryResult
			if err := c.DoJSON(http.MethodPost, "/exec", queryRequest{Query: sql}, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				if err := client.PrintJSON(out, res); err != nil {
					return err
				}
			} else if res.Success {
				printRows(cmd, res.Data)
			}
			if !res.Success {
				return rejected(cmd, res.Error)
			}
			return nil
		},
	}
}

func printRows(cmd *cobra.Command, data []map[string]any) {
	out := cmd.OutOrStdout()
	columns := client.Columns(data)
	if len(columns) > 0 {
		client.PrintTable(out, columns, client.Rows(data, columns))
	}
	_, _ = fmt.Fprintf(out, "(%d row(s))\n", len(data))
}

func newExplainCmd(c *client.Client) *cobra.Command {
	var showPlan bool

	cmd := &cobra.Command{
		Use:   "explain [SQL | -]",
		Short: "Estimate a statement's cost without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readStatement(cmd, args)
			if err != nil {
				return err
			}
			var res gateway.ExplainResult
			if err := c.DoJSON(http.MethodPost, "/explain", queryRequest{Query: sql}, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				if err := client.PrintJSON(out, res); err != nil {
					return err
				}
			} else if res.Success {
				printExplain(cmd, res, showPlan)
			}
			switch {
			case !res.Success:
				return rejected(cmd, res.Error)
			case len(res.Violations) > 0:
				return &exitError{code: 1, msg: strings.Join(res.Violations, "; ")}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPlan, "plan", false, "Also print the raw JSON plan")

	return cmd
}

func printExplain(cmd *cobra.Command, res gateway.ExplainResult, showPlan bool) {
	out := cmd.OutOrStdout()
	detail := map[string]any{"mode": res.Mode}
	if res.EstCost != nil {
		detail["est_cost"] = numbers.Sprintf("%.2f", *res.EstCost)
	}
	if res.EstRows != nil {
		detail["est_rows"] = numbers.Sprintf("%d", *res.EstRows)
	}
	if res.EstBytesScanned != nil {
		detail["est_bytes_scanned"] = numbers.Sprintf("%d", *res.EstBytesScanned)
	}
	client.PrintDetail(out, detail)

	if len(res.Nodes) > 0 {
		_, _ = fmt.Fprintln(out)
		rows := make([][]string, len(res.Nodes))
		for i, n := range res.Nodes {
			rel := ""
			if n.Relation != nil {
				rel = *n.Relation
			}
			size := ""
			if s, ok := res.RelSizes[rel]; ok {
				size = numbers.Sprintf("%d", s)
			}
			rows[i] = []string{n.Type, rel, numbers.Sprintf("%d", n.PlanRows), numbers.Sprintf("%.2f", n.TotalCost), size}
		}
		client.PrintTable(out, []string{"node", "relation", "rows", "total_cost", "rel_bytes"}, rows)
	}

	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, v := range res.Violations {
		_, _ = fmt.Fprintf(out, "violation: %s\n", v)
	}
	if showPlan {
		_, _ = fmt.Fprintf(out, "\n%s\n", string(res.Plan))
	}
}
