package cost

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sqlgate/internal/policy"
	"sqlgate/internal/sqlast"
)

// DefaultRowWidth is assumed for nodes that report no width.
const DefaultRowWidth = 64

// Warning messages without parameters.
const (
	WarnMissingLimit      = "missing LIMIT"
	WarnMissingTimeFilter = "missing time/date filter (heuristic)"
)

var (
	limitRe    = regexp.MustCompile(`(?i)\blimit\b`)
	dateColRe  = regexp.MustCompile(`(?i)(^|_)(date|datetime|time|timestamp|day|month|year|dt|ts)($|_)|_at$`)
	whereRe    = regexp.MustCompile(`(?i)\bwhere\b`)
	identRe    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	numPrinter = message.NewPrinter(language.English)
)

// SizeFetcher resolves on-disk relation sizes in bytes. Unknown relations
// are absent from the result.
type SizeFetcher interface {
	RelationSizes(ctx context.Context, relations []string) (map[string]int64, error)
}

// SizeFetcherFunc adapts a function to SizeFetcher.
type SizeFetcherFunc func(ctx context.Context, relations []string) (map[string]int64, error)

func (f SizeFetcherFunc) RelationSizes(ctx context.Context, relations []string) (map[string]int64, error) {
	return f(ctx, relations)
}

// Verdict is the outcome of assessing one plan. Violations block execution;
// warnings are advisory.
type Verdict struct {
	Nodes           []*PlanNode
	RelSizes        map[string]int64
	EstCost         float64
	EstRows         int64
	EstBytesScanned int64
	Warnings        []string
	Violations      []string
}

// Admitted reports whether the plan stays within every hard budget.
func (v *Verdict) Admitted() bool { return len(v.Violations) == 0 }

// EstimateBytesScanned sums a per-operator estimate over all nodes. Seq Scan
// counts the whole relation; index scans, hashes, sorts and aggregates count
// rows times width. Repeated stages over the same rows are counted again.
func EstimateBytesScanned(nodes []*PlanNode, sizes map[string]int64) int64 {
	var total int64
	for _, n := range nodes {
		switch n.NodeType {
		case "Seq Scan":
			total += sizes[n.Relation]
		case "Index Scan", "Index Only Scan",
			"Hash", "Sort", "Aggregate", "GroupAggregate", "HashAggregate":
			width := n.PlanWidth
			if width == 0 {
				width = DefaultRowWidth
			}
			total += n.PlanRows * width
		}
	}
	return total
}

// Assess estimates plan against limits. The fetcher is called once, and only
// when the plan references at least one relation.
func Assess(ctx context.Context, plan *Plan, fetcher SizeFetcher, limits policy.Limits, rawSQL string) (*Verdict, error) {
	v := &Verdict{
		RelSizes:   map[string]int64{},
		Warnings:   []string{},
		Violations: []string{},
	}
	if plan == nil || plan.Root == nil {
		return v, nil
	}

	v.Nodes = Flatten(plan.Root)
	if rels := CollectRelations(v.Nodes); len(rels) > 0 && fetcher != nil {
		sizes, err := fetcher.RelationSizes(ctx, rels)
		if err != nil {
			return nil, fmt.Errorf("fetch relation sizes: %w", err)
		}
		for k, size := range sizes {
			v.RelSizes[k] = size
		}
	}

	v.EstCost = plan.Root.TotalCost
	v.EstRows = plan.Root.PlanRows
	v.EstBytesScanned = EstimateBytesScanned(v.Nodes, v.RelSizes)

	if !HasLimit(rawSQL) {
		v.Warnings = append(v.Warnings, WarnMissingLimit)
	}
	if MissingTimeFilter(rawSQL) {
		v.Warnings = append(v.Warnings, WarnMissingTimeFilter)
	}
	if v.EstRows > limits.MaxEstRows {
		v.Warnings = append(v.Warnings, numPrinter.Sprintf("too many rows estimated (> %d)", limits.MaxEstRows))
	}
	if v.EstCost > limits.MaxCost {
		v.Violations = append(v.Violations, fmt.Sprintf("estimated cost exceeds budget (%.0f > %.0f)", v.EstCost, limits.MaxCost))
	}
	if v.EstBytesScanned > limits.MaxBytesScanned {
		v.Violations = append(v.Violations, numPrinter.Sprintf("estimated bytes scanned exceeds budget (%d > %d)",
			v.EstBytesScanned, limits.MaxBytesScanned))
	}
	if big := largeSeqScans(v.Nodes, v.RelSizes, limits.MaxBytesScanned/2); len(big) > 0 {
		v.Warnings = append(v.Warnings, "seq scan on large relation(s): "+strings.Join(big, ", "))
	}
	return v, nil
}

func largeSeqScans(nodes []*PlanNode, sizes map[string]int64, threshold int64) []string {
	var out []string
	for _, n := range nodes {
		if n.NodeType != "Seq Scan" || n.Relation == "" {
			continue
		}
		size, ok := sizes[n.Relation]
		if !ok || size < threshold {
			continue
		}
		out = append(out, numPrinter.Sprintf("%s ~ %d bytes", n.Relation, size))
	}
	return out
}

// HasLimit reports whether sql mentions a LIMIT clause.
func HasLimit(sql string) bool { return limitRe.MatchString(sql) }

// MissingTimeFilter reports whether sql has a WHERE clause in which no column
// looks like a date or timestamp. Statements that do not parse fall back to
// a scan of the raw text.
func MissingTimeFilter(sql string) bool {
	tree, err := sqlast.Parse(sql)
	if err != nil {
		return textMissingTimeFilter(sql)
	}
	if !tree.HasWhere() {
		return false
	}
	for _, c := range tree.WhereColumns() {
		if dateColRe.MatchString(c.Name) {
			return false
		}
	}
	return true
}

func textMissingTimeFilter(sql string) bool {
	loc := whereRe.FindStringIndex(sql)
	if loc == nil {
		return false
	}
	for _, word := range identRe.FindAllString(sql[loc[1]:], -1) {
		if dateColRe.MatchString(word) {
			return false
		}
	}
	return true
}
