// Package policy holds the declarative access policy that governs which
// tables, columns and functions a query may reference, together with the
// resource budgets used for cost admission.
//
// A Policy value is immutable once built. Reloading produces a new value that
// replaces the old one through Store; nothing mutates a Policy in place.
package policy

import (
	"sort"
	"strings"
)

// Default resource budgets applied when a document omits them.
const (
	DefaultMaxCost         = 5e7
	DefaultMaxBytesScanned = int64(2 * 1024 * 1024 * 1024)
	DefaultMaxEstRows      = int64(20_000_000)
)

// Limits are the cost-admission budgets.
type Limits struct {
	MaxCost         float64 `json:"max_cost"`
	MaxBytesScanned int64   `json:"max_bytes_scanned"`
	MaxEstRows      int64   `json:"max_est_rows"`
}

// DefaultLimits returns the built-in budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxCost:         DefaultMaxCost,
		MaxBytesScanned: DefaultMaxBytesScanned,
		MaxEstRows:      DefaultMaxEstRows,
	}
}

// JoinEdge is one documented join path between two tables. It is reference
// data for consumers; the validator does not enforce it.
type JoinEdge struct {
	LeftTable  string `yaml:"left_table" json:"left_table"`
	RightTable string `yaml:"right_table" json:"right_table"`
	JoinKey    string `yaml:"join_key" json:"join_key"`
}

// Metric is a glossary entry mapping a business term to a formula.
type Metric struct {
	Formula string   `yaml:"formula" json:"formula"`
	Tables  []string `yaml:"tables" json:"tables"`
	Grain   []string `yaml:"grain" json:"grain"`
	Filter  *string  `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// Enumerable is a (table, column) pair whose distinct values are published
// as metadata.
type Enumerable struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// String renders the enumerable in its document form "table.column".
func (e Enumerable) String() string { return e.Table + "." + e.Column }

// Policy is a loaded, immutable access policy.
type Policy struct {
	version int64
	source  string

	allowTables    map[string]struct{}
	denyColumns    map[string]struct{}
	allowFunctions map[string]struct{}

	doc         Document
	joinGraph   []JoinEdge
	limits      Limits
	glossary    map[string]Metric
	enumerables []Enumerable
}

// Version is the load counter assigned by the Store (0 for standalone loads).
func (p *Policy) Version() int64 { return p.version }

// Source is the path the policy was read from, if any.
func (p *Policy) Source() string { return p.source }

// ValidateTable reports whether name is in allow_tables. The comparison is
// exact and case-sensitive.
func (p *Policy) ValidateTable(name string) bool {
	_, ok := p.allowTables[name]
	return ok
}

// ValidateColumn reports whether name may be referenced. Columns are allowed
// unless listed verbatim in deny_columns.
func (p *Policy) ValidateColumn(name string) bool {
	_, denied := p.denyColumns[name]
	return !denied
}

// FunctionsRestricted reports whether allow_functions is non-empty.
func (p *Policy) FunctionsRestricted() bool { return len(p.allowFunctions) > 0 }

// FunctionAllowed reports whether a function may be called. Matching is
// case-insensitive and an empty allow-list permits everything.
func (p *Policy) FunctionAllowed(name string) bool {
	if len(p.allowFunctions) == 0 {
		return true
	}
	_, ok := p.allowFunctions[strings.ToLower(name)]
	return ok
}

// Limits returns the cost budgets.
func (p *Policy) Limits() Limits { return p.limits }

// JoinGraph returns a copy of the documented join edges.
func (p *Policy) JoinGraph() []JoinEdge {
	return append(make([]JoinEdge, 0, len(p.joinGraph)), p.joinGraph...)
}

// Enumerables returns a copy of the enumerable (table, column) pairs.
func (p *Policy) Enumerables() []Enumerable {
	return append(make([]Enumerable, 0, len(p.enumerables)), p.enumerables...)
}

// AllowTables returns the allowed table names, sorted.
func (p *Policy) AllowTables() []string { return sortedKeys(p.allowTables) }

// LookupMetric finds a glossary entry by business term, ignoring case.
func (p *Policy) LookupMetric(term string) (Metric, bool) {
	m, ok := p.glossary[strings.ToLower(term)]
	return m, ok
}

// MetricFormula returns the formula for term, or "" when unknown.
func (p *Policy) MetricFormula(term string) string {
	m, _ := p.LookupMetric(term)
	return m.Formula
}

// MetricTables returns the tables a metric is computed from.
func (p *Policy) MetricTables(term string) []string {
	m, _ := p.LookupMetric(term)
	return m.Tables
}

// MetricGrain returns the grain columns of a metric.
func (p *Policy) MetricGrain(term string) []string {
	m, _ := p.LookupMetric(term)
	return m.Grain
}

// MetricFilter returns the metric's default filter, if it has one.
func (p *Policy) MetricFilter(term string) (string, bool) {
	m, ok := p.LookupMetric(term)
	if !ok || m.Filter == nil {
		return "", false
	}
	return *m.Filter, true
}

// Snapshot returns the policies view exposed to consumers. Limits are
// reported with defaults applied.
func (p *Policy) Snapshot() Snapshot {
	glossary := make(map[string]Metric, len(p.glossary))
	for k, v := range p.glossary {
		glossary[k] = v
	}
	return Snapshot{
		AllowTables:    nonNil(p.doc.AllowTables),
		DenyColumns:    nonNil(p.doc.DenyColumns),
		AllowFunctions: nonNil(p.doc.AllowFunctions),
		JoinGraph:      p.JoinGraph(),
		Limits:         p.limits,
		Glossary:       glossary,
	}
}

// Snapshot is the serializable policies view returned by GetPolicies.
type Snapshot struct {
	AllowTables    []string          `json:"allow_tables"`
	DenyColumns    []string          `json:"deny_columns"`
	AllowFunctions []string          `json:"allow_functions"`
	JoinGraph      []JoinEdge        `json:"join_graph"`
	Limits         Limits            `json:"limits"`
	Glossary       map[string]Metric `json:"glossary"`
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
