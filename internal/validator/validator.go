// Package validator checks a SQL statement against an access policy before it
// is allowed anywhere near the database.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sqlgate/internal/domain"
	"sqlgate/internal/policy"
	"sqlgate/internal/sqlast"
)

// Violation messages.
const (
	MsgOnlySelect = "Only SELECT statements are allowed"
	MsgWildcard   = "Wildcard '*' in projection is forbidden. List columns explicitly."
)

// Rule labels, used to count violations.
const (
	RuleParse     = "parse"
	RuleStatement = "statement_kind"
	RuleWildcard  = "wildcard"
	RuleTable     = "table"
	RuleColumn    = "column"
	RuleFunction  = "function"
)

// Verdict is the outcome of validating one statement.
type Verdict struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations"`
	// Rules holds the rule label of each violation, index-aligned.
	Rules []string `json:"-"`
}

// Err returns the verdict as an error, or nil when the statement is valid.
func (v Verdict) Err() error {
	if v.IsValid {
		return nil
	}
	if len(v.Rules) == 1 && v.Rules[0] == RuleParse {
		return &domain.ParseError{Message: v.Violations[0]}
	}
	return &domain.PolicyViolationError{Violations: v.Violations}
}

type verdictBuilder struct {
	v Verdict
}

func (b *verdictBuilder) add(rule, msg string) {
	b.v.Violations = append(b.v.Violations, msg)
	b.v.Rules = append(b.v.Rules, rule)
}

func (b *verdictBuilder) done() Verdict {
	b.v.IsValid = len(b.v.Violations) == 0
	if b.v.Violations == nil {
		b.v.Violations = []string{}
	}
	return b.v
}

// Validate checks sql against p. Parse failure is reported alone; every other
// breach is collected, grouped by rule and ordered by position within a rule.
func Validate(sql string, p *policy.Policy) Verdict {
	var b verdictBuilder

	tree, err := sqlast.Parse(sql)
	if err != nil {
		b.add(RuleParse, domain.ErrParse(err).Error())
		return b.done()
	}

	if !tree.IsSelect() && !tree.HasSelect() {
		b.add(RuleStatement, MsgOnlySelect)
	}

	for _, w := range tree.FindAll(sqlast.KindWildcard) {
		if !countStarExempt(w) {
			b.add(RuleWildcard, MsgWildcard)
		}
	}

	for _, t := range tree.FindAll(sqlast.KindTable) {
		if !p.ValidateTable(t.Name) {
			b.add(RuleTable, fmt.Sprintf("Table '%s' is not allowed", t.Name))
		}
	}

	for _, c := range tree.FindAll(sqlast.KindColumn) {
		if !p.ValidateColumn(c.Name) {
			b.add(RuleColumn, fmt.Sprintf("Column '%s' is forbidden by policy", c.Name))
		}
	}

	if p.FunctionsRestricted() {
		for _, fn := range tree.FindAll(sqlast.KindFunction) {
			if !p.FunctionAllowed(fn.Name) {
				b.add(RuleFunction, fmt.Sprintf("Function '%s' is not allowed", fn.Name))
			}
		}
	}

	return b.done()
}

// countStarExempt reports whether w is the sole argument of its nearest
// enclosing COUNT call.
func countStarExempt(w *sqlast.Node) bool {
	fn := w.Ancestor(sqlast.KindFunction)
	return fn != nil && strings.EqualFold(fn.Name, "count") && fn.StarArg == w
}

// Validator validates statements against whatever policy a Store currently
// holds.
type Validator struct {
	store  *policy.Store
	logger *slog.Logger
}

// New creates a Validator reading policies from store.
func New(store *policy.Store, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{store: store, logger: logger}
}

// Validate checks sql against the current policy. The policy snapshot is
// taken once, so a concurrent reload cannot affect this call.
func (v *Validator) Validate(ctx context.Context, sql string) Verdict {
	p := v.store.Current()
	verdict := Validate(sql, p)
	v.logger.DebugContext(ctx, "statement validated",
		"policy_version", p.Version(),
		"valid", verdict.IsValid,
		"violations", len(verdict.Violations))
	return verdict
}

// Policy returns the policy the next call would use.
func (v *Validator) Policy() *policy.Policy { return v.store.Current() }
