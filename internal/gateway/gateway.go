// Package gateway is the request-level orchestration of sqlgate: it validates
// statements against the active policy, opens one database session per call
// and turns every outcome into a structured result.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"sqlgate/internal/cost"
	"sqlgate/internal/database"
	"sqlgate/internal/domain"
	"sqlgate/internal/metrics"
	"sqlgate/internal/policy"
	"sqlgate/internal/sqlast"
	"sqlgate/internal/validator"
)

// Operation labels.
const (
	OpExecute  = "execute"
	OpExplain  = "explain"
	OpMeta     = "meta"
	OpPolicies = "policies"
	OpReload   = "reload"
)

const outcomeOK = "ok"

// DefaultEnumerableLimit caps the distinct values listed per enumerable.
const DefaultEnumerableLimit = 1000

// Options configure a Gateway.
type Options struct {
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	EnumerableLimit int
}

// Gateway serves Execute, Explain and the metadata operations. It holds no
// connection between calls and is safe for concurrent use.
type Gateway struct {
	store     *policy.Store
	validator *validator.Validator
	dialer    database.Dialer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	enumLimit int
}

// New creates a Gateway reading policies from store and opening sessions
// through dialer.
func New(store *policy.Store, dialer database.Dialer, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.EnumerableLimit
	if limit <= 0 {
		limit = DefaultEnumerableLimit
	}

	g := &Gateway{
		store:     store,
		validator: validator.New(store, logger),
		dialer:    dialer,
		logger:    logger,
		metrics:   opts.Metrics,
		enumLimit: limit,
	}
	g.metrics.SetPolicyVersion(store.Current().Version())
	store.OnReload(func(p *policy.Policy) {
		g.metrics.SetPolicyVersion(p.Version())
	})
	return g
}

// Normalize trims surrounding whitespace and one trailing statement
// terminator.
func Normalize(query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	return strings.TrimSpace(q)
}

// Validate checks query against the active policy without touching the
// database.
func (g *Gateway) Validate(ctx context.Context, query string) validator.Verdict {
	return g.validator.Validate(ctx, Normalize(query))
}

// Execute validates query and, when admitted, runs it in a fresh read-only
// session. Every failure is reported in the result.
func (g *Gateway) Execute(ctx context.Context, query string) QueryResult {
	start := time.Now()
	sql := Normalize(query)

	verdict := g.validator.Validate(ctx, sql)
	if !verdict.IsValid {
		for _, rule := range verdict.Rules {
			g.metrics.AddViolation(rule)
		}
		err := verdict.Err()
		g.finish(ctx, OpExecute, start, err)
		return QueryResult{Error: errString(err)}
	}

	data, err := g.query(ctx, sql)
	g.finish(ctx, OpExecute, start, err, "rows", len(data))
	if err != nil {
		return QueryResult{Error: errString(err)}
	}

	n := len(data)
	return QueryResult{Success: true, Data: data, RowCount: &n}
}

func (g *Gateway) query(ctx context.Context, sql string) ([]map[string]any, error) {
	sess, err := g.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer g.closeSession(ctx, sess)
	return sess.QueryMaps(ctx, sql)
}

// Explain plans query without running it and assesses the plan against the
// active budgets. Budget violations are reported in the result, which still
// counts as a successful explain.
func (g *Gateway) Explain(ctx context.Context, query string) ExplainResult {
	start := time.Now()
	res := newExplainResult()
	sql := Normalize(query)

	if _, err := sqlast.Parse(sql); err != nil {
		perr := domain.ErrParse(err)
		g.metrics.AddViolation(validator.RuleParse)
		g.finish(ctx, OpExplain, start, perr)
		res.Error = errString(perr)
		return res
	}

	limits := g.store.Current().Limits()
	err := g.explain(ctx, sql, limits, &res)
	if err == nil && len(res.Violations) > 0 {
		err = &domain.CostViolationError{Violations: res.Violations}
	}
	g.finish(ctx, OpExplain, start, err, "warnings", len(res.Warnings))

	var costErr *domain.CostViolationError
	if err != nil && !errors.As(err, &costErr) {
		res.Error = errString(err)
		return res
	}
	res.Success = true
	return res
}

func (g *Gateway) explain(ctx context.Context, sql string, limits policy.Limits, res *ExplainResult) error {
	sess, err := g.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer g.closeSession(ctx, sess)

	raw, err := sess.ExplainJSON(ctx, sql)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	plan, err := cost.ParsePlan(raw)
	if err != nil {
		return err
	}
	verdict, err := cost.Assess(ctx, plan, sess, limits, sql)
	if err != nil {
		return domain.ErrExecution(err)
	}

	res.Plan = plan.Raw
	res.Nodes = make([]cost.NodeSummary, 0, len(verdict.Nodes))
	for _, n := range verdict.Nodes {
		res.Nodes = append(res.Nodes, n.Summary())
	}
	res.RelSizes = verdict.RelSizes
	res.EstCost = &verdict.EstCost
	res.EstRows = &verdict.EstRows
	res.EstBytesScanned = &verdict.EstBytesScanned
	res.Warnings = verdict.Warnings
	res.Violations = verdict.Violations

	g.metrics.ObserveBytesScanned(verdict.EstBytesScanned)
	for range verdict.Violations {
		g.metrics.AddViolation("cost")
	}
	return nil
}

// GetPolicies returns the active policy document.
func (g *Gateway) GetPolicies(ctx context.Context) PolicyInfo {
	start := time.Now()
	p := g.store.Current()
	g.finish(ctx, OpPolicies, start, nil)
	return PolicyInfo{Success: true, Version: p.Version(), Policies: p.Snapshot()}
}

// GetMetaInfo describes the database, its user tables and the distinct
// values of every enumerable named by the active policy.
func (g *Gateway) GetMetaInfo(ctx context.Context) MetaInfo {
	start := time.Now()
	enums := g.store.Current().Enumerables()

	res, err := g.metaInfo(ctx, enums)
	g.finish(ctx, OpMeta, start, err)
	if err != nil {
		return MetaInfo{Error: errString(err)}
	}
	res.Success = true
	return res
}

func (g *Gateway) metaInfo(ctx context.Context, enums []policy.Enumerable) (MetaInfo, error) {
	var res MetaInfo

	sess, err := g.dialer.Dial(ctx)
	if err != nil {
		return res, err
	}
	defer g.closeSession(ctx, sess)

	if res.DatabaseInfo, err = sess.DatabaseInfo(ctx); err != nil {
		return res, domain.ErrExecution(err)
	}
	if res.Tables, err = sess.Tables(ctx); err != nil {
		return res, domain.ErrExecution(err)
	}

	res.Enumerables = make([]EnumerableValues, 0, len(enums))
	for _, e := range enums {
		values, err := sess.DistinctValues(ctx, e.Table, e.Column, g.enumLimit)
		if err != nil {
			return res, domain.ErrExecution(err)
		}
		res.Enumerables = append(res.Enumerables, EnumerableValues{
			Table:  e.Table,
			Column: e.Column,
			Values: values,
		})
	}
	return res, nil
}

// ReloadPolicy re-reads the policy file. A failed reload keeps the previous
// policy and reports the load error.
func (g *Gateway) ReloadPolicy(ctx context.Context) ReloadResult {
	start := time.Now()
	p, err := g.store.Reload(ctx)
	g.finish(ctx, OpReload, start, err)
	if err != nil {
		return ReloadResult{Version: g.store.Current().Version(), Error: errString(err)}
	}
	return ReloadResult{Success: true, Version: p.Version()}
}

// Policy returns the active policy.
func (g *Gateway) Policy() *policy.Policy { return g.store.Current() }

func (g *Gateway) closeSession(ctx context.Context, sess *database.Session) {
	if err := sess.Close(); err != nil {
		g.logger.WarnContext(ctx, "close database session", "error", err)
	}
}

func (g *Gateway) finish(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	elapsed := time.Since(start)
	outcome := outcomeOK
	if err != nil {
		outcome = domain.Kind(err)
	}
	g.metrics.ObserveRequest(op, outcome, elapsed)

	attrs = append(attrs, "operation", op, "outcome", outcome, "duration", elapsed)
	if err != nil {
		g.logger.WarnContext(ctx, "request rejected", append(attrs, "error", err)...)
		return
	}
	g.logger.InfoContext(ctx, "request completed", attrs...)
}
