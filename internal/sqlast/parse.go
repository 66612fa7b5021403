package sqlast

import (
	"errors"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var (
	ErrEmptyQuery         = errors.New("empty query")
	ErrMultipleStatements = errors.New("multi-statement queries are not allowed")
)

// Parse parses exactly one PostgreSQL statement.
func Parse(sql string) (*Tree, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, err
	}

	stmts := result.GetStmts()
	switch {
	case len(stmts) == 0:
		return nil, ErrEmptyQuery
	case len(stmts) > 1:
		return nil, ErrMultipleStatements
	}

	stmt := unwrap(stmts[0].GetStmt())
	if stmt == nil {
		return nil, ErrEmptyQuery
	}

	stmtType := string(stmt.Descriptor().Name())
	root := &Node{Kind: KindStatement, Name: stmtType, Location: int(stmts[0].GetStmtLocation())}
	b := &builder{
		src:      sql,
		tree:     &Tree{SQL: sql, Root: root, stmtType: stmtType, nodes: []*Node{root}},
		starArgs: make(map[*pg_query.ColumnRef]*Node),
	}
	if sel, ok := stmt.Interface().(*pg_query.SelectStmt); ok {
		b.tree.selectInto = sel.GetIntoClause() != nil
	}
	b.run(frame{msg: stmt, parent: root, loc: root.Location, root: true})
	return b.tree, nil
}

type frame struct {
	msg     protoreflect.Message
	parent  *Node
	scope   *cteScope
	inWhere bool
	loc     int
	root    bool
}

type builder struct {
	src  string
	tree *Tree
	// starArgs maps the sole ColumnRef argument of a call to the call, so
	// that a t.* argument can be linked back once it is projected.
	starArgs map[*pg_query.ColumnRef]*Node
}

func (b *builder) run(start frame) {
	stack := []frame{start}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = b.visit(f, stack)
	}
}

func (b *builder) visit(f frame, stack []frame) []frame {
	if loc, ok := locationOf(f.msg); ok {
		f.loc = loc
	}

	parent := f.parent
	switch m := f.msg.Interface().(type) {
	case *pg_query.SelectStmt:
		// A bare VALUES list is parsed as a SelectStmt but is not a query.
		if len(m.GetValuesLists()) == 0 {
			parent = b.add(f, KindSelect, "", "")
			if f.root {
				b.tree.rootSelect = parent
			}
		}
	case *pg_query.RangeVar:
		b.addRangeVar(m, f)
		return stack
	case *pg_query.ColumnRef:
		b.addColumnRef(m, f)
		return stack
	case *pg_query.A_Star:
		b.add(f, KindWildcard, "*", "")
		return stack
	case *pg_query.FuncCall:
		parent = b.addFuncCall(m, f)
	case *pg_query.CoalesceExpr:
		parent = b.addFunction(f, recoverKeyword(b.src, f.loc, "COALESCE"), len(m.GetArgs()))
	case *pg_query.MinMaxExpr:
		name := "GREATEST"
		if m.GetOp() == pg_query.MinMaxOp_IS_LEAST {
			name = "LEAST"
		}
		parent = b.addFunction(f, recoverKeyword(b.src, f.loc, name), len(m.GetArgs()))
	case *pg_query.SQLValueFunction:
		name := strings.TrimSuffix(strings.TrimPrefix(m.GetOp().String(), "SVFOP_"), "_N")
		parent = b.addFunction(f, recoverKeyword(b.src, f.loc, name), 0)
	case *pg_query.CommonTableExpr:
		name := recoverNames(b.src, f.loc, []string{m.GetCtename()})
		parent = b.add(f, KindCTE, name[0], "")
	case *pg_query.WithClause:
		return b.pushCTEs(m, f, stack)
	}

	return b.pushChildren(f, parent, stack)
}

// pushChildren queues every set message field of f.msg in declaration order.
func (b *builder) pushChildren(f frame, parent *Node, stack []frame) []frame {
	m := f.msg

	// CTEs declared on this statement are visible to its body but the
	// WITH clause itself resolves names in the enclosing scope.
	inner := f.scope
	if fd := m.Descriptor().Fields().ByName("with_clause"); fd != nil && m.Has(fd) {
		if w, ok := m.Get(fd).Message().Interface().(*pg_query.WithClause); ok {
			inner = f.scope.push(cteNames(w.GetCtes()))
		}
	}

	fields := m.Descriptor().Fields()
	for i := fields.Len() - 1; i >= 0; i-- {
		fd := fields.Get(i)
		if fd.Message() == nil || fd.IsMap() || !m.Has(fd) {
			continue
		}

		child := frame{parent: parent, scope: inner, inWhere: f.inWhere, loc: f.loc}
		switch fd.Name() {
		case "with_clause":
			child.scope = f.scope
		case "where_clause":
			child.inWhere = true
			b.tree.hasWhere = true
		}

		if fd.IsList() {
			list := m.Get(fd).List()
			for j := list.Len() - 1; j >= 0; j-- {
				child.msg = list.Get(j).Message()
				stack = append(stack, child)
			}
			continue
		}
		child.msg = m.Get(fd).Message()
		stack = append(stack, child)
	}
	return stack
}

// pushCTEs queues the CTE definitions of a WITH clause. Without RECURSIVE a
// definition sees only the CTEs declared before it, so a CTE named like a
// real table still resolves to the table inside its own body.
func (b *builder) pushCTEs(w *pg_query.WithClause, f frame, stack []frame) []frame {
	ctes := w.GetCtes()
	names := cteNames(ctes)
	for i := len(ctes) - 1; i >= 0; i-- {
		visible := names[:i]
		if w.GetRecursive() {
			visible = names
		}
		stack = append(stack, frame{
			msg:     ctes[i].ProtoReflect(),
			parent:  f.parent,
			scope:   f.scope.push(visible),
			inWhere: f.inWhere,
			loc:     f.loc,
		})
	}
	return stack
}

func (b *builder) add(f frame, kind Kind, name, qualifier string) *Node {
	n := &Node{Kind: kind, Name: name, Qualifier: qualifier, Location: f.loc, Parent: f.parent}
	f.parent.Children = append(f.parent.Children, n)
	b.tree.nodes = append(b.tree.nodes, n)
	if kind == KindColumn && f.inWhere {
		b.tree.whereCols = append(b.tree.whereCols, n)
	}
	return n
}

func (b *builder) addFunction(f frame, name string, args int) *Node {
	n := b.add(f, KindFunction, name, "")
	n.ArgCount = args
	return n
}

func (b *builder) addRangeVar(rv *pg_query.RangeVar, f frame) {
	var parts []string
	for _, p := range []string{rv.GetCatalogname(), rv.GetSchemaname()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, rv.GetRelname())

	name, qualifier := lastTwo(recoverNames(b.src, f.loc, parts))
	kind := KindTable
	if len(parts) == 1 && f.scope.has(rv.GetRelname()) {
		kind = KindCTERef
	}
	b.add(f, kind, name, qualifier)
}

func (b *builder) addColumnRef(ref *pg_query.ColumnRef, f frame) {
	var parts []string
	star := false
	for _, field := range ref.GetFields() {
		if s := field.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
			continue
		}
		if field.GetAStar() != nil {
			star = true
		}
	}
	names := recoverNames(b.src, f.loc, parts)

	if star {
		qualifier := ""
		if len(names) > 0 {
			qualifier = names[len(names)-1]
		}
		w := b.add(f, KindWildcard, "*", qualifier)
		if fn, ok := b.starArgs[ref]; ok {
			fn.StarArg = w
		}
		return
	}
	if len(names) == 0 {
		return
	}
	name, qualifier := lastTwo(names)
	b.add(f, KindColumn, name, qualifier)
}

func (b *builder) addFuncCall(fc *pg_query.FuncCall, f frame) *Node {
	var parts []string
	for _, p := range fc.GetFuncname() {
		if s := p.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
		}
	}
	name, qualifier := lastTwo(recoverNames(b.src, f.loc, parts))

	args := fc.GetArgs()
	fn := b.add(f, KindFunction, name, qualifier)
	fn.ArgCount = len(args)

	switch {
	case fc.GetAggStar():
		fn.ArgCount = 1
		fn.StarArg = b.add(frame{parent: fn, loc: f.loc, inWhere: f.inWhere}, KindWildcard, "*", "")
	case len(args) == 1:
		if ref := args[0].GetColumnRef(); ref != nil {
			b.starArgs[ref] = fn
		}
	}
	return fn
}

func lastTwo(names []string) (last, prev string) {
	if len(names) == 0 {
		return "", ""
	}
	last = names[len(names)-1]
	if len(names) > 1 {
		prev = names[len(names)-2]
	}
	return last, prev
}

func locationOf(m protoreflect.Message) (int, bool) {
	fd := m.Descriptor().Fields().ByName("location")
	if fd == nil || fd.Kind() != protoreflect.Int32Kind {
		return 0, false
	}
	loc := int(m.Get(fd).Int())
	return loc, loc >= 0
}

// unwrap returns the concrete message held by a Node's oneof.
func unwrap(n *pg_query.Node) protoreflect.Message {
	if n == nil {
		return nil
	}
	m := n.ProtoReflect()
	od := m.Descriptor().Oneofs().ByName("node")
	if od == nil {
		return nil
	}
	fd := m.WhichOneof(od)
	if fd == nil {
		return nil
	}
	return m.Get(fd).Message()
}

func cteNames(ctes []*pg_query.Node) []string {
	names := make([]string, 0, len(ctes))
	for _, c := range ctes {
		if cte := c.GetCommonTableExpr(); cte != nil {
			names = append(names, cte.GetCtename())
		}
	}
	return names
}

// cteScope is the chain of CTE names visible at a point of the statement,
// in the parser's folded spelling.
type cteScope struct {
	names  []string
	parent *cteScope
}

func (s *cteScope) push(names []string) *cteScope {
	if len(names) == 0 {
		return s
	}
	return &cteScope{names: names, parent: s}
}

func (s *cteScope) has(name string) bool {
	for ; s != nil; s = s.parent {
		for _, n := range s.names {
			if n == name {
				return true
			}
		}
	}
	return false
}
