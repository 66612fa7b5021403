// Package sqlast projects the PostgreSQL parse tree onto a small tagged-variant
// AST that the validator and the cost heuristics inspect.
//
// Only the node kinds policy checks care about are kept: statements, SELECT
// blocks, table and CTE references, column references, function calls and
// wildcards. Everything else in the parse tree is traversed but not
// represented, so a kept node's Parent is its nearest kept ancestor.
package sqlast

import (
	"sort"
)

// Kind tags a Node.
type Kind uint8

const (
	KindStatement Kind = iota + 1
	KindSelect
	KindTable
	KindCTERef
	KindColumn
	KindFunction
	KindWildcard
	KindCTE
)

var kindNames = map[Kind]string{
	KindStatement: "statement",
	KindSelect:    "select",
	KindTable:     "table",
	KindCTERef:    "cte_ref",
	KindColumn:    "column",
	KindFunction:  "function",
	KindWildcard:  "wildcard",
	KindCTE:       "cte",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Node is one element of the projected tree.
//
// Name holds the identifier as written in the source (quotes stripped), so an
// unquoted IIN stays IIN even though PostgreSQL folds it to iin. Qualifier is
// the preceding dotted part: the schema of a table, the table or alias of a
// column or wildcard, the schema of a function.
type Node struct {
	Kind      Kind
	Name      string
	Qualifier string
	// Location is the byte offset of the node in the source, or -1.
	Location int
	Parent   *Node
	Children []*Node

	// StarArg is set on a Function whose only argument is a wildcard,
	// as in COUNT(*) or COUNT(t.*).
	StarArg *Node
	// ArgCount is the number of arguments of a Function.
	ArgCount int
}

// Ancestor returns the nearest ancestor of the given kind, or nil.
func (n *Node) Ancestor(kind Kind) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Kind == kind {
			return p
		}
	}
	return nil
}

// Tree is a parsed single statement.
type Tree struct {
	SQL  string
	Root *Node

	stmtType   string
	rootSelect *Node
	selectInto bool
	hasWhere   bool
	whereCols  []*Node
	nodes      []*Node
}

// StatementType is the parser's name for the statement, e.g. "SelectStmt".
func (t *Tree) StatementType() string { return t.stmtType }

// IsSelect reports whether the statement is a plain query. SELECT ... INTO
// creates a table and does not count.
func (t *Tree) IsSelect() bool {
	return t.rootSelect != nil && !t.selectInto
}

// HasSelect reports whether a SELECT appears anywhere below the statement
// root, e.g. INSERT ... SELECT or a subquery in a WHERE clause.
func (t *Tree) HasSelect() bool {
	for _, n := range t.nodes {
		if n.Kind == KindSelect && n != t.rootSelect {
			return true
		}
	}
	return false
}

// HasWhere reports whether any WHERE clause exists in the statement.
func (t *Tree) HasWhere() bool { return t.hasWhere }

// WhereColumns returns the column references located inside WHERE clauses,
// ordered by source position.
func (t *Tree) WhereColumns() []*Node {
	return sortByLocation(append([]*Node(nil), t.whereCols...))
}

// Walk visits the tree in pre-order. Returning false from fn skips the
// node's children.
func (t *Tree) Walk(fn func(*Node) bool) {
	if t.Root == nil {
		return
	}
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// FindAll returns every node of the given kind ordered by source position.
// Nodes sharing a position keep their traversal order.
func (t *Tree) FindAll(kind Kind) []*Node {
	var out []*Node
	t.Walk(func(n *Node) bool {
		if n.Kind == kind {
			out = append(out, n)
		}
		return true
	})
	return sortByLocation(out)
}

func sortByLocation(nodes []*Node) []*Node {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Location < nodes[j].Location
	})
	return nodes
}
