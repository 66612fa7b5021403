package sqlast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func mustParse(t *testing.T, sql string) *Tree {
	t.Helper()
	tree, err := Parse(sql)
	require.NoError(t, err)
	return tree
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr error
	}{
		{name: "empty", sql: "", wantErr: ErrEmptyQuery},
		{name: "whitespace", sql: "  \n\t", wantErr: ErrEmptyQuery},
		{name: "two statements", sql: "SELECT 1; SELECT 2", wantErr: ErrMultipleStatements},
		{name: "syntax error", sql: "SELEC name FROM clients"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.sql)
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestIdentifierSpellingIsKept(t *testing.T) {
	tree := mustParse(t, `SELECT IIN, c."phoneNum", name FROM public.Clients c`)

	cols := tree.FindAll(KindColumn)
	require.Len(t, cols, 3)
	assert.Equal(t, []string{"IIN", "phoneNum", "name"}, names(cols))
	assert.Equal(t, "c", cols[1].Qualifier)
	assert.Equal(t, 7, cols[0].Location)

	tables := tree.FindAll(KindTable)
	require.Len(t, tables, 1)
	assert.Equal(t, "Clients", tables[0].Name)
	assert.Equal(t, "public", tables[0].Qualifier)
}

func TestIdentifierSpellingSurvivesComments(t *testing.T) {
	tree := mustParse(t, "SELECT c./* x */IIN, c.\n-- y\nphoneNum FROM public /* z */ . Clients c")

	assert.Equal(t, []string{"IIN", "phoneNum"}, names(tree.FindAll(KindColumn)))
	tables := tree.FindAll(KindTable)
	require.Len(t, tables, 1)
	assert.Equal(t, "Clients", tables[0].Name)
}

func TestCountStar(t *testing.T) {
	tree := mustParse(t, "SELECT city, COUNT(*) FROM clients GROUP BY city")

	fns := tree.FindAll(KindFunction)
	require.Len(t, fns, 1)
	assert.Equal(t, "COUNT", fns[0].Name)
	assert.Equal(t, 1, fns[0].ArgCount)
	require.NotNil(t, fns[0].StarArg)

	stars := tree.FindAll(KindWildcard)
	require.Len(t, stars, 1)
	assert.Same(t, fns[0].StarArg, stars[0])
	assert.Same(t, fns[0], stars[0].Ancestor(KindFunction))

	assert.Equal(t, []string{"city", "city"}, names(tree.FindAll(KindColumn)))
}

func TestQualifiedStarArgument(t *testing.T) {
	tree := mustParse(t, "SELECT count(c.*) FROM clients c")

	fns := tree.FindAll(KindFunction)
	require.Len(t, fns, 1)
	require.NotNil(t, fns[0].StarArg)
	assert.Equal(t, "c", fns[0].StarArg.Qualifier)
	assert.Empty(t, tree.FindAll(KindColumn))
}

func TestWildcards(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantStars int
		inCount   bool
	}{
		{name: "bare star", sql: "SELECT * FROM t", wantStars: 1},
		{name: "qualified star", sql: "SELECT t.* FROM t", wantStars: 1},
		{name: "subquery star under count", sql: "SELECT count((SELECT * FROM t LIMIT 1))", wantStars: 1, inCount: true},
		{name: "star in exists", sql: "SELECT a FROM t WHERE EXISTS (SELECT * FROM s)", wantStars: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree := mustParse(t, tc.sql)
			stars := tree.FindAll(KindWildcard)
			require.Len(t, stars, tc.wantStars)

			fn := stars[0].Ancestor(KindFunction)
			if tc.inCount {
				require.NotNil(t, fn)
				assert.Nil(t, fn.StarArg)
			} else {
				assert.Nil(t, fn)
			}
		})
	}
}

func TestStatementKind(t *testing.T) {
	tests := []struct {
		sql       string
		stmtType  string
		isSelect  bool
		hasSelect bool
		hasWhere  bool
	}{
		{sql: "SELECT a FROM t", stmtType: "SelectStmt", isSelect: true},
		{sql: "SELECT a FROM t UNION SELECT b FROM s", stmtType: "SelectStmt", isSelect: true, hasSelect: true},
		{sql: "SELECT a INTO n FROM t", stmtType: "SelectStmt"},
		{sql: "INSERT INTO t VALUES (1)", stmtType: "InsertStmt"},
		{sql: "INSERT INTO t SELECT a FROM s", stmtType: "InsertStmt", hasSelect: true},
		{sql: "DELETE FROM t WHERE id IN (SELECT id FROM s)", stmtType: "DeleteStmt", hasSelect: true, hasWhere: true},
		{sql: "DROP TABLE t", stmtType: "DropStmt"},
		{sql: "WITH x AS (SELECT 1 AS a) SELECT a FROM x", stmtType: "SelectStmt", isSelect: true, hasSelect: true},
	}

	for _, tc := range tests {
		t.Run(tc.sql, func(t *testing.T) {
			tree := mustParse(t, tc.sql)
			assert.Equal(t, tc.stmtType, tree.StatementType())
			assert.Equal(t, tc.isSelect, tree.IsSelect())
			assert.Equal(t, tc.hasSelect, tree.HasSelect())
			assert.Equal(t, tc.hasWhere, tree.HasWhere())
		})
	}
}

func TestCTEReferences(t *testing.T) {
	tree := mustParse(t, "WITH recent AS (SELECT id FROM orders) SELECT id FROM recent")

	assert.Equal(t, []string{"orders"}, names(tree.FindAll(KindTable)))
	assert.Equal(t, []string{"recent"}, names(tree.FindAll(KindCTERef)))
	assert.Equal(t, []string{"recent"}, names(tree.FindAll(KindCTE)))
}

func TestCTEShadowingTable(t *testing.T) {
	// Without RECURSIVE the body refers to the real table.
	tree := mustParse(t, "WITH secrets AS (SELECT id FROM secrets) SELECT id FROM secrets")
	assert.Equal(t, []string{"secrets"}, names(tree.FindAll(KindTable)))
	assert.Equal(t, []string{"secrets"}, names(tree.FindAll(KindCTERef)))

	// A schema-qualified name is never a CTE.
	tree = mustParse(t, "WITH t AS (SELECT 1 AS a) SELECT a FROM public.t")
	assert.Equal(t, []string{"t"}, names(tree.FindAll(KindTable)))
	assert.Empty(t, tree.FindAll(KindCTERef))

	// Later CTEs see earlier ones.
	tree = mustParse(t, "WITH a AS (SELECT x FROM base), b AS (SELECT x FROM a) SELECT x FROM b")
	assert.Equal(t, []string{"base"}, names(tree.FindAll(KindTable)))
	assert.Equal(t, []string{"a", "b"}, names(tree.FindAll(KindCTERef)))
}

func TestFunctions(t *testing.T) {
	tree := mustParse(t, "SELECT coalesce(a, 0), GREATEST(a, b), CURRENT_DATE, pg_catalog.Upper(c) FROM t")

	fns := tree.FindAll(KindFunction)
	assert.Equal(t, []string{"coalesce", "GREATEST", "CURRENT_DATE", "Upper"}, names(fns))
	assert.Equal(t, 2, fns[0].ArgCount)
	assert.Equal(t, "pg_catalog", fns[3].Qualifier)
}

func TestFindAllUsesSourceOrder(t *testing.T) {
	tree := mustParse(t, "WITH x AS (SELECT q FROM t) SELECT p FROM x")
	assert.Equal(t, []string{"q", "p"}, names(tree.FindAll(KindColumn)))
}

func TestWhereColumns(t *testing.T) {
	tree := mustParse(t, "SELECT a FROM t WHERE created_at > now() - interval '1 day' AND b = 1")

	require.True(t, tree.HasWhere())
	assert.Equal(t, []string{"created_at", "b"}, names(tree.WhereColumns()))
	assert.Equal(t, []string{"now"}, names(tree.FindAll(KindFunction)))

	tree = mustParse(t, "SELECT a FROM t")
	assert.False(t, tree.HasWhere())
	assert.Empty(t, tree.WhereColumns())
}

func TestWalkSkipsChildren(t *testing.T) {
	tree := mustParse(t, "SELECT a, (SELECT b FROM s) FROM t")

	var seen []string
	tree.Walk(func(n *Node) bool {
		if n.Kind == KindColumn {
			seen = append(seen, n.Name)
		}
		// Stop at nested SELECT blocks.
		return n.Kind != KindSelect || n.Parent == tree.Root
	})
	assert.Equal(t, []string{"a"}, seen)

	col := tree.FindAll(KindColumn)[1]
	assert.Equal(t, "b", col.Name)
	inner := col.Ancestor(KindSelect)
	require.NotNil(t, inner)
	assert.NotSame(t, tree.Root.Children[0], inner)
}
