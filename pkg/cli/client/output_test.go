package client

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"name", "age"}, [][]string{{"Alice", "30"}, {"Bob", "25"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3, "expected header + 2 data rows")
	assert.Equal(t, "NAME   AGE", lines[0])
	assert.Equal(t, "Alice  30", lines[1])
	assert.Equal(t, "Bob    25", lines[2])
}

func TestPrintTable_EmptyColumns(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{}, [][]string{{"a"}})
	assert.Empty(t, buf.String())
}

func TestPrintTable_EmptyRows(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"id", "value"}, nil)
	assert.Equal(t, "ID  VALUE\n", buf.String())
}

func TestPrintTable_ShortRow(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"a", "b"}, [][]string{{"1"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1", strings.TrimSpace(lines[1]))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abcdef", truncate("abcdef", 0))
	assert.Equal(t, "abcdef", truncate("abcdef", 6))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]string{"hello": "world"}))

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "world", parsed["hello"])
	assert.Contains(t, buf.String(), "\n  ")

	buf.Reset()
	require.NoError(t, PrintJSON(&buf, nil))
	assert.Equal(t, "null\n", buf.String())
}

func TestPrintDetail(t *testing.T) {
	var buf bytes.Buffer
	PrintDetail(&buf, map[string]any{
		"id":          "123",
		"description": "some text",
		"status":      nil,
		"config":      map[string]any{"key": "val"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "config:"))
	assert.Contains(t, lines[0], `{"key":"val"}`)
	assert.True(t, strings.HasPrefix(lines[1], "description:"))
	assert.Equal(t, "id:"+strings.Repeat(" ", 9)+"  123", lines[2])
	assert.NotContains(t, lines[3], "<nil>")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "alice", want: "alice"},
		{name: "float", in: 42.0, want: "42"},
		{name: "bool", in: true, want: "true"},
		{name: "map", in: map[string]any{"k": "v"}, want: `{"k":"v"}`},
		{name: "slice", in: []any{"a", "b"}, want: `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestRows(t *testing.T) {
	records := []map[string]any{
		{"id": 1, "name": "foo"},
		{"id": 3, "tags": []any{"a"}},
	}

	rows := Rows(records, []string{"id", "name", "tags"})
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "foo", ""}, rows[0])
	assert.Equal(t, []string{"3", "", `["a"]`}, rows[1])

	assert.Empty(t, Rows(nil, []string{"id"}))
}

func TestColumns(t *testing.T) {
	rows := []map[string]any{{"b": 1, "a": 2}, {"c": 3}}
	assert.Equal(t, []string{"a", "b", "c"}, Columns(rows))
	assert.Empty(t, Columns(nil))
}
