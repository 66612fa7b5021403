package gateway

import (
	"encoding/json"

	"sqlgate/internal/cost"
	"sqlgate/internal/database"
	"sqlgate/internal/policy"
)

// ModeDry marks an EXPLAIN that only plans the statement.
const ModeDry = "dry"

// QueryResult is the outcome of Execute.
type QueryResult struct {
	Success  bool             `json:"success"`
	Data     []map[string]any `json:"data"`
	RowCount *int             `json:"row_count"`
	Error    *string          `json:"error"`
}

// ExplainResult is the outcome of Explain. Plan is the engine-native plan
// wrapped in a singleton list.
type ExplainResult struct {
	Success         bool               `json:"success"`
	Mode            string             `json:"mode"`
	Plan            json.RawMessage    `json:"plan"`
	Nodes           []cost.NodeSummary `json:"nodes"`
	RelSizes        map[string]int64   `json:"rel_sizes"`
	EstCost         *float64           `json:"est_cost"`
	EstRows         *int64             `json:"est_rows"`
	EstBytesScanned *int64             `json:"est_bytes_scanned"`
	Warnings        []string           `json:"warnings"`
	Violations      []string           `json:"violations"`
	Error           *string            `json:"error"`
}

// PolicyInfo is the outcome of GetPolicies.
type PolicyInfo struct {
	Success  bool            `json:"success"`
	Version  int64           `json:"version"`
	Policies policy.Snapshot `json:"policies"`
	Error    *string         `json:"error"`
}

// MetaInfo is the outcome of GetMetaInfo.
type MetaInfo struct {
	Success      bool                 `json:"success"`
	DatabaseInfo map[string]any       `json:"database_info"`
	Tables       []database.TableInfo `json:"tables"`
	Enumerables  []EnumerableValues   `json:"enumerables"`
	Error        *string              `json:"error"`
}

// EnumerableValues lists the distinct values of one policy enumerable.
type EnumerableValues struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Values []any  `json:"values"`
}

// ReloadResult is the outcome of ReloadPolicy.
type ReloadResult struct {
	Success bool    `json:"success"`
	Version int64   `json:"version"`
	Error   *string `json:"error"`
}

func newExplainResult() ExplainResult {
	return ExplainResult{
		Mode:       ModeDry,
		Plan:       json.RawMessage("[]"),
		Nodes:      []cost.NodeSummary{},
		RelSizes:   map[string]int64{},
		Warnings:   []string{},
		Violations: []string{},
	}
}

func errString(err error) *string {
	msg := err.Error()
	return &msg
}
