// Package cost turns a PostgreSQL execution plan into resource estimates and
// admission findings.
package cost

import (
	"bytes"
	"encoding/json"

	"sqlgate/internal/domain"
)

// PlanNode is one operator of an EXPLAIN (FORMAT JSON) plan.
type PlanNode struct {
	NodeType    string
	Relation    string
	Alias       string
	PlanRows    int64
	PlanWidth   int64
	TotalCost   float64
	StartupCost float64
	Children    []*PlanNode
}

type wireNode struct {
	NodeType    string      `json:"Node Type"`
	Relation    string      `json:"Relation Name"`
	Alias       string      `json:"Alias"`
	PlanRows    float64     `json:"Plan Rows"`
	PlanWidth   float64     `json:"Plan Width"`
	TotalCost   float64     `json:"Total Cost"`
	StartupCost float64     `json:"Startup Cost"`
	Plans       []*PlanNode `json:"Plans"`
}

// UnmarshalJSON decodes the engine's key names. Row and width estimates are
// accepted in float form.
func (n *PlanNode) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = PlanNode{
		NodeType:    w.NodeType,
		Relation:    w.Relation,
		Alias:       w.Alias,
		PlanRows:    int64(w.PlanRows),
		PlanWidth:   int64(w.PlanWidth),
		TotalCost:   w.TotalCost,
		StartupCost: w.StartupCost,
		Children:    w.Plans,
	}
	return nil
}

// NodeSummary is the flat, per-node view reported to callers.
type NodeSummary struct {
	Type        string  `json:"type"`
	Relation    *string `json:"relation"`
	Alias       *string `json:"alias"`
	PlanRows    int64   `json:"plan_rows"`
	PlanWidth   int64   `json:"plan_width"`
	TotalCost   float64 `json:"total_cost"`
	StartupCost float64 `json:"startup_cost"`
}

// Summary drops the children of n.
func (n *PlanNode) Summary() NodeSummary {
	s := NodeSummary{
		Type:        n.NodeType,
		PlanRows:    n.PlanRows,
		PlanWidth:   n.PlanWidth,
		TotalCost:   n.TotalCost,
		StartupCost: n.StartupCost,
	}
	if n.Relation != "" {
		rel := n.Relation
		s.Relation = &rel
	}
	if n.Alias != "" {
		alias := n.Alias
		s.Alias = &alias
	}
	return s
}

// Plan is a decoded EXPLAIN result.
type Plan struct {
	Root *PlanNode
	// Raw is the plan object as returned by the engine, wrapped in a
	// singleton list.
	Raw json.RawMessage
}

// ParsePlan decodes EXPLAIN (FORMAT JSON) output. The engine returns a list
// holding one {"Plan": {...}} object; a bare object is accepted too. Any
// other shape is a *domain.PlanFormatError.
func ParsePlan(raw []byte) (*Plan, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, domain.ErrPlanFormat()
	}

	obj := raw
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return nil, domain.ErrPlanFormat()
		}
		obj = bytes.TrimSpace(list[0])
	}
	if len(obj) == 0 || obj[0] != '{' {
		return nil, domain.ErrPlanFormat()
	}

	var doc struct {
		Plan json.RawMessage `json:"Plan"`
	}
	if err := json.Unmarshal(obj, &doc); err != nil {
		return nil, domain.ErrPlanFormat()
	}
	top := bytes.TrimSpace(doc.Plan)
	if len(top) == 0 || top[0] != '{' {
		return nil, domain.ErrPlanFormat()
	}

	var root PlanNode
	if err := json.Unmarshal(top, &root); err != nil {
		return nil, domain.ErrPlanFormat()
	}

	wrapped := make([]byte, 0, len(obj)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, obj...)
	wrapped = append(wrapped, ']')
	return &Plan{Root: &root, Raw: wrapped}, nil
}

// Flatten lists the nodes under root in pre-order.
func Flatten(root *PlanNode) []*PlanNode {
	if root == nil {
		return nil
	}
	var out []*PlanNode
	stack := []*PlanNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			if n.Children[i] != nil {
				stack = append(stack, n.Children[i])
			}
		}
	}
	return out
}

// CollectRelations returns the distinct relation names in first-seen order.
func CollectRelations(nodes []*PlanNode) []string {
	seen := make(map[string]struct{})
	var rels []string
	for _, n := range nodes {
		if n.Relation == "" {
			continue
		}
		if _, ok := seen[n.Relation]; ok {
			continue
		}
		seen[n.Relation] = struct{}{}
		rels = append(rels, n.Relation)
	}
	return rels
}
