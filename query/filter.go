// Package query turns the declarative filter/sort expressions of the query
// string into native SQL predicates, constructing and deduplicating the
// relationship joins the expressions traverse.
package query

import (
	"encoding/json"
	"fmt"

	"github.com/apifabric/jsonapi/apierror"
)

// FilterNode is either a leaf (field path, operator, value) or a composite
// over child nodes. Built fresh per request and consumed once by the
// compiler.
type FilterNode struct {
	// Leaf form
	Path  string
	Op    string
	Value interface{}

	// Composite forms
	And []*FilterNode
	Or  []*FilterNode
	Not *FilterNode
}

// IsLeaf reports whether the node is a field/operator/value leaf.
func (n *FilterNode) IsLeaf() bool {
	return len(n.And) == 0 && len(n.Or) == 0 && n.Not == nil
}

// Eq builds an equality leaf. Shorthand filter parameters use it.
func Eq(path string, value interface{}) *FilterNode {
	return &FilterNode{Path: path, Op: "eq", Value: value}
}

type filterJSON struct {
	Name *string       `json:"name"`
	Op   *string       `json:"op"`
	Val  interface{}   `json:"val"`
	And  []*FilterNode `json:"and"`
	Or   []*FilterNode `json:"or"`
	Not  *FilterNode   `json:"not"`
}

// UnmarshalJSON decodes one filter-tree node, enforcing that exactly one of
// the leaf/and/or/not forms is used.
func (n *FilterNode) UnmarshalJSON(data []byte) error {
	var raw filterJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	forms := 0
	if raw.Name != nil || raw.Op != nil {
		forms++
	}
	if len(raw.And) > 0 {
		forms++
	}
	if len(raw.Or) > 0 {
		forms++
	}
	if raw.Not != nil {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("filter node must be exactly one of a name/op leaf, and, or, not")
	}

	switch {
	case raw.Name != nil || raw.Op != nil:
		if raw.Name == nil || raw.Op == nil {
			return fmt.Errorf("filter leaf requires both name and op")
		}
		n.Path = *raw.Name
		n.Op = *raw.Op
		n.Value = raw.Val
	case len(raw.And) > 0:
		n.And = raw.And
	case len(raw.Or) > 0:
		n.Or = raw.Or
	default:
		n.Not = raw.Not
	}
	return nil
}

// ParseFilters decodes the JSON filter-tree form of the filter query
// parameter. The top-level array combines with AND.
func ParseFilters(raw string) ([]*FilterNode, error) {
	var nodes []*FilterNode
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, apierror.NewInvalidFilter(fmt.Sprintf("filters parameter is not valid JSON: %v", err))
	}
	return nodes, nil
}
