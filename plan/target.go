// Copyright 2025 The Cascade Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plan

import (
	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/types"
)

// SortOrder is the direction annotation of a sort key.
type SortOrder int

// Sort orders.
const (
	Ascending SortOrder = iota
	Descending
)

// TargetEntry is one output column of a plan node.
type TargetEntry struct {
	Expr expression.Expression
	Name string
	Type *types.FieldType
	// ResJunk marks planner-internal columns stripped by the junk filter
	// before results leave the executor.
	ResJunk bool
	// ResKey is the 1-based sort key ordinal for Sort nodes; 0 means not a
	// key.
	ResKey int
	// ResKeyOp is the key direction when ResKey is set.
	ResKeyOp SortOrder
}

// NewTargetEntry creates a plain output column.
func NewTargetEntry(name string, typ *types.FieldType, expr expression.Expression) *TargetEntry {
	return &TargetEntry{Expr: expr, Name: name, Type: typ}
}

// Junk marks the entry resjunk and returns it.
func (te *TargetEntry) Junk() *TargetEntry {
	te.ResJunk = true
	return te
}

// SortBy annotates the entry as sort key n with the given order and
// returns it.
func (te *TargetEntry) SortBy(n int, order SortOrder) *TargetEntry {
	te.ResKey = n
	te.ResKeyOp = order
	return te
}

// SortItem is one ORDER BY item of an ordered-set aggregate.
type SortItem struct {
	Expr       expression.Expression
	Desc       bool
	NullsFirst bool
}

// Aggref is one aggregate call in an Agg node's target list.
type Aggref struct {
	// Name resolves the aggregate definition (transition and final
	// functions) in the function table.
	Name string
	// Args are the aggregated arguments, evaluated per input row.
	Args []expression.Expression
	// DirectArgs are the ordered-set direct arguments (e.g. the percentile
	// fraction), evaluated once per group.
	DirectArgs []expression.Expression
	// OrderBy declares the within-group input order for ordered-set
	// aggregates.
	OrderBy []*SortItem
	// Out is the position of this aggregate's result in the node's target
	// list; the target entry there must be an AggResult column.
	Out int
}

// AggResult is a target-list placeholder that reads aggregate result i of
// the enclosing Agg node. The Agg node publishes results through its scan
// slot.
type AggResult struct {
	expression.Column
}

// NewAggResult creates the placeholder for aggregate result position i.
func NewAggResult(i int, name string) *AggResult {
	return &AggResult{Column: expression.Column{Input: expression.ScanInput, Index: i, Name: name}}
}
