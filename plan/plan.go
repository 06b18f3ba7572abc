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

// Package plan defines the physical plan tree consumed by the executor. The
// executor treats it as read-only; the dispatcher's type switch over Plan is
// the single place that knows the full node set.
package plan

import (
	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// CmdType is the command kind of a planned statement.
type CmdType int

// Command kinds.
const (
	CmdSelect CmdType = iota
	CmdInsert
	CmdUpdate
	CmdDelete
)

// String implements fmt.Stringer interface.
func (c CmdType) String() string {
	switch c {
	case CmdSelect:
		return "SELECT"
	case CmdInsert:
		return "INSERT"
	case CmdUpdate:
		return "UPDATE"
	case CmdDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// RangeTableEntry is one referenced relation.
type RangeTableEntry struct {
	Name string
	Rel  storage.Relation
}

// RowMarkKind is the lock strength of a row mark.
type RowMarkKind int

// Row mark kinds.
const (
	RowMarkForUpdate RowMarkKind = iota
	RowMarkForShare
)

// RowMark asks the executor to remember the ctid of each emitted row for a
// range-table entry, the source for WHERE CURRENT OF under FOR UPDATE.
type RowMark struct {
	RTIndex int
	Kind    RowMarkKind
}

// PlannedStmt is a fully planned statement.
type PlannedStmt struct {
	Cmd        CmdType
	Tree       Plan
	RangeTable []RangeTableEntry
	// ResultRelation indexes RangeTable for INSERT/UPDATE/DELETE; -1 for
	// none.
	ResultRelation int
	// IntoName names the SELECT INTO destination relation; empty for none.
	IntoName string
	RowMarks []RowMark
}

// Plan is the physical plan node sum type.
type Plan interface {
	Common() *CommonPlan
}

// CommonPlan is the head shared by every plan node: the output target list,
// the qualification and up to two children.
type CommonPlan struct {
	Targets []*TargetEntry
	Qual    []expression.Expression
	Left    Plan
	Right   Plan
}

// Common implements Plan interface.
func (p *CommonPlan) Common() *CommonPlan {
	return p
}

// OutDesc derives the output tuple descriptor from the target list.
func (p *CommonPlan) OutDesc() *tuple.Desc {
	cols := make([]tuple.ColumnInfo, len(p.Targets))
	for i, te := range p.Targets {
		cols[i] = tuple.ColumnInfo{Name: te.Name, Type: te.Type}
	}
	return tuple.NewDesc(cols...)
}

// SeqScan scans a heap relation in tid order.
type SeqScan struct {
	CommonPlan
	RTIndex int
}

// IndexScan scans a relation through a btree index over [Low, High].
type IndexScan struct {
	CommonPlan
	RTIndex   int
	IndexName string
	// Low and High are evaluated once per (re)scan; nil means unbounded.
	Low, High        expression.Expression
	LowInc, HighInc  bool
}

// IndexOnlyScan returns virtual tuples built from index keys without
// touching the heap. The self tid comes from the index scan descriptor.
type IndexOnlyScan struct {
	CommonPlan
	RTIndex   int
	IndexName string
	Low, High       expression.Expression
	LowInc, HighInc bool
}

// BitmapIndexScan produces a TID bitmap from an index range. It emits no
// tuples; only its bitmap output is consumed.
type BitmapIndexScan struct {
	CommonPlan
	RTIndex   int
	IndexName string
	Low, High       expression.Expression
	LowInc, HighInc bool
}

// BitmapAnd intersects child bitmaps. Zero children is a fatal error.
type BitmapAnd struct {
	CommonPlan
	Children []Plan
}

// BitmapOr unions child bitmaps. Zero children is a fatal error.
type BitmapOr struct {
	CommonPlan
	Children []Plan
}

// BitmapHeapScan fetches heap tuples for the bitmap produced by its child.
type BitmapHeapScan struct {
	CommonPlan
	RTIndex int
	// Bitmap is the BitmapIndexScan/BitmapAnd/BitmapOr child.
	Bitmap Plan
}

// TidRangeScan scans the tids in an evaluated ctid range.
type TidRangeScan struct {
	CommonPlan
	RTIndex int
	// Min/Max evaluate to ctid values encoded as (block<<16|offset)
	// bigints; nil means unbounded, NULL yields an empty result.
	Min, Max        expression.Expression
	MinInc, MaxInc  bool
}

// SubqueryScan scans the output of its subplan (Left).
type SubqueryScan struct {
	CommonPlan
}

// CteScan reads a shared tuplestore filled by the CTE leader plan. Sibling
// scans of the same name share one store; the first to initialize becomes
// the leader and owns the plan.
type CteScan struct {
	CommonPlan
	CTEName string
	// Leader is the CTE body plan, executed by the elected leader scan.
	Leader Plan
}

// WorkTableScan reads the recursive-union working table.
type WorkTableScan struct {
	CommonPlan
	WTName string
}

// NamedTuplestoreScan reads an externally registered tuplestore.
type NamedTuplestoreScan struct {
	CommonPlan
	StoreName string
}

// ValuesScan emits an inline VALUES list.
type ValuesScan struct {
	CommonPlan
	Rows [][]expression.Expression
}

// TableFuncColumn is one output column of a table function.
type TableFuncColumn struct {
	Name    string
	Type    *types.FieldType
	NotNull bool
	// Default fills rows where the function produced no value.
	Default expression.Expression
}

// TableFuncScan evaluates a table function (XMLTABLE-like) into rows.
type TableFuncScan struct {
	CommonPlan
	// RowSource produces one datum per output row.
	RowSource expression.Expression
	Columns   []TableFuncColumn
	// Namespaces are evaluated at init; a NULL URI is a fatal error.
	Namespaces []expression.Expression
}

// JoinType is the join shape.
type JoinType int

// Join types.
const (
	InnerJoin JoinType = iota
	LeftOuterJoin
)

// NestLoop joins by rescanning the inner subplan for each outer tuple. The
// inner side may reference the current outer tuple through OuterInput
// columns.
type NestLoop struct {
	CommonPlan
	Join     JoinType
	JoinQual []expression.Expression
}

// MergeClause is one merge-join key pair with its derived orderings.
type MergeClause struct {
	OuterKey expression.Expression
	InnerKey expression.Expression
	Desc     bool
}

// MergeJoin joins two inputs pre-sorted on the clause keys.
type MergeJoin struct {
	CommonPlan
	Join     JoinType
	Clauses  []MergeClause
	JoinQual []expression.Expression
}

// Hash is the build side of a hash join. It produces no tuples of its own;
// MultiExec builds the hash table from its child (Left).
type Hash struct {
	CommonPlan
	// Key evaluates the inner hash key against the scan slot.
	Key expression.Expression
}

// HashJoin probes the hash table built by its right child (a Hash node).
type HashJoin struct {
	CommonPlan
	Join JoinType
	// OuterKey evaluates the outer hash key.
	OuterKey expression.Expression
	JoinQual []expression.Expression
}

// Material buffers its child output for repeated or backward reads.
type Material struct {
	CommonPlan
}

// Sort sorts its child output. Sort keys come from the target entries'
// ResKey/ResKeyOp annotations.
type Sort struct {
	CommonPlan
}

// Unique removes consecutive duplicates from sorted input. When ByColumn is
// non-empty, tuples compare equal by that attribute's output form;
// otherwise by byte equality of the whole tuple body.
type Unique struct {
	CommonPlan
	ByColumn string
}

// Limit slices its child output by OFFSET/COUNT.
type Limit struct {
	CommonPlan
	Offset expression.Expression
	Count  expression.Expression
	// WithTies keeps emitting rows equal to the last in-window row under
	// TieClause.
	WithTies  bool
	TieClause []expression.Expression
	// TieCols are the attribute positions compared for ties.
	TieCols []int
}

// ProjectSet evaluates a target list containing top-level set-returning
// functions.
type ProjectSet struct {
	CommonPlan
}

// Result returns its child filtered by a one-time constant qualification,
// or a single synthetic tuple when childless.
type Result struct {
	CommonPlan
	ConstQual []expression.Expression
}

// Append concatenates its children.
type Append struct {
	CommonPlan
	Children []Plan
}

// MergeAppend merges sorted children preserving the shared key order.
// KeyCols index each child's output columns.
type MergeAppend struct {
	CommonPlan
	Children []Plan
	KeyCols  []int
	Descs    []bool
}

// RecursiveUnion drives a recursive CTE: Left is the non-recursive term,
// Right the recursive term reading WTName through a WorkTableScan. Dedup
// discards rows already emitted.
type RecursiveUnion struct {
	CommonPlan
	WTName string
	Dedup  bool
}

// SetOpCmd is the set operation kind.
type SetOpCmd int

// Set operations.
const (
	SetOpIntersect SetOpCmd = iota
	SetOpIntersectAll
	SetOpExcept
	SetOpExceptAll
)

// SetOp computes INTERSECT/EXCEPT over sorted input. FlagCol marks which
// side each input row came from (0 = left, 1 = right); CmpCols are the
// grouping columns.
type SetOp struct {
	CommonPlan
	Cmd     SetOpCmd
	FlagCol int
	CmpCols []int
}

// Agg computes aggregates over its input, one group per distinct GroupCols
// value, or a single group when GroupCols is empty.
type Agg struct {
	CommonPlan
	Aggs      []*Aggref
	GroupCols []int
}

// Group emits group boundaries over sorted input: the first tuple of each
// group, or every tuple when ReturnAll is set.
type Group struct {
	CommonPlan
	GroupCols []int
	ReturnAll bool
}
