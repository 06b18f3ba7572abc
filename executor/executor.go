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

// Package executor is the pull-based query execution engine. Each physical
// plan node has a matching executor built by the dispatcher; the top-level
// driver opens the tree, pulls tuples from the root and applies the
// per-command side effect.
package executor

import (
	"context"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/cascadedb/cascade/config"
	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/terror"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// Error codes.
const (
	CodeUnknownPlan terror.ErrCode = iota + 1
	CodeMissingJunkAttribute
	CodeNullJunkAttribute
	CodeInvalidRowCountInLimit
	CodeInvalidRowCountInOffset
	CodeNullValueNotAllowed
	CodeNumericValueOutOfRange
	CodeFeatureNotSupported
	CodeQueryInterrupted
	CodeModifySequence
	CodeResultRelOnSelect
	CodeBitmapNoChildren
)

// Error instances.
var (
	ErrUnknownPlan           = terror.ClassExecutor.New(CodeUnknownPlan, "unknown plan node")
	ErrMissingJunkAttribute  = terror.ClassExecutor.New(CodeMissingJunkAttribute, "could not find junk attribute")
	ErrNullJunkAttribute     = terror.ClassExecutor.New(CodeNullJunkAttribute, "junk attribute is null")
	ErrInvalidRowCountLimit  = terror.ClassExecutor.New(CodeInvalidRowCountInLimit, "LIMIT must not be negative")
	ErrInvalidRowCountOffset = terror.ClassExecutor.New(CodeInvalidRowCountInOffset, "OFFSET must not be negative")
	ErrNullValueNotAllowed   = terror.ClassExecutor.New(CodeNullValueNotAllowed, "null value is not allowed")
	ErrNumericOutOfRange     = terror.ClassExecutor.New(CodeNumericValueOutOfRange, "numeric value out of range")
	ErrFeatureNotSupported   = terror.ClassExecutor.New(CodeFeatureNotSupported, "feature not supported")
	ErrQueryInterrupted      = terror.ClassExecutor.New(CodeQueryInterrupted, "query execution was interrupted")
	ErrModifySequence        = terror.ClassExecutor.New(CodeModifySequence, "cannot modify a sequence relation")
	ErrResultRelOnSelect     = terror.ClassExecutor.New(CodeResultRelOnSelect, "SELECT has no result relation")
	ErrBitmapNoChildren      = terror.ClassExecutor.New(CodeBitmapNoChildren, "bitmap node has no children")
)

// Executor is a physical operator. Next returns the slot holding the next
// tuple, or nil at end of scan in the current direction.
type Executor interface {
	Next(ctx context.Context) (*tuple.Slot, error)
	ReScan(ctx context.Context) error
	Close() error
}

// MarkRestorer is implemented by executors that can remember a position and
// return to it; merge join requires it of its inner side.
type MarkRestorer interface {
	MarkPos()
	RestorePos()
}

// bitmapExec is implemented by the non-tuple-producing bitmap nodes; their
// whole output is a TID bitmap.
type bitmapExec interface {
	MultiExec(ctx context.Context) (*storage.TIDBitmap, error)
}

// Trigger is a row-level trigger hook registered on a result relation. A
// BEFORE trigger may replace the new tuple; returning nil skips the row.
type Trigger struct {
	Name  string
	Event TriggerEvent
	Func  func(old, new *tuple.Tuple) (*tuple.Tuple, error)
}

// TriggerEvent selects when a trigger fires.
type TriggerEvent int

// Trigger events.
const (
	BeforeInsert TriggerEvent = iota
	AfterInsert
	BeforeDelete
	AfterDelete
	BeforeUpdate
	AfterUpdate
)

// ResultRelInfo bundles an open result relation with its indexes and
// triggers.
type ResultRelInfo struct {
	Rel      storage.Relation
	Indexes  []storage.Index
	Triggers []*Trigger
	locked   bool
}

// TestHooks are the optional delay hooks used by tests; nil members are
// disabled.
type TestHooks struct {
	Locks *storage.AdvisoryLocks
	// StartDelayLockID is taken and released immediately before Start.
	StartDelayLockID int64
}

// CteShared is the coordination state of one CTE shared between sibling
// scans: the leader's store plus the leader mark.
type CteShared struct {
	Store     *tuplestore.Store
	LeaderSet bool
	// Plan is the CTE body executor, built by the leader and advanced by
	// whichever sibling scan needs more rows.
	Plan Executor
	// Done is set once the body plan has been drained into the store.
	Done bool
}

// ExecState is the per-execution state threaded through every operator.
type ExecState struct {
	Stmt      *plan.PlannedStmt
	Catalog   storage.Catalog
	Snapshot  storage.Snapshot
	Direction storage.ScanDirection

	ExternParams []types.Datum
	ExecParams   []types.Datum

	TupleTable *tuple.Table
	JunkFilter *JunkFilter
	ResultRel  *ResultRelInfo
	IntoRel    storage.Relation
	RowMarks   []*ExecRowMark

	// Processed counts tuples emitted by the top-level driver.
	Processed uint64

	Cfg     *config.Config
	workMem int64

	interrupted atomic.Bool

	cteShared   map[string]*CteShared
	workTables  map[string]*tuplestore.Store
	namedStores map[string]*tuplestore.Store

	Hooks *TestHooks

	// Root is the built executor tree, populated by Start and walked by
	// WHERE CURRENT OF.
	Root Executor

	// curOuterSlot is the innermost enclosing nest loop's outer hold slot
	// while its inner subtree is being built; contexts created in that
	// subtree resolve OuterInput columns against it.
	curOuterSlot *tuple.Slot
}

// ExecRowMark records the latest ctid emitted for a marked range-table
// entry.
type ExecRowMark struct {
	RTIndex int
	Kind    plan.RowMarkKind
	Current tuple.ItemPointer
	Valid   bool
}

// NewExecState creates execution state over a catalog and snapshot.
func NewExecState(stmt *plan.PlannedStmt, cat storage.Catalog, snap storage.Snapshot, cfg *config.Config) (*ExecState, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	workMem, err := cfg.WorkMemBytes()
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &ExecState{
		Stmt:        stmt,
		Catalog:     cat,
		Snapshot:    snap,
		Direction:   storage.Forward,
		Cfg:         cfg,
		workMem:     workMem,
		cteShared:   make(map[string]*CteShared),
		workTables:  make(map[string]*tuplestore.Store),
		namedStores: make(map[string]*tuplestore.Store),
	}
	for _, rm := range stmt.RowMarks {
		e.RowMarks = append(e.RowMarks, &ExecRowMark{RTIndex: rm.RTIndex, Kind: rm.Kind})
	}
	return e, nil
}

// Interrupt requests cancellation; the next interrupt poll fails with
// ErrQueryInterrupted.
func (e *ExecState) Interrupt() {
	e.interrupted.Store(true)
}

// CheckInterrupt polls the interrupt flag and the context.
func (e *ExecState) CheckInterrupt(ctx context.Context) error {
	if e.interrupted.Load() {
		return ErrQueryInterrupted
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ErrQueryInterrupted.Gen("query execution was interrupted: %v", ctx.Err())
		default:
		}
	}
	return nil
}

// WorkMem returns the per-operator memory budget in bytes.
func (e *ExecState) WorkMem() int64 {
	return e.workMem
}

// TempDir returns the spill directory.
func (e *ExecState) TempDir() string {
	return e.Cfg.TempDir
}

// Relation resolves a range-table index to its open relation.
func (e *ExecState) Relation(rtIndex int) (storage.Relation, error) {
	if rtIndex < 0 || rtIndex >= len(e.Stmt.RangeTable) {
		return nil, errors.Errorf("range table index %d out of range", rtIndex)
	}
	rte := e.Stmt.RangeTable[rtIndex]
	if rte.Rel != nil {
		return rte.Rel, nil
	}
	rel, err := e.Catalog.Relation(rte.Name)
	return rel, errors.Trace(err)
}

// RegisterNamedStore exposes an externally filled tuplestore to
// NamedTuplestoreScan nodes.
func (e *ExecState) RegisterNamedStore(name string, st *tuplestore.Store) {
	e.namedStores[name] = st
}

// cte returns the shared state for a CTE name, creating it on first use.
func (e *ExecState) cte(name string) *CteShared {
	cs, ok := e.cteShared[name]
	if !ok {
		cs = &CteShared{Store: tuplestore.New(e.workMem, e.TempDir())}
		e.cteShared[name] = cs
	}
	return cs
}

// workTable returns the working table registered under name.
func (e *ExecState) workTable(name string) (*tuplestore.Store, error) {
	wt, ok := e.workTables[name]
	if !ok {
		return nil, errors.Errorf("no working table %q; WorkTableScan outside RecursiveUnion", name)
	}
	return wt, nil
}

// allocSlot reserves a slot from the tuple table.
func (e *ExecState) allocSlot() (*tuple.Slot, error) {
	s, err := e.TupleTable.Alloc()
	return s, errors.Trace(err)
}

// newExprContext creates an expression context bound to this execution's
// parameter arrays.
func (e *ExecState) newExprContext() *expression.ExprContext {
	ec := expression.NewExprContext()
	ec.ExternParams = e.ExternParams
	ec.ExecParams = e.ExecParams
	ec.OuterSlot = e.curOuterSlot
	return ec
}

// markRow records the ctid last emitted for a marked range table entry.
func (e *ExecState) markRow(rtIndex int, tid tuple.ItemPointer) {
	for _, rm := range e.RowMarks {
		if rm.RTIndex == rtIndex {
			rm.Current = tid
			rm.Valid = true
		}
	}
}
