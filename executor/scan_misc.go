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

package executor

import (
	"context"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// SubqueryScanExec scans the output of its subplan, applying its own
// qualification and projection on top.
type SubqueryScanExec struct {
	baseExec
	child Executor
}

func newSubqueryScanExec(estate *ExecState, p *plan.SubqueryScan, child Executor) (*SubqueryScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if p.Left != nil {
		b.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	}
	return &SubqueryScanExec{baseExec: b, child: child}, nil
}

// Next implements Executor interface.
func (e *SubqueryScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		slot, err := e.child.Next(ctx)
		if err != nil || slot == nil {
			return nil, nil, false, errors.Trace(err)
		}
		return slot.Tuple(), nil, false, nil
	})
}

// ReScan implements Executor interface.
func (e *SubqueryScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *SubqueryScanExec) Close() error {
	err := e.child.Close()
	e.closeBase()
	return errors.Trace(err)
}

// CteScanExec reads one CTE through a shared tuplestore. The first sibling
// to initialize becomes the leader and owns the body plan; any sibling that
// runs out of buffered rows advances the body and appends to the store.
type CteScanExec struct {
	baseExec
	name     string
	shared   *CteShared
	ptr      int
	isLeader bool
}

func newCteScanExec(estate *ExecState, p *plan.CteScan, buildLeader func() (Executor, error)) (*CteScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &CteScanExec{baseExec: b, name: p.CTEName}
	e.shared = estate.cte(p.CTEName)
	if !e.shared.LeaderSet {
		e.shared.LeaderSet = true
		e.isLeader = true
		if e.shared.Plan, err = buildLeader(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	e.ptr = e.shared.Store.AllocReadPointer()
	return e, nil
}

// Next implements Executor interface.
func (e *CteScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.estate.Direction != storage.Forward {
		return nil, ErrFeatureNotSupported.Gen("backward scan of a CTE is not supported")
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		st := e.shared.Store
		for {
			st.SelectReadPointer(e.ptr)
			t, err := st.Get(storage.Forward)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if t != nil {
				return t, nil, false, nil
			}
			if e.shared.Done {
				return nil, nil, false, nil
			}
			slot, err := e.shared.Plan.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot == nil {
				e.shared.Done = true
				continue
			}
			if err := st.Put(slot.Tuple().Clone()); err != nil {
				return nil, nil, false, errors.Trace(err)
			}
		}
	})
}

// ReScan implements Executor interface. Only this scan's read pointer moves;
// the buffered CTE output stays.
func (e *CteScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.shared.Store.SelectReadPointer(e.ptr)
	e.shared.Store.Rescan()
	return nil
}

// MarkPos implements MarkRestorer interface.
func (e *CteScanExec) MarkPos() {
	e.shared.Store.SelectReadPointer(e.ptr)
	e.shared.Store.MarkPos()
}

// RestorePos implements MarkRestorer interface.
func (e *CteScanExec) RestorePos() {
	e.pendingSeq = nil
	e.shared.Store.SelectReadPointer(e.ptr)
	e.shared.Store.RestorePos()
}

// Close implements Executor interface. The leader tears down the body plan
// and the shared store.
func (e *CteScanExec) Close() error {
	var err error
	if e.isLeader && e.shared.Plan != nil {
		err = e.shared.Plan.Close()
		e.shared.Plan = nil
		e.shared.Store.End()
	}
	e.closeBase()
	return errors.Trace(err)
}

// WorkTableScanExec reads the recursive-union working table. The union node
// swaps in a fresh store before each iteration and rescans this node.
type WorkTableScanExec struct {
	baseExec
	wtName string
	store  *tuplestore.Store
}

func newWorkTableScanExec(estate *ExecState, p *plan.WorkTableScan) (*WorkTableScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &WorkTableScanExec{baseExec: b, wtName: p.WTName}, nil
}

// Next implements Executor interface.
func (e *WorkTableScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.estate.Direction != storage.Forward {
		return nil, ErrFeatureNotSupported.Gen("backward scan of a work table is not supported")
	}
	if e.store == nil {
		st, err := e.estate.workTable(e.wtName)
		if err != nil {
			return nil, errors.Trace(err)
		}
		e.store = st
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		t, err := e.store.Get(storage.Forward)
		return t, nil, false, errors.Trace(err)
	})
}

// ReScan implements Executor interface. The store pointer is refreshed since
// the union replaces the working table between iterations.
func (e *WorkTableScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	st, err := e.estate.workTable(e.wtName)
	if err != nil {
		return errors.Trace(err)
	}
	e.store = st
	e.store.Rescan()
	return nil
}

// Close implements Executor interface. The union node owns the store.
func (e *WorkTableScanExec) Close() error {
	e.closeBase()
	return nil
}

// NamedTuplestoreScanExec reads a tuplestore registered on the execution
// state under a name, e.g. a trigger transition table.
type NamedTuplestoreScanExec struct {
	baseExec
	store *tuplestore.Store
	ptr   int
}

func newNamedTuplestoreScanExec(estate *ExecState, p *plan.NamedTuplestoreScan) (*NamedTuplestoreScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	st, ok := estate.namedStores[p.StoreName]
	if !ok {
		return nil, errors.Errorf("no registered tuplestore %q", p.StoreName)
	}
	e := &NamedTuplestoreScanExec{baseExec: b, store: st}
	e.ptr = st.AllocReadPointer()
	return e, nil
}

// Next implements Executor interface.
func (e *NamedTuplestoreScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.estate.Direction != storage.Forward {
		return nil, ErrFeatureNotSupported.Gen("backward scan of a named tuplestore is not supported")
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		e.store.SelectReadPointer(e.ptr)
		t, err := e.store.Get(storage.Forward)
		return t, nil, false, errors.Trace(err)
	})
}

// ReScan implements Executor interface.
func (e *NamedTuplestoreScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.store.SelectReadPointer(e.ptr)
	e.store.Rescan()
	return nil
}

// Close implements Executor interface. The registrant owns the store.
func (e *NamedTuplestoreScanExec) Close() error {
	e.closeBase()
	return nil
}

// ValuesScanExec emits an inline VALUES list, evaluating each row's
// expressions on demand.
type ValuesScanExec struct {
	baseExec
	rows [][]expression.Expression
	// pos sits between rows: 0 is before the first, len(rows) past the last.
	pos int
}

func newValuesScanExec(estate *ExecState, p *plan.ValuesScan) (*ValuesScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &ValuesScanExec{baseExec: b, rows: p.Rows}, nil
}

func (e *ValuesScanExec) evalRow(i int) (*tuple.Tuple, error) {
	exprs := e.rows[i]
	vals := make([]types.Datum, len(exprs))
	for j, ex := range exprs {
		d, err := ex.Eval(e.ectx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		vals[j] = d
	}
	return tuple.NewTuple(vals...), nil
}

// Next implements Executor interface.
func (e *ValuesScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		switch e.estate.Direction {
		case storage.Forward:
			if e.pos >= len(e.rows) {
				return nil, nil, false, nil
			}
			t, err := e.evalRow(e.pos)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			e.pos++
			return t, nil, true, nil
		case storage.Backward:
			if e.pos <= 0 {
				return nil, nil, false, nil
			}
			e.pos--
			t, err := e.evalRow(e.pos)
			return t, nil, true, errors.Trace(err)
		}
		return nil, nil, false, nil
	})
}

// ReScan implements Executor interface.
func (e *ValuesScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.pos = 0
	return nil
}

// Close implements Executor interface.
func (e *ValuesScanExec) Close() error {
	e.closeBase()
	return nil
}

// TableFuncScanExec evaluates a table function into rows, applying column
// defaults and NOT NULL checks.
type TableFuncScanExec struct {
	baseExec
	node *plan.TableFuncScan

	src    expression.SetResult
	opened bool
	// scalar holds the single row of a non-set row source.
	scalar     types.Datum
	scalarDone bool
}

func newTableFuncScanExec(estate *ExecState, p *plan.TableFuncScan) (*TableFuncScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &TableFuncScanExec{baseExec: b, node: p}
	for _, ns := range p.Namespaces {
		d, err := ns.Eval(e.ectx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if d.IsNull() {
			return nil, ErrNullValueNotAllowed.Gen("namespace URI must not be null")
		}
	}
	return e, nil
}

func (e *TableFuncScanExec) open() error {
	e.opened = true
	if se, ok := e.node.RowSource.(expression.SetExpression); ok {
		set, err := se.EvalSet(e.ectx)
		if err != nil {
			return errors.Trace(err)
		}
		e.src = set
		return nil
	}
	d, err := e.node.RowSource.Eval(e.ectx)
	if err != nil {
		return errors.Trace(err)
	}
	e.scalar = d
	e.scalarDone = false
	return nil
}

func (e *TableFuncScanExec) buildRow(rowVal types.Datum) (*tuple.Tuple, error) {
	vals := make([]types.Datum, len(e.node.Columns))
	for i, col := range e.node.Columns {
		v := rowVal
		if v.IsNull() && col.Default != nil {
			d, err := col.Default.Eval(e.ectx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			v = d
		}
		if col.NotNull && v.IsNull() {
			return nil, ErrNullValueNotAllowed.Gen("null value in column %q violates not-null constraint", col.Name)
		}
		vals[i] = v
	}
	return tuple.NewTuple(vals...), nil
}

// Next implements Executor interface.
func (e *TableFuncScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.estate.Direction != storage.Forward {
		return nil, ErrFeatureNotSupported.Gen("backward scan of a table function is not supported")
	}
	if !e.opened {
		if err := e.open(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		var rowVal types.Datum
		if e.src != nil {
			d, ok, err := e.src.Next()
			if err != nil || !ok {
				return nil, nil, false, errors.Trace(err)
			}
			rowVal = d
		} else {
			if e.scalarDone {
				return nil, nil, false, nil
			}
			e.scalarDone = true
			rowVal = e.scalar
		}
		t, err := e.buildRow(rowVal)
		return t, nil, true, errors.Trace(err)
	})
}

// ReScan implements Executor interface.
func (e *TableFuncScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.opened = false
	e.src = nil
	return nil
}

// Close implements Executor interface.
func (e *TableFuncScanExec) Close() error {
	e.closeBase()
	return nil
}
