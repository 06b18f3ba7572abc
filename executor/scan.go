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
)

// SeqScanExec scans a heap relation in tid order.
type SeqScanExec struct {
	baseExec
	rtIndex int
	rel     storage.Relation
	scan    storage.HeapScan
}

func newSeqScanExec(estate *ExecState, p *plan.SeqScan) (*SeqScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &SeqScanExec{baseExec: b, rtIndex: p.RTIndex}
	if e.rel, err = estate.Relation(p.RTIndex); err != nil {
		return nil, errors.Trace(err)
	}
	e.scanSlot.SetDesc(e.rel.Desc(), true)
	if e.scan, err = e.rel.BeginScan(estate.Snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

// Next implements Executor interface.
func (e *SeqScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	slot, err := e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		t, pin, err := e.scan.Next(e.estate.Direction)
		return t, pin, false, errors.Trace(err)
	})
	if err != nil || slot == nil {
		return nil, errors.Trace(err)
	}
	e.estate.markRow(e.rtIndex, e.scanSlot.Tuple().Self)
	return slot, nil
}

// ReScan implements Executor interface.
func (e *SeqScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	return errors.Trace(e.scan.Rescan())
}

// MarkPos implements MarkRestorer interface.
func (e *SeqScanExec) MarkPos() {
	e.scan.MarkPos()
}

// RestorePos implements MarkRestorer interface.
func (e *SeqScanExec) RestorePos() {
	e.pendingSeq = nil
	e.scan.RestorePos()
}

// Close implements Executor interface.
func (e *SeqScanExec) Close() error {
	e.scan.Close()
	e.closeBase()
	return nil
}

// indexBounds evaluates index scan bound expressions once per (re)scan.
// A NULL bound makes the scan empty.
type indexBounds struct {
	low, high        *types.Datum
	lowInc, highInc  bool
	empty            bool
}

func evalIndexBounds(lowExpr, highExpr expression.Expression, lowInc, highInc bool, ectx *expression.ExprContext) (indexBounds, error) {
	var bnd indexBounds
	bnd.lowInc, bnd.highInc = lowInc, highInc
	if lowExpr != nil {
		d, err := lowExpr.Eval(ectx)
		if err != nil {
			return bnd, errors.Trace(err)
		}
		if d.IsNull() {
			bnd.empty = true
			return bnd, nil
		}
		bnd.low = &d
	}
	if highExpr != nil {
		d, err := highExpr.Eval(ectx)
		if err != nil {
			return bnd, errors.Trace(err)
		}
		if d.IsNull() {
			bnd.empty = true
			return bnd, nil
		}
		bnd.high = &d
	}
	return bnd, nil
}

func findIndex(rel storage.Relation, name string) (storage.Index, error) {
	for _, idx := range rel.Indexes() {
		if idx.Name() == name {
			return idx, nil
		}
	}
	return nil, errors.Errorf("relation %q has no index %q", rel.Name(), name)
}

// IndexScanExec scans a relation through a btree index range, fetching each
// matched tuple from the heap.
type IndexScanExec struct {
	baseExec
	node    *plan.IndexScan
	rtIndex int
	rel     storage.Relation
	index   storage.Index
	scan    storage.IndexScan
	empty   bool
}

func newIndexScanExec(estate *ExecState, p *plan.IndexScan) (*IndexScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &IndexScanExec{baseExec: b, node: p, rtIndex: p.RTIndex}
	if e.rel, err = estate.Relation(p.RTIndex); err != nil {
		return nil, errors.Trace(err)
	}
	e.scanSlot.SetDesc(e.rel.Desc(), true)
	if e.index, err = findIndex(e.rel, p.IndexName); err != nil {
		return nil, errors.Trace(err)
	}
	if err = e.open(); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

func (e *IndexScanExec) open() error {
	bnd, err := evalIndexBounds(e.node.Low, e.node.High, e.node.LowInc, e.node.HighInc, e.ectx)
	if err != nil {
		return errors.Trace(err)
	}
	e.empty = bnd.empty
	if bnd.empty {
		e.scan = nil
		return nil
	}
	e.scan, err = e.index.BeginScan(bnd.low, bnd.high, bnd.lowInc, bnd.highInc)
	return errors.Trace(err)
}

// Next implements Executor interface.
func (e *IndexScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	slot, err := e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.empty {
			return nil, nil, false, nil
		}
		for {
			_, tid, ok, err := e.scan.Next(e.estate.Direction)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if !ok {
				return nil, nil, false, nil
			}
			t, pin, err := e.rel.Fetch(tid, e.estate.Snapshot)
			if err != nil {
				if storage.ErrTupleNotFound.Equal(err) {
					continue
				}
				return nil, nil, false, errors.Trace(err)
			}
			return t, pin, false, nil
		}
	})
	if err != nil || slot == nil {
		return nil, errors.Trace(err)
	}
	e.estate.markRow(e.rtIndex, e.scanSlot.Tuple().Self)
	return slot, nil
}

// ReScan implements Executor interface. Bounds referencing parameters are
// re-evaluated.
func (e *IndexScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	if e.scan != nil {
		e.scan.Close()
	}
	return errors.Trace(e.open())
}

// Close implements Executor interface.
func (e *IndexScanExec) Close() error {
	if e.scan != nil {
		e.scan.Close()
	}
	e.closeBase()
	return nil
}

// IndexOnlyScanExec answers from index keys alone. Each result is a virtual
// single-attribute tuple carrying the indexed key; the heap is never
// touched.
type IndexOnlyScanExec struct {
	baseExec
	node  *plan.IndexOnlyScan
	rel   storage.Relation
	index storage.Index
	scan  storage.IndexScan
	empty bool
}

func newIndexOnlyScanExec(estate *ExecState, p *plan.IndexOnlyScan) (*IndexOnlyScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &IndexOnlyScanExec{baseExec: b, node: p}
	if e.rel, err = estate.Relation(p.RTIndex); err != nil {
		return nil, errors.Trace(err)
	}
	if e.index, err = findIndex(e.rel, p.IndexName); err != nil {
		return nil, errors.Trace(err)
	}
	keyCol := e.rel.Desc().Cols[e.index.KeyColumn()]
	e.scanSlot.SetDesc(tuple.NewDesc(keyCol), true)
	if err = e.open(); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

func (e *IndexOnlyScanExec) open() error {
	bnd, err := evalIndexBounds(e.node.Low, e.node.High, e.node.LowInc, e.node.HighInc, e.ectx)
	if err != nil {
		return errors.Trace(err)
	}
	e.empty = bnd.empty
	if bnd.empty {
		e.scan = nil
		return nil
	}
	e.scan, err = e.index.BeginScan(bnd.low, bnd.high, bnd.lowInc, bnd.highInc)
	return errors.Trace(err)
}

// Next implements Executor interface.
func (e *IndexOnlyScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.empty {
			return nil, nil, false, nil
		}
		key, tid, ok, err := e.scan.Next(e.estate.Direction)
		if err != nil || !ok {
			return nil, nil, false, errors.Trace(err)
		}
		t := tuple.NewTuple(key)
		t.Self = tid
		return t, nil, true, nil
	})
}

// ReScan implements Executor interface.
func (e *IndexOnlyScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	if e.scan != nil {
		e.scan.Close()
	}
	return errors.Trace(e.open())
}

// Close implements Executor interface.
func (e *IndexOnlyScanExec) Close() error {
	if e.scan != nil {
		e.scan.Close()
	}
	e.closeBase()
	return nil
}

// TidRangeScanExec scans the tuples whose ctid falls in an evaluated range.
type TidRangeScanExec struct {
	baseExec
	node *plan.TidRangeScan
	rel  storage.Relation
	scan storage.HeapScan

	min, max tuple.ItemPointer
	empty    bool
}

func newTidRangeScanExec(estate *ExecState, p *plan.TidRangeScan) (*TidRangeScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &TidRangeScanExec{baseExec: b, node: p}
	if e.rel, err = estate.Relation(p.RTIndex); err != nil {
		return nil, errors.Trace(err)
	}
	e.scanSlot.SetDesc(e.rel.Desc(), true)
	if e.scan, err = e.rel.BeginScan(estate.Snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	if err = e.evalRange(); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

// evalRange normalizes the range to inclusive [min, max] endpoints. A NULL
// bound makes the scan empty.
func (e *TidRangeScanExec) evalRange() error {
	e.min = tuple.ItemPointer{Block: 0, Offset: 1}
	e.max = tuple.ItemPointer{Block: ^uint32(0), Offset: ^uint16(0)}
	e.empty = false
	if e.node.Min != nil {
		d, err := e.node.Min.Eval(e.ectx)
		if err != nil {
			return errors.Trace(err)
		}
		if d.IsNull() {
			e.empty = true
			return nil
		}
		v, err := d.AsInt64()
		if err != nil {
			return errors.Trace(err)
		}
		e.min = tuple.DecodeItemPointer(uint64(v))
		if !e.node.MinInc {
			e.min = e.min.Next()
		}
	}
	if e.node.Max != nil {
		d, err := e.node.Max.Eval(e.ectx)
		if err != nil {
			return errors.Trace(err)
		}
		if d.IsNull() {
			e.empty = true
			return nil
		}
		v, err := d.AsInt64()
		if err != nil {
			return errors.Trace(err)
		}
		e.max = tuple.DecodeItemPointer(uint64(v))
		if !e.node.MaxInc {
			e.max = e.max.Prev()
		}
	}
	return nil
}

// Next implements Executor interface.
func (e *TidRangeScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.empty {
			return nil, nil, false, nil
		}
		for {
			t, pin, err := e.scan.Next(e.estate.Direction)
			if err != nil || t == nil {
				return nil, nil, false, errors.Trace(err)
			}
			tid := t.Self
			if tid.Less(e.min) || e.max.Less(tid) {
				if pin != nil {
					pin.Release()
				}
				continue
			}
			return t, pin, false, nil
		}
	})
}

// ReScan implements Executor interface.
func (e *TidRangeScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	if err := e.evalRange(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.scan.Rescan())
}

// Close implements Executor interface.
func (e *TidRangeScanExec) Close() error {
	e.scan.Close()
	e.closeBase()
	return nil
}
