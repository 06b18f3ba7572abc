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
)

// BitmapIndexScanExec collects the tids of an index range into a TID
// bitmap. It never produces tuples; its consumers call MultiExec.
type BitmapIndexScanExec struct {
	estate *ExecState
	node   *plan.BitmapIndexScan
	ectx   *expression.ExprContext
	rel    storage.Relation
	index  storage.Index
}

func newBitmapIndexScanExec(estate *ExecState, p *plan.BitmapIndexScan) (*BitmapIndexScanExec, error) {
	e := &BitmapIndexScanExec{estate: estate, node: p, ectx: estate.newExprContext()}
	var err error
	if e.rel, err = estate.Relation(p.RTIndex); err != nil {
		return nil, errors.Trace(err)
	}
	if e.index, err = findIndex(e.rel, p.IndexName); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

// MultiExec implements bitmapExec interface.
func (e *BitmapIndexScanExec) MultiExec(ctx context.Context) (*storage.TIDBitmap, error) {
	bm := storage.NewTIDBitmap()
	bnd, err := evalIndexBounds(e.node.Low, e.node.High, e.node.LowInc, e.node.HighInc, e.ectx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if bnd.empty {
		return bm, nil
	}
	scan, err := e.index.BeginScan(bnd.low, bnd.high, bnd.lowInc, bnd.highInc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer scan.Close()
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		_, tid, ok, err := scan.Next(storage.Forward)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !ok {
			return bm, nil
		}
		bm.Add(tid)
	}
}

// Next implements Executor interface. Bitmap nodes have no tuple output.
func (e *BitmapIndexScanExec) Next(context.Context) (*tuple.Slot, error) {
	return nil, errors.New("BitmapIndexScan does not produce tuples")
}

// ReScan implements Executor interface.
func (e *BitmapIndexScanExec) ReScan(context.Context) error {
	return nil
}

// Close implements Executor interface.
func (e *BitmapIndexScanExec) Close() error {
	return nil
}

// BitmapAndExec intersects child bitmaps.
type BitmapAndExec struct {
	estate   *ExecState
	children []Executor
}

func newBitmapAndExec(estate *ExecState, children []Executor) *BitmapAndExec {
	return &BitmapAndExec{estate: estate, children: children}
}

// MultiExec implements bitmapExec interface.
func (e *BitmapAndExec) MultiExec(ctx context.Context) (*storage.TIDBitmap, error) {
	if len(e.children) == 0 {
		return nil, ErrBitmapNoChildren.Gen("BitmapAnd has no children")
	}
	var result *storage.TIDBitmap
	for _, c := range e.children {
		be, ok := c.(bitmapExec)
		if !ok {
			return nil, errors.New("BitmapAnd child is not a bitmap node")
		}
		bm, err := be.MultiExec(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
		// Intersection only shrinks; stop early once empty.
		if result.IsEmpty() {
			return result, nil
		}
	}
	return result, nil
}

// Next implements Executor interface.
func (e *BitmapAndExec) Next(context.Context) (*tuple.Slot, error) {
	return nil, errors.New("BitmapAnd does not produce tuples")
}

// ReScan implements Executor interface.
func (e *BitmapAndExec) ReScan(ctx context.Context) error {
	for _, c := range e.children {
		if err := c.ReScan(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Close implements Executor interface.
func (e *BitmapAndExec) Close() error {
	var firstErr error
	for _, c := range e.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return errors.Trace(firstErr)
}

// BitmapOrExec unions child bitmaps.
type BitmapOrExec struct {
	estate   *ExecState
	children []Executor
}

func newBitmapOrExec(estate *ExecState, children []Executor) *BitmapOrExec {
	return &BitmapOrExec{estate: estate, children: children}
}

// MultiExec implements bitmapExec interface.
func (e *BitmapOrExec) MultiExec(ctx context.Context) (*storage.TIDBitmap, error) {
	if len(e.children) == 0 {
		return nil, ErrBitmapNoChildren.Gen("BitmapOr has no children")
	}
	var result *storage.TIDBitmap
	for _, c := range e.children {
		be, ok := c.(bitmapExec)
		if !ok {
			return nil, errors.New("BitmapOr child is not a bitmap node")
		}
		bm, err := be.MultiExec(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if result == nil {
			result = bm
		} else {
			result.Or(bm)
		}
	}
	return result, nil
}

// Next implements Executor interface.
func (e *BitmapOrExec) Next(context.Context) (*tuple.Slot, error) {
	return nil, errors.New("BitmapOr does not produce tuples")
}

// ReScan implements Executor interface.
func (e *BitmapOrExec) ReScan(ctx context.Context) error {
	for _, c := range e.children {
		if err := c.ReScan(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Close implements Executor interface.
func (e *BitmapOrExec) Close() error {
	var firstErr error
	for _, c := range e.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return errors.Trace(firstErr)
}

// BitmapHeapScanExec fetches heap tuples in tid order for the bitmap built
// by its child.
type BitmapHeapScanExec struct {
	baseExec
	rtIndex int
	rel     storage.Relation
	bitmap  Executor

	it *storage.TIDBitmapIterator
}

func newBitmapHeapScanExec(estate *ExecState, p *plan.BitmapHeapScan, bitmap Executor) (*BitmapHeapScanExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &BitmapHeapScanExec{baseExec: b, rtIndex: p.RTIndex, bitmap: bitmap}
	if e.rel, err = estate.Relation(p.RTIndex); err != nil {
		return nil, errors.Trace(err)
	}
	e.scanSlot.SetDesc(e.rel.Desc(), true)
	return e, nil
}

// Next implements Executor interface.
func (e *BitmapHeapScanExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.it == nil {
		be, ok := e.bitmap.(bitmapExec)
		if !ok {
			return nil, errors.New("BitmapHeapScan child is not a bitmap node")
		}
		bm, err := be.MultiExec(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		e.it = bm.Iterator()
	}
	slot, err := e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			tid, ok := e.it.Next()
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

// ReScan implements Executor interface. The bitmap is rebuilt on the next
// fetch.
func (e *BitmapHeapScanExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.it = nil
	return errors.Trace(e.bitmap.ReScan(ctx))
}

// Close implements Executor interface.
func (e *BitmapHeapScanExec) Close() error {
	err := e.bitmap.Close()
	e.closeBase()
	return errors.Trace(err)
}
