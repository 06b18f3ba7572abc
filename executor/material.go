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
	"bytes"
	"context"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/util/tuplesort"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// MaterialExec buffers its child's output so it can be re-read, read
// backward, and marked/restored without disturbing the child.
type MaterialExec struct {
	baseExec
	child Executor
	store *tuplestore.Store
	// childDone is set once the child has been fully drained into the
	// store.
	childDone bool
}

func newMaterialExec(estate *ExecState, p *plan.Material, child Executor) (*MaterialExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &MaterialExec{baseExec: b, child: child}
	e.store = tuplestore.New(estate.WorkMem(), estate.TempDir())
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	return e, nil
}

// Next implements Executor interface.
func (e *MaterialExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			t, err := e.store.Get(e.estate.Direction)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if t != nil {
				return t, nil, false, nil
			}
			if e.estate.Direction != storage.Forward || e.childDone {
				return nil, nil, false, nil
			}
			slot, err := e.child.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot == nil {
				e.childDone = true
				continue
			}
			if err := e.store.Put(slot.Tuple().Clone()); err != nil {
				return nil, nil, false, errors.Trace(err)
			}
		}
	})
}

// ReScan implements Executor interface. The buffered output is kept; only
// the read position resets.
func (e *MaterialExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.store.Rescan()
	return nil
}

// MarkPos implements MarkRestorer interface.
func (e *MaterialExec) MarkPos() {
	e.store.MarkPos()
}

// RestorePos implements MarkRestorer interface.
func (e *MaterialExec) RestorePos() {
	e.pendingSeq = nil
	e.store.RestorePos()
}

// Close implements Executor interface.
func (e *MaterialExec) Close() error {
	err := e.child.Close()
	e.store.End()
	e.closeBase()
	return errors.Trace(err)
}

// sortKey is one resolved sort key: the attribute position and direction.
type sortKey struct {
	col  int
	desc bool
}

// SortExec sorts its child's output on the keys annotated in its target
// list. The sorted result supports both directions and mark/restore.
type SortExec struct {
	baseExec
	child  Executor
	keys   []sortKey
	sorter *tuplesort.Sorter
	sorted bool
}

func newSortExec(estate *ExecState, p *plan.Sort, child Executor) (*SortExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &SortExec{baseExec: b, child: child}
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	// ResKey numbers give the major-to-minor key order.
	maxKey := 0
	for _, te := range p.Targets {
		if te.ResKey > maxKey {
			maxKey = te.ResKey
		}
	}
	e.keys = make([]sortKey, maxKey)
	for i, te := range p.Targets {
		if te.ResKey > 0 {
			e.keys[te.ResKey-1] = sortKey{col: i, desc: te.ResKeyOp == plan.Descending}
		}
	}
	if maxKey == 0 {
		return nil, errors.New("Sort node has no sort keys")
	}
	e.sorter = tuplesort.New(e.compare, estate.WorkMem(), estate.TempDir())
	return e, nil
}

func (e *SortExec) compare(a, b *tuple.Tuple) (int, error) {
	for _, k := range e.keys {
		c, err := a.Values[k.col].Compare(b.Values[k.col])
		if err != nil {
			return 0, errors.Trace(err)
		}
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func (e *SortExec) runSort(ctx context.Context) error {
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return errors.Trace(err)
		}
		slot, err := e.child.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if slot == nil {
			break
		}
		if err := e.sorter.Put(slot.Tuple().Clone()); err != nil {
			return errors.Trace(err)
		}
	}
	if err := e.sorter.PerformSort(); err != nil {
		return errors.Trace(err)
	}
	e.sorted = true
	return nil
}

// Next implements Executor interface.
func (e *SortExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if !e.sorted {
		if err := e.runSort(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		t, err := e.sorter.Get(e.estate.Direction)
		return t, nil, false, errors.Trace(err)
	})
}

// ReScan implements Executor interface. The sorted output is kept.
func (e *SortExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.sorter.Rescan()
	return nil
}

// MarkPos implements MarkRestorer interface.
func (e *SortExec) MarkPos() {
	e.sorter.MarkPos()
}

// RestorePos implements MarkRestorer interface.
func (e *SortExec) RestorePos() {
	e.pendingSeq = nil
	e.sorter.RestorePos()
}

// Close implements Executor interface.
func (e *SortExec) Close() error {
	err := e.child.Close()
	e.sorter.End()
	e.closeBase()
	return errors.Trace(err)
}

// UniqueExec drops consecutive duplicates from sorted input.
type UniqueExec struct {
	baseExec
	child    Executor
	byColumn string
	byCol    int

	last *tuple.Tuple
}

func newUniqueExec(estate *ExecState, p *plan.Unique, child Executor) (*UniqueExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &UniqueExec{baseExec: b, child: child, byColumn: p.ByColumn, byCol: -1}
	childDesc := p.Left.Common().OutDesc()
	e.scanSlot.SetDesc(childDesc, true)
	if p.ByColumn != "" {
		idx := childDesc.ColIndex(p.ByColumn)
		if idx < 0 {
			return nil, errors.Errorf("Unique: no column %q in input", p.ByColumn)
		}
		e.byCol = idx
	}
	return e, nil
}

// sameGroup compares two input tuples: by the configured attribute's output
// form, or by byte equality of the whole tuple.
func (e *UniqueExec) sameGroup(a, b *tuple.Tuple) bool {
	if e.byCol >= 0 {
		av, bv := a.Values[e.byCol], b.Values[e.byCol]
		if av.IsNull() || bv.IsNull() {
			return av.IsNull() && bv.IsNull()
		}
		return av.OutputForm() == bv.OutputForm()
	}
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		av, bv := a.Values[i], b.Values[i]
		if av.IsNull() != bv.IsNull() || av.Kind() != bv.Kind() {
			return false
		}
		if !bytes.Equal(av.RawBytes(), bv.RawBytes()) {
			return false
		}
	}
	return true
}

// Next implements Executor interface.
func (e *UniqueExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			slot, err := e.child.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot == nil {
				return nil, nil, false, nil
			}
			t := slot.Tuple()
			if e.last != nil && e.sameGroup(e.last, t) {
				continue
			}
			e.last = t.Clone()
			return t, nil, false, nil
		}
	})
}

// ReScan implements Executor interface.
func (e *UniqueExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.last = nil
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *UniqueExec) Close() error {
	err := e.child.Close()
	e.last = nil
	e.closeBase()
	return errors.Trace(err)
}
