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
	"container/heap"
	"context"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
)

// AppendExec concatenates its children's outputs.
type AppendExec struct {
	baseExec
	children []Executor
	// cur indexes the child being drained; backward scans walk the list in
	// reverse.
	cur int
}

func newAppendExec(estate *ExecState, p *plan.Append, children []Executor) (*AppendExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &AppendExec{baseExec: b, children: children}
	if len(p.Children) > 0 {
		e.scanSlot.SetDesc(p.Children[0].Common().OutDesc(), true)
	}
	return e, nil
}

// Children exposes the branch executors for plan-tree walks.
func (e *AppendExec) Children() []Executor {
	return e.children
}

// Next implements Executor interface.
func (e *AppendExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			if e.estate.Direction == storage.Backward && e.cur >= len(e.children) {
				e.cur = len(e.children) - 1
			}
			if e.cur < 0 || e.cur >= len(e.children) {
				return nil, nil, false, nil
			}
			slot, err := e.children[e.cur].Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot != nil {
				return slot.Tuple(), nil, false, nil
			}
			if e.estate.Direction == storage.Backward {
				e.cur--
			} else {
				e.cur++
			}
		}
	})
}

// ReScan implements Executor interface.
func (e *AppendExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.cur = 0
	for _, c := range e.children {
		if err := c.ReScan(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Close implements Executor interface.
func (e *AppendExec) Close() error {
	var firstErr error
	for _, c := range e.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.closeBase()
	return errors.Trace(firstErr)
}

// mergeAppendItem is one child's head tuple in the merge heap.
type mergeAppendItem struct {
	child int
	t     *tuple.Tuple
}

// mergeAppendHeap orders child head tuples by the shared sort keys.
type mergeAppendHeap struct {
	items   []mergeAppendItem
	keyCols []int
	descs   []bool
	err     error
}

func (h *mergeAppendHeap) Len() int { return len(h.items) }

func (h *mergeAppendHeap) Less(i, j int) bool {
	a, b := h.items[i].t, h.items[j].t
	for k, col := range h.keyCols {
		c, err := a.Values[col].Compare(b.Values[col])
		if err != nil && h.err == nil {
			h.err = err
		}
		if k < len(h.descs) && h.descs[k] {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (h *mergeAppendHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *mergeAppendHeap) Push(x interface{}) {
	h.items = append(h.items, x.(mergeAppendItem))
}

func (h *mergeAppendHeap) Pop() interface{} {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

// MergeAppendExec merges sorted children preserving the shared key order.
// It does not support backward scans.
type MergeAppendExec struct {
	baseExec
	children []Executor
	h        *mergeAppendHeap
	primed   bool
}

func newMergeAppendExec(estate *ExecState, p *plan.MergeAppend, children []Executor) (*MergeAppendExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &MergeAppendExec{baseExec: b, children: children}
	e.h = &mergeAppendHeap{keyCols: p.KeyCols, descs: p.Descs}
	if len(p.Children) > 0 {
		e.scanSlot.SetDesc(p.Children[0].Common().OutDesc(), true)
	}
	return e, nil
}

func (e *MergeAppendExec) prime(ctx context.Context) error {
	e.h.items = e.h.items[:0]
	for i, c := range e.children {
		slot, err := c.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if slot != nil {
			e.h.items = append(e.h.items, mergeAppendItem{child: i, t: slot.Tuple().Clone()})
		}
	}
	heap.Init(e.h)
	if e.h.err != nil {
		return errors.Trace(e.h.err)
	}
	e.primed = true
	return nil
}

// Next implements Executor interface.
func (e *MergeAppendExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.estate.Direction == storage.Backward {
		return nil, errors.New("MergeAppend does not support backward scan")
	}
	if !e.primed {
		if err := e.prime(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.h.Len() == 0 {
			return nil, nil, false, nil
		}
		top := e.h.items[0]
		slot, err := e.children[top.child].Next(ctx)
		if err != nil {
			return nil, nil, false, errors.Trace(err)
		}
		if slot == nil {
			heap.Pop(e.h)
		} else {
			e.h.items[0] = mergeAppendItem{child: top.child, t: slot.Tuple().Clone()}
			heap.Fix(e.h, 0)
		}
		if e.h.err != nil {
			return nil, nil, false, errors.Trace(e.h.err)
		}
		return top.t, nil, true, nil
	})
}

// ReScan implements Executor interface.
func (e *MergeAppendExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.primed = false
	e.h.items = e.h.items[:0]
	for _, c := range e.children {
		if err := c.ReScan(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Close implements Executor interface.
func (e *MergeAppendExec) Close() error {
	var firstErr error
	for _, c := range e.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.closeBase()
	return errors.Trace(firstErr)
}
