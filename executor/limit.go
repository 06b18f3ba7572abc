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
)

// LimitExec slices its child's output by OFFSET/COUNT. Under WITH TIES it
// keeps emitting rows that tie with the last in-window row on the tie
// columns.
type LimitExec struct {
	baseExec
	child Executor
	node  *plan.Limit

	offset   int64
	count    int64
	noCount  bool
	computed bool

	// emitted counts rows returned inside the window, ties included.
	emitted       int64
	lastTuple     *tuple.Tuple
	tiesExhausted bool
	eof           bool
}

func newLimitExec(estate *ExecState, p *plan.Limit, child Executor) (*LimitExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &LimitExec{baseExec: b, child: child, node: p}
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	return e, nil
}

// compute evaluates the OFFSET and COUNT expressions once per (re)scan.
// NULL means "not specified"; negative values are user errors.
func (e *LimitExec) compute() error {
	e.offset = 0
	e.noCount = true
	if e.node.Offset != nil {
		d, err := e.node.Offset.Eval(e.ectx)
		if err != nil {
			return errors.Trace(err)
		}
		if !d.IsNull() {
			v, err := d.AsInt64()
			if err != nil {
				return errors.Trace(err)
			}
			if v < 0 {
				return ErrInvalidRowCountOffset.Gen("OFFSET must not be negative, got %d", v)
			}
			e.offset = v
		}
	}
	if e.node.Count != nil {
		d, err := e.node.Count.Eval(e.ectx)
		if err != nil {
			return errors.Trace(err)
		}
		if !d.IsNull() {
			v, err := d.AsInt64()
			if err != nil {
				return errors.Trace(err)
			}
			if v < 0 {
				return ErrInvalidRowCountLimit.Gen("LIMIT must not be negative, got %d", v)
			}
			e.count = v
			e.noCount = false
		}
	}
	e.computed = true
	return nil
}

// ties reports whether t ties with the last in-window row on the tie
// columns.
func (e *LimitExec) ties(t *tuple.Tuple) bool {
	if e.lastTuple == nil {
		return false
	}
	cols := e.node.TieCols
	if len(cols) == 0 {
		cols = make([]int, len(t.Values))
		for i := range cols {
			cols[i] = i
		}
	}
	for _, c := range cols {
		av, bv := e.lastTuple.Values[c], t.Values[c]
		if av.IsNull() != bv.IsNull() {
			return false
		}
		if !av.IsNull() && !bytes.Equal(av.RawBytes(), bv.RawBytes()) {
			return false
		}
	}
	return true
}

func (e *LimitExec) pull(ctx context.Context) (*tuple.Tuple, error) {
	slot, err := e.child.Next(ctx)
	if err != nil || slot == nil {
		return nil, errors.Trace(err)
	}
	return slot.Tuple(), nil
}

// Next implements Executor interface.
func (e *LimitExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.estate.Direction == storage.Backward {
		return e.nextBackward(ctx)
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.eof {
			return nil, nil, false, nil
		}
		if !e.computed {
			if err := e.compute(); err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			for i := int64(0); i < e.offset; i++ {
				t, err := e.pull(ctx)
				if err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				if t == nil {
					e.eof = true
					return nil, nil, false, nil
				}
			}
		}
		if !e.noCount && e.emitted >= e.count {
			if !e.node.WithTies || e.tiesExhausted {
				return nil, nil, false, nil
			}
			t, err := e.pull(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if t == nil {
				e.eof = true
				return nil, nil, false, nil
			}
			if !e.ties(t) {
				e.tiesExhausted = true
				return nil, nil, false, nil
			}
			e.emitted++
			return t, nil, false, nil
		}
		t, err := e.pull(ctx)
		if err != nil {
			return nil, nil, false, errors.Trace(err)
		}
		if t == nil {
			e.eof = true
			return nil, nil, false, nil
		}
		e.emitted++
		e.lastTuple = t.Clone()
		return t, nil, false, nil
	})
}

// nextBackward steps back over rows already emitted; the child must support
// backward reads.
func (e *LimitExec) nextBackward(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.emitted <= 0 {
			return nil, nil, false, nil
		}
		t, err := e.pull(ctx)
		if err != nil || t == nil {
			return nil, nil, false, errors.Trace(err)
		}
		e.emitted--
		e.eof = false
		return t, nil, false, nil
	})
}

// ReScan implements Executor interface. OFFSET and COUNT are re-evaluated
// since they may reference parameters.
func (e *LimitExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.computed = false
	e.emitted = 0
	e.lastTuple = nil
	e.tiesExhausted = false
	e.eof = false
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *LimitExec) Close() error {
	err := e.child.Close()
	e.lastTuple = nil
	e.closeBase()
	return errors.Trace(err)
}
