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
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// nullTuple builds an all-NULL tuple matching a descriptor's arity, the
// inner side of a null-extended outer join row.
func nullTuple(d *tuple.Desc) *tuple.Tuple {
	vals := make([]types.Datum, d.Len())
	return tuple.NewTuple(vals...)
}

// NestLoopExec joins by rescanning the inner subplan for every outer tuple.
// The inner subtree sees the current outer tuple through the outer hold
// slot.
type NestLoopExec struct {
	baseExec
	joinType plan.JoinType
	joinQual []*expression.ExprState

	outer, inner Executor
	// outerHold keeps a borrowed reference to the current outer tuple for
	// the whole inner scan.
	outerHold *tuple.Slot
	innerHold *tuple.Slot
	nullInner *tuple.Tuple

	needOuter bool
	matched   bool
	done      bool
}

func newNestLoopExec(estate *ExecState, p *plan.NestLoop, outer, inner Executor, outerHold *tuple.Slot) (*NestLoopExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &NestLoopExec{
		baseExec:  b,
		joinType:  p.Join,
		joinQual:  expression.InitList(p.JoinQual),
		outer:     outer,
		inner:     inner,
		outerHold: outerHold,
		needOuter: true,
	}
	if e.innerHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	outerHold.SetDesc(p.Left.Common().OutDesc(), true)
	innerDesc := p.Right.Common().OutDesc()
	e.innerHold.SetDesc(innerDesc, true)
	e.nullInner = nullTuple(innerDesc)
	e.ectx.OuterSlot = e.outerHold
	e.ectx.InnerSlot = e.innerHold
	return e, nil
}

// Next implements Executor interface.
func (e *NestLoopExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.done {
		return nil, nil
	}
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		if e.needOuter {
			oslot, err := e.outer.Next(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if oslot == nil {
				e.done = true
				return nil, nil
			}
			if err := e.outerHold.Store(oslot.Tuple(), nil, false); err != nil {
				return nil, errors.Trace(err)
			}
			if err := e.inner.ReScan(ctx); err != nil {
				return nil, errors.Trace(err)
			}
			e.needOuter = false
			e.matched = false
		}
		islot, err := e.inner.Next(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if islot == nil {
			e.needOuter = true
			if e.joinType == plan.LeftOuterJoin && !e.matched {
				slot, emitted, err := e.emit(e.nullInner, true)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if emitted {
					return slot, nil
				}
			}
			continue
		}
		if err := e.innerHold.Store(islot.Tuple(), nil, false); err != nil {
			return nil, errors.Trace(err)
		}
		slot, emitted, err := e.emit(nil, false)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if emitted {
			return slot, nil
		}
	}
}

// emit runs the join qualification and the node qualification against the
// current (outer, inner) pair and projects on success. nullExtended skips
// the join qualification, which by construction cannot pass on an all-NULL
// inner.
func (e *NestLoopExec) emit(inner *tuple.Tuple, nullExtended bool) (*tuple.Slot, bool, error) {
	if inner != nil {
		if err := e.innerHold.Store(inner, nil, false); err != nil {
			return nil, false, errors.Trace(err)
		}
	}
	e.ectx.ResetPerTuple()
	if !nullExtended {
		pass, err := expression.ExecQual(e.joinQual, e.ectx)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if !pass {
			return nil, false, nil
		}
		e.matched = true
	}
	pass, err := expression.ExecQual(e.qual, e.ectx)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	if !pass {
		return nil, false, nil
	}
	slot, err := e.proj.Project(e.ectx)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	return slot, true, nil
}

// ReScan implements Executor interface.
func (e *NestLoopExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.needOuter = true
	e.matched = false
	e.done = false
	e.outerHold.Clear()
	e.innerHold.Clear()
	return errors.Trace(e.outer.ReScan(ctx))
}

// Close implements Executor interface.
func (e *NestLoopExec) Close() error {
	err1 := e.outer.Close()
	err2 := e.inner.Close()
	e.outerHold.Clear()
	e.innerHold.Clear()
	e.closeBase()
	if err1 != nil {
		return errors.Trace(err1)
	}
	return errors.Trace(err2)
}
