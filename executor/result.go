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
)

// ResultExec filters its child by a one-time constant qualification, or
// emits a single synthetic tuple when childless.
type ResultExec struct {
	baseExec
	child     Executor
	constQual []*expression.ExprState

	checked   bool
	constFail bool
	// emitted tracks the single synthetic row of a childless Result.
	emitted bool
}

func newResultExec(estate *ExecState, p *plan.Result, child Executor) (*ResultExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &ResultExec{
		baseExec:  b,
		child:     child,
		constQual: expression.InitList(p.ConstQual),
	}
	if p.Left != nil {
		e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	}
	return e, nil
}

// Next implements Executor interface.
func (e *ResultExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if !e.checked {
		e.checked = true
		pass, err := expression.ExecQual(e.constQual, e.ectx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		e.constFail = !pass
	}
	if e.constFail {
		return nil, nil
	}
	if e.child == nil {
		return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
			if e.emitted {
				return nil, nil, false, nil
			}
			e.emitted = true
			return tuple.NewTuple(), nil, true, nil
		})
	}
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		slot, err := e.child.Next(ctx)
		if err != nil || slot == nil {
			return nil, nil, false, errors.Trace(err)
		}
		return slot.Tuple(), nil, false, nil
	})
}

// ReScan implements Executor interface. The constant qualification is
// re-checked since it may reference parameters.
func (e *ResultExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.checked = false
	e.constFail = false
	e.emitted = false
	if e.child != nil {
		return errors.Trace(e.child.ReScan(ctx))
	}
	return nil
}

// Close implements Executor interface.
func (e *ResultExec) Close() error {
	var err error
	if e.child != nil {
		err = e.child.Close()
	}
	e.closeBase()
	return errors.Trace(err)
}

// ProjectSetExec evaluates a target list containing top-level set-returning
// functions over its child's rows; the shared scan loop expands each input
// row into the lockstep product of its sets.
type ProjectSetExec struct {
	baseExec
	child Executor
}

func newProjectSetExec(estate *ExecState, p *plan.ProjectSet, child Executor) (*ProjectSetExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &ProjectSetExec{baseExec: b, child: child}
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	return e, nil
}

// Next implements Executor interface.
func (e *ProjectSetExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		slot, err := e.child.Next(ctx)
		if err != nil || slot == nil {
			return nil, nil, false, errors.Trace(err)
		}
		return slot.Tuple(), nil, false, nil
	})
}

// ReScan implements Executor interface.
func (e *ProjectSetExec) ReScan(ctx context.Context) error {
	e.resetScan()
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *ProjectSetExec) Close() error {
	err := e.child.Close()
	e.closeBase()
	return errors.Trace(err)
}
